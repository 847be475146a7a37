package caxton

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDRoundTrip(t *testing.T) {
	id := NewID()
	require.False(t, id.IsNil())

	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	b := id.Bytes()
	require.Equal(t, id, IDFromBytes(b))
}

func TestParseIDInvalid(t *testing.T) {
	_, err := ParseID("not-a-uuid")
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestIDJSONRoundTrip(t *testing.T) {
	id := NewID()
	data, err := id.MarshalJSON()
	require.NoError(t, err)

	var out ID
	require.NoError(t, out.UnmarshalJSON(data))
	require.Equal(t, id, out)
}

func TestIDScanValue(t *testing.T) {
	id := NewID()
	v, err := id.Value()
	require.NoError(t, err)

	var scanned ID
	require.NoError(t, scanned.Scan(v))
	require.Equal(t, id, scanned)

	var nilScanned ID
	require.NoError(t, nilScanned.Scan(nil))
	require.True(t, nilScanned.IsNil())
}
