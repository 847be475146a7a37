package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/caxton-io/caxton/llm/circuitbreaker"
)

func TestCircuitThreshold(t *testing.T) {
	assert.Equal(t, 1, circuitThreshold(0))
	assert.Equal(t, 1, circuitThreshold(-0.5))
	assert.Equal(t, circuitbreaker.DefaultConfig().Threshold, circuitThreshold(1))
	assert.Equal(t, circuitbreaker.DefaultConfig().Threshold, circuitThreshold(2))
	assert.Equal(t, 4, circuitThreshold(0.25))
	assert.Equal(t, 1, circuitThreshold(0.9))
}
