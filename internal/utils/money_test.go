package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundRupees(t *testing.T) {
	assert.Equal(t, 100.0, RoundRupees(99.5))
	assert.Equal(t, 99.0, RoundRupees(99.4))
	assert.Equal(t, 0.0, RoundRupees(0))
}

func TestRoundPaise(t *testing.T) {
	assert.Equal(t, 11.09, RoundPaise(11.0889))
	assert.Equal(t, 11.09, RoundPaise(11.085))
	assert.Equal(t, 50.0, RoundPaise(50))
	// Guard against float drift on sums of tenths.
	assert.Equal(t, 0.3, RoundPaise(0.1+0.2))
}
