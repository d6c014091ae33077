package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSource_Deterministic(t *testing.T) {
	a := New(42)
	b := New(42)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Int63(), b.Int63())
	}
}

func TestSource_DifferentSeeds(t *testing.T) {
	a := NewSource(1)
	b := NewSource(2)
	same := 0
	for i := 0; i < 32; i++ {
		if a.Uint64() == b.Uint64() {
			same++
		}
	}
	assert.Less(t, same, 32)
}

func TestSource_ZeroSeedIsUsable(t *testing.T) {
	s := NewSource(0)
	assert.NotZero(t, s.state)
	assert.NotEqual(t, s.Uint64(), s.Uint64())
}

func TestSource_Int63NonNegative(t *testing.T) {
	s := NewSource(7)
	for i := 0; i < 1000; i++ {
		assert.GreaterOrEqual(t, s.Int63(), int64(0))
	}
}

func TestDerive(t *testing.T) {
	assert.Equal(t, Derive(5, 1), Derive(5, 1))
	assert.NotEqual(t, Derive(5, 1), Derive(5, 2))
}

func TestResolveSeed(t *testing.T) {
	assert.Equal(t, int64(9), ResolveSeed(9))
	assert.NotZero(t, ResolveSeed(0))
}
