// Package rng provides the seedable random source shared by the topology,
// workload and layout stages. Every draw in a run flows from an explicit
// *rand.Rand built here, so a recorded seed reproduces the run.
package rng

import (
	"math/rand"
	"time"
)

// Source is a xorshift* pseudorandom number generator.
type Source struct {
	state uint64
}

var (
	_ rand.Source64 = (*Source)(nil)
)

// NewSource returns a xorshift* source for the given seed.
func NewSource(seed int64) *Source {
	s := &Source{}
	s.Seed(seed)
	return s
}

// Seed seeds the source. The state of xorshift must never be zero, so the
// seed is scrambled through one splitmix64 step first.
func (s *Source) Seed(seed int64) {
	z := uint64(seed) + 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	if z == 0 {
		z = 0x9e3779b97f4a7c15
	}
	s.state = z
}

// Uint64 returns a random number.
func (s *Source) Uint64() uint64 {
	state := s.state
	state ^= state >> 12
	state ^= state << 25
	state ^= state >> 27
	s.state = state
	return state * 2685821657736338717
}

// Int63 returns a non-negative random number.
func (s *Source) Int63() int64 {
	return int64(s.Uint64() >> 1)
}

// New returns a *rand.Rand driven by a xorshift* source.
func New(seed int64) *rand.Rand {
	return rand.New(NewSource(seed))
}

// Derive returns a seed for a named sub-stream of seed, so that independent
// stages can share one configured seed without sharing draws.
func Derive(seed int64, stream uint64) int64 {
	s := NewSource(seed ^ int64(stream*0x9e3779b97f4a7c15))
	return int64(s.Uint64())
}

// ResolveSeed returns seed, or a time-derived seed when seed is zero.
func ResolveSeed(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	if s := time.Now().UnixNano(); s != 0 {
		return s
	}
	return 1
}
