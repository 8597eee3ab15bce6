package cluster

import "math/rand/v2"

// selector picks the next endpoint index. The first sequential pick is 0.
type selector struct {
	count  int
	random bool
	intn   func(n int) int
	index  int
}

func newSelector(count int, random bool, intn func(n int) int) *selector {
	if intn == nil {
		intn = rand.IntN
	}
	return &selector{count: count, random: random, intn: intn, index: -1}
}

func (s *selector) next() int {
	if s.random {
		s.index = s.intn(s.count)
		return s.index
	}
	s.index++
	if s.index >= s.count {
		s.index = 0
	}
	return s.index
}
