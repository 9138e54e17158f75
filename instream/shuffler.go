package instream

import "math/rand"

// shuffler implements the streaming reservoir shuffle from spec.md §4.3:
// a bounded buffer of size w holds up to w pending items; once full, each
// newly fed item either swaps into a uniformly random slot (emitting the
// slot's previous occupant) with probability w/n, where n is the item's
// 1-indexed position in the stream (classic Algorithm R), or is emitted
// immediately untouched. Every fed item is eventually emitted exactly
// once: directly, by a later swap, or by the final drain.
type shuffler struct {
	w   int
	n   int // items fed so far (1-indexed position of the current item), for the w/n probability
	rnd *rand.Rand
	buf []item
}

func newShuffler(w int, rnd *rand.Rand) *shuffler {
	return &shuffler{w: w, rnd: rnd}
}

// feed pushes it into the shuffler. It returns (item, true) when an item
// is ready to emit immediately, or (item{}, false) when it was only
// buffered and nothing is ready yet.
func (s *shuffler) feed(it item) (item, bool) {
	if s.w <= 0 {
		return it, true
	}
	s.n++
	if len(s.buf) < s.w {
		s.buf = append(s.buf, it)
		return item{}, false
	}
	p := float64(s.w) / float64(s.n)
	if s.rnd.Float64() < p {
		j := s.rnd.Intn(s.w)
		out := s.buf[j]
		s.buf[j] = it
		return out, true
	}
	return it, true
}

// drain empties the buffer in uniformly random order (Fisher-Yates),
// called once the upstream source is exhausted.
func (s *shuffler) drain() []item {
	buf := s.buf
	s.buf = nil
	for i := len(buf) - 1; i > 0; i-- {
		j := s.rnd.Intn(i + 1)
		buf[i], buf[j] = buf[j], buf[i]
	}
	return buf
}
