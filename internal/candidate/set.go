package candidate

// Set is an insertion-ordered collection of candidates deduplicated by Key.
// It is not safe for concurrent use.
type Set struct {
	items []VideoCandidate
	seen  map[string]struct{}
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{seen: make(map[string]struct{})}
}

// Add appends c unless a candidate with the same normalized URL is present.
// It reports whether c was added.
func (s *Set) Add(c VideoCandidate) bool {
	k := Key(c.URL)
	if _, ok := s.seen[k]; ok {
		return false
	}
	s.seen[k] = struct{}{}
	s.items = append(s.items, c)
	return true
}

// Len returns the number of candidates in the set.
func (s *Set) Len() int {
	return len(s.items)
}

// List returns a copy of the candidates in discovery order.
func (s *Set) List() []VideoCandidate {
	out := make([]VideoCandidate, len(s.items))
	copy(out, s.items)
	return out
}
