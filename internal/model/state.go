package model

// Machine is a transition table keyed by the current state. A transition that
// is not listed is rejected, whatever status a caller claims.
type Machine[S ~string] map[S][]S

// Allows reports whether the table permits moving from -> to.
func (m Machine[S]) Allows(from, to S) bool {
	for _, next := range m[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (m Machine[S]) Terminal(s S) bool {
	return len(m[s]) == 0
}
