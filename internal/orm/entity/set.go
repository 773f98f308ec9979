package entity

// Set is an insertion-ordered set of entities compared by identity
type Set struct {
	items []Entity
	index map[Entity]int
}

// NewSet creates a set holding the given entities in order
func NewSet(entities ...Entity) *Set {
	s := &Set{index: make(map[Entity]int)}
	for _, e := range entities {
		s.Add(e)
	}
	return s
}

// Add appends e unless it is already a member. It returns true if e was added.
func (s *Set) Add(e Entity) bool {
	if s.index == nil {
		s.index = make(map[Entity]int)
	}
	if _, ok := s.index[e]; ok {
		return false
	}
	s.index[e] = len(s.items)
	s.items = append(s.items, e)
	return true
}

// AddAll adds every member of other in order
func (s *Set) AddAll(other *Set) {
	for _, e := range other.Items() {
		s.Add(e)
	}
}

// Contains returns true if e is a member
func (s *Set) Contains(e Entity) bool {
	_, ok := s.index[e]
	return ok
}

// Remove drops e. It returns false if e is not a member.
func (s *Set) Remove(e Entity) bool {
	i, ok := s.index[e]
	if !ok {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	delete(s.index, e)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j]] = j
	}
	return true
}

// Items returns the members in insertion order
func (s *Set) Items() []Entity {
	if s == nil {
		return nil
	}
	return append([]Entity(nil), s.items...)
}

// Len returns the number of members
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Clear removes every member
func (s *Set) Clear() {
	s.items = nil
	s.index = make(map[Entity]int)
}
