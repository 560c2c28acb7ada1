package usecase

import (
	"sort"
	"strings"
	"sync"
)

// MembershipSet is a concurrent set of database names compared without
// regard to case.
type MembershipSet struct {
	mu    sync.Mutex
	names map[string]string
}

func NewMembershipSet(names ...string) *MembershipSet {
	s := &MembershipSet{names: make(map[string]string)}
	for _, n := range names {
		s.Add(n)
	}
	return s
}

// Add claims name. It returns false if name was already present.
func (s *MembershipSet) Add(name string) bool {
	key := strings.ToLower(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.names[key]; ok {
		return false
	}
	s.names[key] = name
	return true
}

func (s *MembershipSet) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.names, strings.ToLower(name))
}

func (s *MembershipSet) Contains(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.names[strings.ToLower(name)]
	return ok
}

func (s *MembershipSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

// Names returns the members in sorted order.
func (s *MembershipSet) Names() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.names))
	for _, n := range s.names {
		names = append(names, n)
	}
	s.mu.Unlock()

	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names
}
