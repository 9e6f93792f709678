package session

import "sort"

// PresenceSet is the set of usernames currently connected to a room.
// It is owned by the session loop and is not safe for concurrent use.
type PresenceSet struct {
	members map[string]struct{}
}

// NewPresenceSet returns an empty set.
func NewPresenceSet() *PresenceSet {
	return &PresenceSet{members: make(map[string]struct{})}
}

// Add inserts name and reports whether it was absent.
func (p *PresenceSet) Add(name string) bool {
	if name == "" {
		return false
	}
	if _, ok := p.members[name]; ok {
		return false
	}
	p.members[name] = struct{}{}
	return true
}

// Remove deletes name and reports whether it was present.
func (p *PresenceSet) Remove(name string) bool {
	if _, ok := p.members[name]; !ok {
		return false
	}
	delete(p.members, name)
	return true
}

// Clear empties the set and reports whether anything was removed.
func (p *PresenceSet) Clear() bool {
	if len(p.members) == 0 {
		return false
	}
	clear(p.members)
	return true
}

func (p *PresenceSet) Has(name string) bool {
	_, ok := p.members[name]
	return ok
}

func (p *PresenceSet) Len() int { return len(p.members) }

// List returns the members sorted for stable display.
func (p *PresenceSet) List() []string {
	out := make([]string, 0, len(p.members))
	for name := range p.members {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
