package registry

import (
	"sort"
	"sync"
)

// GroupIndex maps a group key to the set of identifiers scheduled under it.
//
// It holds no ownership over identifiers; it is a derived index kept in sync
// opportunistically when registry entries come and go. Removing an id that is
// not indexed is a no-op.
type GroupIndex struct {
	mu     sync.Mutex
	groups map[string]map[string]struct{}
}

func NewGroupIndex() *GroupIndex {
	return &GroupIndex{groups: map[string]map[string]struct{}{}}
}

func (g *GroupIndex) AddMember(group, id string) {
	if group == "" || id == "" {
		return
	}
	g.mu.Lock()
	set := g.groups[group]
	if set == nil {
		set = map[string]struct{}{}
		g.groups[group] = set
	}
	set[id] = struct{}{}
	g.mu.Unlock()
}

// RemoveMember drops id from every group. Group count is small, so the scan
// is acceptable. Empty sets are pruned.
func (g *GroupIndex) RemoveMember(id string) {
	if id == "" {
		return
	}
	g.mu.Lock()
	for group, set := range g.groups {
		if _, ok := set[id]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(g.groups, group)
			}
		}
	}
	g.mu.Unlock()
}

// MembersOf returns the ids in group, sorted for stable iteration.
func (g *GroupIndex) MembersOf(group string) []string {
	g.mu.Lock()
	set := g.groups[group]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	g.mu.Unlock()
	sort.Strings(out)
	return out
}

func (g *GroupIndex) CountOf(group string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.groups[group])
}

// Clear drops every group.
func (g *GroupIndex) Clear() {
	g.mu.Lock()
	g.groups = map[string]map[string]struct{}{}
	g.mu.Unlock()
}
