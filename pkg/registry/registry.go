// Package registry tracks which live connections belong to which groups.
//
// The registry is purely in-memory and process-lifetime only: it is a cache
// over durable group existence, rebuilt from scratch on restart. A group
// missing from the registry says nothing about whether its durable record
// still exists.
package registry

import "sync"

// Registry is a bidirectional index of groups to members. M is the member
// handle type (a connection pointer in the server, a plain string in tests).
//
// All methods are safe for concurrent use. The invariant maintained is
// bijective consistency: m appears in MembersOf(g) iff g appears in
// GroupsOf(m).
type Registry[M comparable] struct {
	mu      sync.RWMutex
	groups  map[string]map[M]struct{}
	members map[M]map[string]struct{}

	// systemID is the one group whose registry entry survives emptiness.
	systemID string
}

// New creates an empty registry.
func New[M comparable]() *Registry[M] {
	return &Registry[M]{
		groups:  make(map[string]map[M]struct{}),
		members: make(map[M]map[string]struct{}),
	}
}

// SetSystemGroup marks groupID as the System group and ensures its entry
// exists. The System entry is never pruned, so an empty System group stays
// observable while every other empty group disappears.
func (r *Registry[M]) SetSystemGroup(groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.systemID = groupID
	if _, ok := r.groups[groupID]; !ok {
		r.groups[groupID] = make(map[M]struct{})
	}
}

// Join adds m to groupID. Idempotent: joining a group twice is a no-op.
func (r *Registry[M]) Join(m M, groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.groups[groupID]
	if !ok {
		set = make(map[M]struct{})
		r.groups[groupID] = set
	}
	if _, ok := set[m]; ok {
		return
	}
	set[m] = struct{}{}

	groupSet, ok := r.members[m]
	if !ok {
		groupSet = make(map[string]struct{})
		r.members[m] = groupSet
	}
	groupSet[groupID] = struct{}{}
}

// Leave removes m from groupID, pruning the group entry if it became empty
// and is not the System group.
func (r *Registry[M]) Leave(m M, groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(m, groupID)
}

// LeaveAll removes m from every group it belongs to.
func (r *Registry[M]) LeaveAll(m M) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for groupID := range r.members[m] {
		r.leaveLocked(m, groupID)
	}
}

func (r *Registry[M]) leaveLocked(m M, groupID string) {
	groupSet, ok := r.members[m]
	if !ok {
		return
	}
	if _, ok := groupSet[groupID]; !ok {
		return
	}
	delete(groupSet, groupID)
	if len(groupSet) == 0 {
		delete(r.members, m)
	}

	set := r.groups[groupID]
	delete(set, m)
	if len(set) == 0 && groupID != r.systemID {
		delete(r.groups, groupID)
	}
}

// MembersOf returns the members of groupID, possibly empty.
func (r *Registry[M]) MembersOf(groupID string) []M {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.groups[groupID]
	out := make([]M, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out
}

// GroupsOf returns the group ids m belongs to, possibly empty.
func (r *Registry[M]) GroupsOf(m M) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.members[m]
	out := make([]string, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	return out
}

// Contains reports whether groupID currently has a registry entry. An entry
// exists while the group has members, or always for the System group.
func (r *Registry[M]) Contains(groupID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.groups[groupID]
	return ok
}

// GroupCount returns the number of groups with registry entries.
func (r *Registry[M]) GroupCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.groups)
}

// MemberCount returns the number of members in groupID.
func (r *Registry[M]) MemberCount(groupID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.groups[groupID])
}

// MembershipCount returns the total number of (member, group) pairs.
func (r *Registry[M]) MembershipCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, members := range r.groups {
		total += len(members)
	}
	return total
}
