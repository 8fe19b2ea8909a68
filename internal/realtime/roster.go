package realtime

// roster is the ordered set of online user ids. Duplicate adds and absent
// removes are no-ops, so server delta pushes can be applied blindly.
type roster struct {
	order   []string
	members map[string]struct{}
}

func newRoster() *roster {
	return &roster{members: make(map[string]struct{})}
}

// replace swaps the roster wholesale with a full snapshot
func (r *roster) replace(ids []string) {
	r.order = r.order[:0]
	r.members = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := r.members[id]; ok {
			continue
		}
		r.members[id] = struct{}{}
		r.order = append(r.order, id)
	}
}

// add inserts id at the end; returns false when already present
func (r *roster) add(id string) bool {
	if _, ok := r.members[id]; ok {
		return false
	}
	r.members[id] = struct{}{}
	r.order = append(r.order, id)
	return true
}

// remove deletes id; returns false when absent
func (r *roster) remove(id string) bool {
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// snapshot returns a copy of the roster in arrival order
func (r *roster) snapshot() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *roster) contains(id string) bool {
	_, ok := r.members[id]
	return ok
}

func (r *roster) size() int {
	return len(r.order)
}

func (r *roster) clear() {
	r.order = nil
	r.members = make(map[string]struct{})
}
