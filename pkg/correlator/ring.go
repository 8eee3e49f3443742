package correlator

// outcomeRing remembers the last N outcomes for prompt ids nobody was waiting for
// yet. A backend that finishes before Submit registers the id must not strand it.
type outcomeRing struct {
	ids   []string
	next  int
	byID  map[string]outcome
	limit int
}

type outcome struct {
	err  error
	slot int
}

func newOutcomeRing(limit int) *outcomeRing {
	if limit < 1 {
		limit = 1
	}
	return &outcomeRing{
		ids:   make([]string, 0, limit),
		byID:  make(map[string]outcome, limit),
		limit: limit,
	}
}

// add records the outcome, evicting the oldest entry when full. The first outcome
// recorded for an id wins.
func (r *outcomeRing) add(id string, err error) {
	if _, ok := r.byID[id]; ok {
		return
	}
	slot := len(r.ids)
	if slot < r.limit {
		r.ids = append(r.ids, id)
	} else {
		slot = r.next
		if old, ok := r.byID[r.ids[slot]]; ok && old.slot == slot {
			delete(r.byID, r.ids[slot])
		}
		r.ids[slot] = id
		r.next = (r.next + 1) % r.limit
	}
	r.byID[id] = outcome{err: err, slot: slot}
}

// take removes and returns the outcome for id.
func (r *outcomeRing) take(id string) (bool, error) {
	o, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	delete(r.byID, id)
	r.ids[o.slot] = ""
	return true, o.err
}

func (r *outcomeRing) len() int {
	return len(r.byID)
}
