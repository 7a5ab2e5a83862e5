package connection

import "sync"

// callbackQueue runs listener callbacks one at a time in the order they were
// pushed. Whoever finds the queue idle drains it; everyone else returns
// immediately, so a callback may re-enter the Manager without deadlocking.
type callbackQueue struct {
	mu       sync.Mutex
	pending  []func()
	draining bool
}

// push appends fn. Callers hold the Manager lock so that pushes follow the
// order of the state mutations they describe.
func (q *callbackQueue) push(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
}

// drain runs pending callbacks until the queue is empty. Must be called
// without the Manager lock held.
func (q *callbackQueue) drain() {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true

	for len(q.pending) > 0 {
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]

		q.mu.Unlock()
		fn()
		q.mu.Lock()
	}

	q.draining = false
	q.mu.Unlock()
}

// registry maps message types to handlers.
type registry struct {
	byType map[MessageType]map[ListenerID]Handler
	types  map[ListenerID]MessageType
	state  map[ListenerID]StateListener
}

func newRegistry() *registry {
	return &registry{
		byType: make(map[MessageType]map[ListenerID]Handler),
		types:  make(map[ListenerID]MessageType),
		state:  make(map[ListenerID]StateListener),
	}
}

func (r *registry) add(id ListenerID, t MessageType, h Handler) {
	set, ok := r.byType[t]
	if !ok {
		set = make(map[ListenerID]Handler)
		r.byType[t] = set
	}
	set[id] = h
	r.types[id] = t
}

func (r *registry) addState(id ListenerID, l StateListener) {
	r.state[id] = l
}

func (r *registry) remove(id ListenerID) {
	if t, ok := r.types[id]; ok {
		delete(r.byType[t], id)
		if len(r.byType[t]) == 0 {
			delete(r.byType, t)
		}
		delete(r.types, id)
	}
	delete(r.state, id)
}

func (r *registry) has(id ListenerID) bool {
	if _, ok := r.types[id]; ok {
		return true
	}
	_, ok := r.state[id]
	return ok
}

func (r *registry) len() int {
	return len(r.types) + len(r.state)
}

type handlerEntry struct {
	id ListenerID
	h  Handler
}

// matching returns wildcard handlers followed by handlers for t.
func (r *registry) matching(t MessageType) []handlerEntry {
	out := make([]handlerEntry, 0, len(r.byType[Wildcard])+len(r.byType[t]))
	for id, h := range r.byType[Wildcard] {
		out = append(out, handlerEntry{id: id, h: h})
	}
	for id, h := range r.byType[t] {
		out = append(out, handlerEntry{id: id, h: h})
	}
	return out
}

type stateEntry struct {
	id ListenerID
	l  StateListener
}

func (r *registry) stateListeners() []stateEntry {
	out := make([]stateEntry, 0, len(r.state))
	for id, l := range r.state {
		out = append(out, stateEntry{id: id, l: l})
	}
	return out
}
