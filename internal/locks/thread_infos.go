package locks

// ThreadInfos is a dense registry indexed directly by thread id.
type ThreadInfos struct {
	threads []*ThreadInfo
	unknown *ThreadInfo
	gen     uint64
}

// NewThreadInfos creates an empty registry.
func NewThreadInfos() *ThreadInfos {
	return &ThreadInfos{
		unknown: newThreadInfo(UnknownThreadID, UnknownThreadName, ""),
	}
}

// NewThreadInfo registers a thread, growing the backing slice if needed. Any
// thread previously stored under id is replaced and its open episode
// abandoned. Its recorded waits stay reachable from the monitors.
func (r *ThreadInfos) NewThreadInfo(id int, name, className string) *ThreadInfo {
	if id < 0 {
		return nil
	}
	if id >= len(r.threads) {
		grown := make([]*ThreadInfo, growTo(len(r.threads), id+1))
		copy(grown, r.threads)
		r.threads = grown
	}
	if old := r.threads[id]; old != nil {
		old.abandon()
	}
	r.gen++
	ti := newThreadInfo(id, name, className)
	ti.Gen = r.gen
	r.threads[id] = ti
	return ti
}

// Get returns the thread registered under id, the sentinel for -1, or nil.
func (r *ThreadInfos) Get(id int) *ThreadInfo {
	if id == UnknownThreadID {
		return r.unknown
	}
	if id < 0 || id >= len(r.threads) {
		return nil
	}
	return r.threads[id]
}

// Len returns the number of registered threads, excluding the sentinel.
func (r *ThreadInfos) Len() int {
	n := 0
	for _, ti := range r.threads {
		if ti != nil {
			n++
		}
	}
	return n
}

// Each calls fn for every registered thread in id order, then the sentinel.
func (r *ThreadInfos) Each(fn func(*ThreadInfo)) {
	for _, ti := range r.threads {
		if ti != nil {
			fn(ti)
		}
	}
	fn(r.unknown)
}

// Reset drops every thread, including the sentinel's accumulated data.
func (r *ThreadInfos) Reset() {
	r.threads = nil
	r.unknown = newThreadInfo(UnknownThreadID, UnknownThreadName, "")
}

func growTo(current, needed int) int {
	n := current * 2
	if n < needed {
		n = needed
	}
	return n
}
