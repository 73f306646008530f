package locks

// detail accumulates the wait time and count recorded against one
// counterparty. The nested threads map holds the second drill-down level and
// is nil on second-level details.
type detail struct {
	waitTime int64
	count    int64
	threads  map[*ThreadInfo]*detail
}

// addWait folds one closed episode into the detail. A nil sub counterparty
// stops the recursion.
func (d *detail) addWait(sub *ThreadInfo, wait int64) {
	d.count++
	d.waitTime += wait
	if sub == nil {
		return
	}
	if d.threads == nil {
		d.threads = make(map[*ThreadInfo]*detail)
	}
	sd, ok := d.threads[sub]
	if !ok {
		sd = &detail{}
		d.threads[sub] = sd
	}
	sd.addWait(nil, wait)
}

// detailFor returns the detail stored under key, creating it on first use.
func detailFor[K comparable](m map[K]*detail, key K) *detail {
	d, ok := m[key]
	if !ok {
		d = &detail{}
		m[key] = d
	}
	return d
}
