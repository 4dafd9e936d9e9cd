// Package dedup decides which status events are actually new. The check is
// exact string equality against the last notified date per tracking number:
// any change of the date string counts as news, even a change backwards.
package dedup

// Collector applies the duplicate check over a state snapshot loaded once per
// run. It is not safe for concurrent use: the orchestrator feeds results to it
// sequentially after all shipment pipelines have settled.
type Collector struct {
	state map[string]string
	dirty bool
}

func NewCollector(state map[string]string) *Collector {
	if state == nil {
		state = map[string]string{}
	}
	return &Collector{state: state}
}

// IsDuplicate reports whether the event date matches the recorded one for the
// number. A new date is recorded immediately, so a second call with the same
// arguments within one run is a duplicate.
func (c *Collector) IsDuplicate(number, date string) bool {
	if prev, ok := c.state[number]; ok && prev == date {
		return true
	}
	c.state[number] = date
	c.dirty = true
	return false
}

// Dirty reports whether any new event was recorded since the collector was
// built, i.e. whether the state needs saving.
func (c *Collector) Dirty() bool { return c.dirty }

// State exposes the mutated map for saving.
func (c *Collector) State() map[string]string { return c.state }
