package state

import "time"

// PeriodSeconds is the length of a reward period: one UTC day.
const PeriodSeconds int64 = 86_400

// PeriodOf returns the UTC day index containing unix second ts.
func PeriodOf(ts int64) int64 {
	p := ts / PeriodSeconds
	if ts%PeriodSeconds < 0 {
		p--
	}
	return p
}

// PeriodAt returns the UTC day index containing t.
func PeriodAt(t time.Time) int64 {
	return PeriodOf(t.Unix())
}

// PeriodStart returns the first instant of period p.
func PeriodStart(p int64) time.Time {
	return time.Unix(p*PeriodSeconds, 0).UTC()
}

// Checkpoint remembers the value a counter had when Period began. It is
// refreshed lazily before the first change in each period, which is enough to
// answer "what was the value at the end of the previous period".
type Checkpoint struct {
	Period  int64
	Opening uint64
}

// Touch must be called with the pre-change value before mutating the counter
// during period.
func (c *Checkpoint) Touch(period int64, current uint64) {
	if c.Period < period {
		c.Period = period
		c.Opening = current
	}
}

// ValueAtEndOf returns the counter value at the end of period p, given the
// current value. ok is false when changes after p+1 began have overwritten it.
func (c Checkpoint) ValueAtEndOf(p int64, current uint64) (value uint64, ok bool) {
	switch {
	case c.Period <= p:
		return current, true
	case c.Period == p+1:
		return c.Opening, true
	default:
		return 0, false
	}
}
