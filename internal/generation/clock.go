package generation

import "time"

// Clock records the timestamps of one generation run. It is not safe for
// concurrent use; Session serializes access.
type Clock struct {
	now        func() time.Time
	start      time.Time
	firstToken time.Time
	hasFirst   bool
	emissions  []time.Time
	end        time.Time
}

// ClockSnapshot is the immutable trace handed to CalculateMetrics.
type ClockSnapshot struct {
	Start time.Time
	// FirstToken is nil when no non-empty fragment arrived.
	FirstToken *time.Time
	// Emissions holds the arrival time of every counted token, in order.
	Emissions []time.Time
	End       time.Time
}

// NewClock returns a clock reading now, or time.Now when nil.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Start records the beginning of the run.
func (c *Clock) Start() time.Time {
	c.start = c.now()
	return c.start
}

// Token records a token arrival. first is true for the first call only, which
// also fixes the prefill/decode boundary.
func (c *Clock) Token() (at time.Time, first bool) {
	at = c.now()
	c.emissions = append(c.emissions, at)
	if !c.hasFirst {
		c.firstToken, c.hasFirst = at, true
		first = true
	}
	return at, first
}

// Finish records the end of the run.
func (c *Clock) Finish() time.Time {
	c.end = c.now()
	return c.end
}

// Snapshot copies the recorded trace.
func (c *Clock) Snapshot() ClockSnapshot {
	s := ClockSnapshot{
		Start:     c.start,
		Emissions: append([]time.Time(nil), c.emissions...),
		End:       c.end,
	}
	if c.hasFirst {
		ft := c.firstToken
		s.FirstToken = &ft
	}
	return s
}
