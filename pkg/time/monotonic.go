package time

import "time"

// clock measures monotonic time relative to a fixed start
// session deadlines are expressed as offsets from that start so a
// wall clock jump can neither expire nor resurrect a session
type Clock struct {
	startTime time.Time
}

func NewClock() *Clock {
	return &Clock{
		startTime: time.Now(),
	}
}

// duration since the clock was created
func (c *Clock) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

// offset at which something started now with the given timeout is due
func (c *Clock) Deadline(timeout time.Duration) time.Duration {
	return c.Elapsed() + timeout
}

// whether the given deadline has passed
func (c *Clock) Passed(deadline time.Duration) bool {
	return c.Elapsed() >= deadline
}
