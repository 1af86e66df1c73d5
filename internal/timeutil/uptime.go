package timeutil

import "time"

// Uptime is a 32-bit millisecond counter anchored at construction, the
// equivalent of a device's "milliseconds since boot" timer. It wraps after
// roughly 49.7 days; consumers compare readings with uint32 subtraction.
type Uptime struct {
	clock Clock
	boot  time.Time
}

// NewUptime starts a counter at zero using the given clock. A nil clock
// selects RealClock.
func NewUptime(clock Clock) *Uptime {
	if clock == nil {
		clock = RealClock{}
	}
	return &Uptime{clock: clock, boot: clock.Now()}
}

// Millis returns the milliseconds elapsed since the counter started,
// truncated to 32 bits.
func (u *Uptime) Millis() uint32 {
	return uint32(u.clock.Now().Sub(u.boot).Milliseconds())
}

// ElapsedMillis returns now-then in wrap-safe 32-bit arithmetic.
func ElapsedMillis(now, then uint32) uint32 {
	return now - then
}
