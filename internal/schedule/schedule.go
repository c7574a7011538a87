// Package schedule computes when appointment reminders fire, keeping every
// send time out of the recipient's local quiet hours.
package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata" // zone rules must not depend on the host

	"github.com/lalithlochan/nimbus-reminders/internal/domain"
)

// Rules describes reminder lead times and the local quiet window [QuietStart, QuietEnd).
type Rules struct {
	Offsets    []time.Duration
	QuietStart int // local hour, inclusive
	QuietEnd   int // local hour, exclusive
}

// DefaultRules fires reminders 24h and 2h ahead and keeps 22:00-07:00 quiet.
func DefaultRules() Rules {
	return Rules{
		Offsets:    []time.Duration{24 * time.Hour, 2 * time.Hour},
		QuietStart: 22,
		QuietEnd:   7,
	}
}

// LoadLocation resolves an IANA timezone name.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "Local" {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidTimezone, name, err)
	}
	return loc, nil
}

// ComputeReminderTimes applies DefaultRules.
func ComputeReminderTimes(appointmentTime time.Time, timezone string, now time.Time) ([]time.Time, error) {
	return DefaultRules().ComputeReminderTimes(appointmentTime, timezone, now)
}

// ComputeReminderTimes returns the ordered send times for an appointment.
// A lead time is skipped when the appointment is closer than that lead, and a
// candidate pushed to or past the appointment by quiet-hours adjustment is dropped.
func (r Rules) ComputeReminderTimes(appointmentTime time.Time, timezone string, now time.Time) ([]time.Time, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return nil, err
	}

	until := appointmentTime.Sub(now)
	times := make([]time.Time, 0, len(r.Offsets))

	for _, offset := range r.Offsets {
		if until < offset {
			continue
		}

		candidate := appointmentTime.Add(-offset)
		if r.IsWithinQuietHours(candidate, loc) {
			candidate = r.AdjustForQuietHours(candidate, loc)
		}

		if !candidate.Before(appointmentTime) {
			continue
		}
		times = append(times, candidate.UTC())
	}

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return dedupe(times), nil
}

// NextSendTime returns t, or the end of the quiet window if t falls inside it.
func (r Rules) NextSendTime(t time.Time, loc *time.Location) time.Time {
	if r.IsWithinQuietHours(t, loc) {
		return r.AdjustForQuietHours(t, loc).UTC()
	}
	return t.UTC()
}

// IsWithinQuietHours reports whether t falls in the quiet window in loc.
func (r Rules) IsWithinQuietHours(t time.Time, loc *time.Location) bool {
	h := t.In(loc).Hour()
	if r.wraps() {
		return h >= r.QuietStart || h < r.QuietEnd
	}
	return h >= r.QuietStart && h < r.QuietEnd
}

// AdjustForQuietHours moves t to QuietEnd:00 local time. Late-evening times move
// to the next calendar day. The instant is resolved with the zone rules of the
// target day so DST changes overnight are honored.
func (r Rules) AdjustForQuietHours(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	y, m, d := local.Date()
	if r.wraps() && local.Hour() >= r.QuietStart {
		d++
	}
	return time.Date(y, m, d, r.QuietEnd, 0, 0, 0, loc)
}

func (r Rules) wraps() bool {
	return r.QuietStart > r.QuietEnd
}

// IsWithinQuietHours applies DefaultRules.
func IsWithinQuietHours(t time.Time, loc *time.Location) bool {
	return DefaultRules().IsWithinQuietHours(t, loc)
}

// AdjustForQuietHours applies DefaultRules.
func AdjustForQuietHours(t time.Time, loc *time.Location) time.Time {
	return DefaultRules().AdjustForQuietHours(t, loc)
}

func dedupe(times []time.Time) []time.Time {
	out := times[:0]
	for _, t := range times {
		if len(out) > 0 && t.Equal(out[len(out)-1]) {
			continue
		}
		out = append(out, t)
	}
	return out
}
