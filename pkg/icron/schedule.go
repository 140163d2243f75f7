package icron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// maxLookback bounds the search for a previous activation.
const maxLookback = 366 * 24 * time.Hour

type TriggerInfo struct {
	Expression string
	Next       time.Time
	// Last is zero when the expression did not fire within the past year.
	Last time.Time

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

// Parse accepts a five-field expression or a descriptor such as "@daily".
func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("cron expression is empty")
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// Describe reports the activations of expr surrounding ref.
func Describe(expr string, ref time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(expr)
	if err != nil {
		return nil, err
	}

	info := &TriggerInfo{
		Expression: expr,
		Next:       schedule.Next(ref),
		Last:       previous(schedule, ref),
	}
	info.TimeUntilNext = info.Next.Sub(ref)
	if !info.Last.IsZero() {
		info.TimeSinceLast = ref.Sub(info.Last)
	}
	return info, nil
}

// Upcoming lists the next n activations of expr after ref.
func Upcoming(expr string, ref time.Time, n int) ([]time.Time, error) {
	schedule, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	ret := make([]time.Time, 0, n)
	for t := ref; len(ret) < n; {
		t = schedule.Next(t)
		if t.IsZero() {
			break
		}
		ret = append(ret, t)
	}
	return ret, nil
}

// previous widens a window behind ref until it holds an activation, then
// walks forward to the latest one not after ref.
func previous(schedule cron.Schedule, ref time.Time) time.Time {
	for window := time.Hour; window <= 2*maxLookback; window *= 2 {
		if window > maxLookback {
			window = maxLookback
		}
		t := schedule.Next(ref.Add(-window))
		if t.IsZero() || t.After(ref) {
			if window == maxLookback {
				return time.Time{}
			}
			continue
		}
		for {
			next := schedule.Next(t)
			if next.IsZero() || next.After(ref) {
				return t
			}
			t = next
		}
	}
	return time.Time{}
}
