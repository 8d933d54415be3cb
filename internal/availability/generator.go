// Package availability enumerates candidate appointment start times inside a
// resolved working day.
package availability

import (
	"iter"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/interval"
	"github.com/hackgods/clinic-scheduling/internal/workhours"
)

// DenseStep is the fixed step of StepDense.
const DenseStep = 15

// StepPolicy decides the distance between consecutive candidates.
type StepPolicy int

const (
	// StepDuration advances by the service duration.
	StepDuration StepPolicy = iota
	// StepDense advances by DenseStep minutes to offer more starts.
	StepDense
)

func (p StepPolicy) Step(duration int) int {
	if p == StepDense {
		return DenseStep
	}
	return duration
}

func (p StepPolicy) String() string {
	if p == StepDense {
		return "dense"
	}
	return "duration"
}

// ParseStepPolicy maps "dense" to StepDense and everything else to StepDuration.
func ParseStepPolicy(s string) StepPolicy {
	if s == "dense" {
		return StepDense
	}
	return StepDuration
}

// Generate yields, in ascending order, every minute-of-day start t with
// [t, t+duration) inside the working window and clear of the lunch break.
// A candidate that would touch lunch jumps straight to the lunch end.
// The sequence is finite and may be ranged over any number of times.
func Generate(h workhours.Hours, duration, step int) iter.Seq[int] {
	return func(yield func(int) bool) {
		if duration <= 0 || step <= 0 {
			return
		}
		for t := h.Window.Start; t+duration <= h.Window.End; {
			if h.Lunch != nil && interval.Overlaps(t, t+duration, h.Lunch.Start, h.Lunch.End) {
				t = h.Lunch.End
				continue
			}
			if !yield(t) {
				return
			}
			t += step
		}
	}
}

// Times converts minute-of-day starts into instants on day.
func Times(seq iter.Seq[int], day time.Time, loc *time.Location) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		for m := range seq {
			if !yield(interval.At(day, m, loc)) {
				return
			}
		}
	}
}

// NotBefore drops instants earlier than cutoff.
func NotBefore(seq iter.Seq[time.Time], cutoff time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		for t := range seq {
			if t.Before(cutoff) {
				continue
			}
			if !yield(t) {
				return
			}
		}
	}
}

// Filter keeps instants for which keep returns true.
func Filter(seq iter.Seq[time.Time], keep func(time.Time) bool) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		for t := range seq {
			if !keep(t) {
				continue
			}
			if !yield(t) {
				return
			}
		}
	}
}

// Take collects at most n values; n <= 0 collects everything.
func Take[T any](seq iter.Seq[T], n int) []T {
	var out []T
	for v := range seq {
		out = append(out, v)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}
