// Package interval holds the half-open interval and civil clock arithmetic shared by the
// scheduling packages. All "HH:MM" parsing in the module goes through here.
package interval

import (
	"cmp"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	ErrInvalidClock  = errors.New("invalid time of day, expected HH:MM")
	ErrInvalidWindow = errors.New("invalid window, end must be after start")
)

var clockPattern = regexp.MustCompile(`^([0-1]\d|2[0-3]):[0-5]\d$`)

// Overlaps reports whether [startA,endA) and [startB,endB) intersect.
// Touching endpoints do not overlap.
func Overlaps[T cmp.Ordered](startA, endA, startB, endB T) bool {
	return startA < endB && startB < endA
}

// TimesOverlap is Overlaps for absolute instants.
func TimesOverlap(startA, endA, startB, endB time.Time) bool {
	return startA.Before(endB) && startB.Before(endA)
}

// ToMinutes converts "HH:MM" into minutes since midnight.
func ToMinutes(s string) (int, error) {
	if !clockPattern.MatchString(s) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	return h*60 + m, nil
}

// ToTimeString converts minutes since midnight into zero-padded "HH:MM".
func ToTimeString(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Window is a half-open minute-of-day range.
type Window struct {
	Start int
	End   int
}

// ParseWindow parses two clock strings into a Window.
func ParseWindow(start, end string) (Window, error) {
	s, err := ToMinutes(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ToMinutes(end)
	if err != nil {
		return Window{}, err
	}
	w := Window{Start: s, End: e}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// MustParseWindow is ParseWindow for literals known to be valid.
func MustParseWindow(start, end string) Window {
	w, err := ParseWindow(start, end)
	if err != nil {
		panic(err)
	}
	return w
}

func (w Window) Validate() error {
	if w.End <= w.Start {
		return fmt.Errorf("%w: %s", ErrInvalidWindow, w)
	}
	return nil
}

func (w Window) Overlaps(o Window) bool {
	return Overlaps(w.Start, w.End, o.Start, o.End)
}

// Contains reports whether o lies entirely inside w.
func (w Window) Contains(o Window) bool {
	return w.Start <= o.Start && o.End <= w.End
}

func (w Window) Minutes() int {
	return w.End - w.Start
}

func (w Window) String() string {
	return ToTimeString(w.Start) + "-" + ToTimeString(w.End)
}

// StartOfDay returns midnight of t's civil date in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	d := t.In(loc)
	y, m, dd := d.Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, loc)
}

// At returns the instant at the given minute of day's civil date in loc.
func At(day time.Time, minute int, loc *time.Location) time.Time {
	d := day.In(loc)
	y, m, dd := d.Date()
	return time.Date(y, m, dd, minute/60, minute%60, 0, 0, loc)
}

// On places w on day's civil date in loc.
func (w Window) On(day time.Time, loc *time.Location) Span {
	return Span{Start: At(day, w.Start, loc), End: At(day, w.End, loc)}
}

// Contains reports whether o lies entirely inside s.
func (s Span) Contains(o Span) bool {
	return !o.Start.Before(s.Start) && !o.End.After(s.End)
}

// SameDay reports whether a and b fall on the same civil date in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// Span is a half-open range of instants.
type Span struct {
	Start time.Time
	End   time.Time
}

func (s Span) Overlaps(o Span) bool {
	return TimesOverlap(s.Start, s.End, o.Start, o.End)
}

// Widen grows the span by margin on both sides.
func (s Span) Widen(margin time.Duration) Span {
	return Span{Start: s.Start.Add(-margin), End: s.End.Add(margin)}
}
