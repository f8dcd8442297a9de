// Package schedule encodes and validates the weekly heating schedule of Lumi
// thermostatic radiator valves.
//
// The device stores the program in a 26-byte buffer: a tag byte, a day bitmap
// and four time/temperature transitions. The same program has a compact string
// form, "mon,tue|8:00,24.0|18:00,17.0|23:00,22.0|8:00,22.0", used at the
// configuration boundary.
package schedule

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

const (
	// BufferSize is the length of an encoded schedule.
	BufferSize = 26
	// EventCount is the number of transitions in a schedule.
	EventCount = 4

	bufferTag     = 0x04
	nextDayFlag   = 1 << 15
	minutesPerDay = 24 * 60
	minGap        = 60
	minSpan       = EventCount * minGap
	maxSpan       = minutesPerDay
	minTemp       = 5
	maxTemp       = 30
)

// DayNames lists the valid day identifiers in bitmap order.
var DayNames = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// Event is one transition: from Time (minutes since midnight) on the valve
// targets Temperature in °C.
type Event struct {
	Time        int     `json:"time"`
	Temperature float64 `json:"temperature"`
}

// Schedule is a weekly heating program.
type Schedule struct {
	Days   []string `json:"days"`
	Events []Event  `json:"events"`
}

// ValidationError describes the constraint a schedule violates. The message
// is suitable for showing to the user as-is.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Read decodes a schedule buffer. It performs no semantic validation; the
// next-day flag of each time field is dropped.
func Read(buf []byte) (Schedule, error) {
	if len(buf) < BufferSize {
		return Schedule{}, fmt.Errorf("schedule: buffer is %d bytes, want %d", len(buf), BufferSize)
	}
	s := Schedule{
		Days:   make([]string, 0, len(DayNames)),
		Events: make([]Event, EventCount),
	}
	for i, day := range DayNames {
		if buf[1]&(1<<(i+1)) != 0 {
			s.Days = append(s.Days, day)
		}
	}
	for i := range s.Events {
		off := 2 + i*6
		s.Events[i] = Event{
			Time:        int(binary.BigEndian.Uint16(buf[off:]) &^ nextDayFlag),
			Temperature: float64(binary.BigEndian.Uint16(buf[off+4:])) / 100,
		}
	}
	return s, nil
}

// Write encodes s into a schedule buffer. Day names and time ranges are
// checked, the span limits are not; call Validate for those.
func Write(s Schedule) ([]byte, error) {
	bitmap, err := dayBitmap(s.Days)
	if err != nil {
		return nil, err
	}
	if len(s.Events) != EventCount {
		return nil, invalid("The schedule object must contain an array of %d time/temperature events", EventCount)
	}

	buf := make([]byte, BufferSize)
	buf[0] = bufferTag
	buf[1] = bitmap
	for i, ev := range s.Events {
		if err := validateTime(ev.Time); err != nil {
			return nil, err
		}
		raw := math.Round(ev.Temperature * 100)
		if math.IsNaN(ev.Temperature) || raw < 0 || raw > math.MaxUint16 {
			return nil, invalid("The temperature must be between %d and %d °C", minTemp, maxTemp)
		}

		t := uint16(ev.Time)
		if i > 0 && ev.Time < s.Events[i-1].Time {
			t |= nextDayFlag
		}
		off := 2 + i*6
		binary.BigEndian.PutUint16(buf[off:], t)
		binary.BigEndian.PutUint16(buf[off+4:], uint16(raw))
	}
	return buf, nil
}

// Validate checks s against the device limits. The returned error is a
// *ValidationError naming the first violated constraint.
func Validate(s Schedule) error {
	if len(s.Days) == 0 {
		return invalid("The schedule object must contain an array of days with at least one entry")
	}
	if err := validateDays(s.Days); err != nil {
		return err
	}
	if len(s.Events) != EventCount {
		return invalid("The schedule object must contain an array of %d time/temperature events", EventCount)
	}
	for _, ev := range s.Events {
		if err := validateTime(ev.Time); err != nil {
			return err
		}
		if math.IsNaN(ev.Temperature) {
			return invalid("The provided time/temperature entry must contain a numeric temperature")
		}
		if ev.Temperature < minTemp || ev.Temperature > maxTemp {
			return invalid("The temperature must be between %d and %d °C", minTemp, maxTemp)
		}
	}

	gaps := make([]int, 0, EventCount-1)
	total := 0
	for i := 1; i < len(s.Events); i++ {
		g := gap(s.Events[i-1].Time, s.Events[i].Time)
		gaps = append(gaps, g)
		total += g
	}
	if total < minSpan {
		return invalid("The start and end time must be at least 4 hours apart")
	}
	// Implies at most one wrap past midnight.
	if total > maxSpan {
		return invalid("The start and end time must be at most 24 hours apart")
	}
	for _, g := range gaps {
		if g < minGap {
			return invalid("The individual times must be at least 1 hour apart")
		}
	}
	return nil
}

// gap returns the minutes from prev to cur, wrapping past midnight when cur
// is earlier in the day.
func gap(prev, cur int) int {
	if cur < prev {
		return (minutesPerDay - prev) + cur
	}
	return cur - prev
}

func validateTime(t int) error {
	if t < 0 {
		return invalid("Time must be a positive integer number")
	}
	if t >= minutesPerDay {
		return invalid("Time must be between 00:00 and 23:59")
	}
	return nil
}

func validateDays(days []string) error {
	for _, d := range days {
		if dayIndex(d) < 0 {
			return invalid("The value %q is not a valid day (available values: %s)", d, strings.Join(DayNames, ", "))
		}
	}
	return nil
}

func dayIndex(day string) int {
	for i, d := range DayNames {
		if d == day {
			return i
		}
	}
	return -1
}

func dayBitmap(days []string) (byte, error) {
	if err := validateDays(days); err != nil {
		return 0, err
	}
	var bm byte
	for _, d := range days {
		bm |= 1 << (dayIndex(d) + 1)
	}
	return bm, nil
}
