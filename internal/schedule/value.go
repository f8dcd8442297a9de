package schedule

import (
	"encoding/json"
	"math"
	"strings"
)

// FromValue converts a loosely typed value, as produced by decoding JSON into
// interface{}, into a Schedule. It checks shape only; use Validate for the
// device limits. "repeat" is accepted as an alias for "days".
func FromValue(v interface{}) (Schedule, error) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return Schedule{}, invalid("The provided value must be a schedule object")
	}

	rawDays, ok := obj["days"]
	if !ok {
		rawDays = obj["repeat"]
	}
	days, ok := rawDays.([]interface{})
	if !ok || len(days) == 0 {
		return Schedule{}, invalid("The schedule object must contain an array of days with at least one entry")
	}

	var s Schedule
	for _, d := range days {
		name, ok := d.(string)
		if !ok {
			return Schedule{}, invalid("The value \"%v\" is not a valid day (available values: %s)", d, strings.Join(DayNames, ", "))
		}
		s.Days = append(s.Days, name)
	}

	events, ok := obj["events"].([]interface{})
	if !ok || len(events) != EventCount {
		return Schedule{}, invalid("The schedule object must contain an array of %d time/temperature events", EventCount)
	}
	for _, raw := range events {
		ev, ok := raw.(map[string]interface{})
		if !ok {
			return Schedule{}, invalid("The provided time/temperature event must be an object")
		}
		t, ok := number(ev["time"])
		if !ok || t != math.Trunc(t) || t < 0 {
			return Schedule{}, invalid("Time must be a positive integer number")
		}
		temp, ok := number(ev["temperature"])
		if !ok {
			return Schedule{}, invalid("The provided time/temperature entry must contain a numeric temperature")
		}
		if t >= minutesPerDay {
			return Schedule{}, invalid("Time must be between 00:00 and 23:59")
		}
		s.Events = append(s.Events, Event{Time: int(t), Temperature: temp})
	}
	return s, nil
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
