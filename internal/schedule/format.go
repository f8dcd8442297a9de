package schedule

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	fragmentSep = "|"
	valueSep    = ","
)

// Stringify renders s as "days|H:MM,T|H:MM,T|H:MM,T|H:MM,T". Whole
// temperatures keep one decimal so users see that fractions are accepted.
func Stringify(s Schedule) string {
	frags := make([]string, 0, 1+len(s.Events))
	frags = append(frags, strings.Join(s.Days, valueSep))
	for _, ev := range s.Events {
		frags = append(frags, formatTime(ev.Time)+valueSep+formatTemperature(ev.Temperature))
	}
	return strings.Join(frags, fragmentSep)
}

// Parse is the inverse of Stringify. An empty string yields an empty
// schedule, which Validate rejects.
func Parse(str string) (Schedule, error) {
	var s Schedule
	if str == "" {
		return s, nil
	}
	frags := strings.Split(str, fragmentSep)
	s.Days = strings.Split(frags[0], valueSep)
	for _, frag := range frags[1:] {
		timeStr, tempStr, _ := strings.Cut(frag, valueSep)
		t, err := parseTime(timeStr)
		if err != nil {
			return Schedule{}, err
		}
		temp, err := strconv.ParseFloat(strings.TrimSpace(tempStr), 64)
		if err != nil {
			return Schedule{}, invalid("Cannot parse temperature %q", tempStr)
		}
		s.Events = append(s.Events, Event{Time: t, Temperature: temp})
	}
	return s, nil
}

func formatTime(minutes int) string {
	return fmt.Sprintf("%d:%02d", minutes/60, minutes%60)
}

func parseTime(str string) (int, error) {
	h, m, ok := strings.Cut(str, ":")
	if !ok || strings.Contains(m, ":") {
		return 0, invalid("Cannot parse time string %s", str)
	}
	hours, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return 0, invalid("Cannot parse time string %s", str)
	}
	minutes, err := strconv.Atoi(strings.TrimSpace(m))
	if err != nil {
		return 0, invalid("Cannot parse time string %s", str)
	}
	return hours*60 + minutes, nil
}

func formatTemperature(t float64) string {
	if t == math.Trunc(t) && !math.IsInf(t, 0) {
		return strconv.FormatFloat(t, 'f', 1, 64)
	}
	return strconv.FormatFloat(t, 'f', -1, 64)
}
