package config

import "time"

// Within reports whether t falls inside the configured business hours.
// An unparseable timezone falls back to UTC.
func (b BusinessHoursConfig) Within(t time.Time) bool {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		loc = time.UTC
	}
	lt := t.In(loc)

	if b.Weekdays {
		if wd := lt.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false
		}
	}

	h := lt.Hour()
	return h >= b.StartHour && h < b.EndHour
}
