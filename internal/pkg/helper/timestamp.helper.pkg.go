package helper

import (
	"time"
)

var jakarta = loadJakarta()

func loadJakarta() *time.Location {
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		return time.FixedZone("WIB", 7*60*60)
	}
	return loc
}

// GetMapDateTimeValue parses the first parseable timestamp among keys.
// Offset-less values ("2006-01-02 15:04:05", as Midtrans returns them) are
// read in Asia/Jakarta.
func GetMapDateTimeValue(header map[string]any, keys ...string) *time.Time {
	for _, key := range keys {
		value := GetMapStringValue(header, key)
		if value == "" {
			continue
		}
		if parsed, err := ParseDateTime(value); err == nil {
			return &parsed
		}
	}
	return nil
}

func ParseDateTime(date string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, date)
	if err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateTime, date, jakarta)
}

func TimeRightNow() time.Time {
	return time.Now().UTC()
}
