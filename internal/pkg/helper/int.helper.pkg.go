package helper

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// GetMapInt64Value reads an integral amount from a decoded JSON object. Gateways
// disagree on whether amounts are numbers or strings ("100000.00"), so both
// are accepted.
func GetMapInt64Value(header map[string]any, keys ...string) *int64 {
	for _, key := range keys {
		value, exists := header[key]
		if !exists || value == nil {
			continue
		}

		v := int64(0)
		aValue := reflect.ValueOf(value)
		switch aValue.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			v = aValue.Int()
		case reflect.Float32, reflect.Float64:
			v = int64(aValue.Float())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			v = int64(aValue.Uint())
		case reflect.String:
			raw, _, _ := strings.Cut(aValue.String(), ".")
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			v = parsed
		default:
			continue
		}
		return &v
	}
	return nil
}

func PointerToInt64(value *int64, fallback int64) int64 {
	return lo.FromPtrOr(value, fallback)
}
