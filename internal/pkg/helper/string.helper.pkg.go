package helper

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

func StringToStruct[I any](payload string) (result *I, err error) {
	err = json.Unmarshal([]byte(payload), &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func StringToInt64(payload string) (int64, error) {
	result, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return 0, err
	}

	return result, nil
}

// GetMapStringValue returns the first non-empty value among keys, stringified.
func GetMapStringValue(header map[string]any, keys ...string) string {
	for _, key := range keys {
		value, exists := header[key]
		if !exists || value == nil {
			continue
		}
		if str := fmt.Sprintf("%v", value); str != "" {
			return str
		}
	}
	return ""
}

// GetMapObjectValue unwraps the nested object stored at key, if any.
func GetMapObjectValue(header map[string]any, key string) (map[string]any, bool) {
	value, exists := header[key]
	if !exists || value == nil {
		return nil, false
	}
	obj, ok := value.(map[string]any)
	return obj, ok
}

func StringContainsFold(parameter, value string) bool {
	return strings.Contains(strings.ToLower(parameter), strings.ToLower(value))
}
