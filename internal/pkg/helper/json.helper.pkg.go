package helper

import (
	"encoding/json"
)

func JSONToString(payload any) (string, error) {
	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}

func JSONToStruct[I any](payload any) (result *I, err error) {
	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(jsonBytes, &result)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func JSONToByte(payload any) ([]byte, error) {
	return json.Marshal(payload)
}

// JSONOrNull marshals payload, falling back to a JSON null so it can always
// be written to a jsonb column.
func JSONOrNull(payload any) json.RawMessage {
	if payload == nil {
		return json.RawMessage("null")
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
