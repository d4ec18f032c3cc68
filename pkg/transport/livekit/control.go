package livekit

import (
	"encoding/json"
	"fmt"
)

func encodeControl(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case []byte:
		if !json.Valid(m) {
			return nil, fmt.Errorf("control message is not valid JSON")
		}
		return m, nil
	case string:
		return encodeControl([]byte(m))
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode control message: %w", err)
	}
	return data, nil
}
