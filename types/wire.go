package types

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// NewWireMessage serializes data into a websocket envelope.
func NewWireMessage(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("could not marshal %s data: %w", event, err)
	}
	return json.Marshal(WebsocketMessage{Event: event, Data: raw})
}

// NewRelayedWireMessage wraps a client payload unchanged, tagged with the
// sender's id.
func NewRelayedWireMessage(event, sender string, data json.RawMessage) ([]byte, error) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return json.Marshal(WebsocketMessage{Event: event, Sender: sender, Data: data})
}

// DecodeData decodes a client payload into out. Values are weakly typed, so
// "true" and 1 both decode into a bool, which matches what browsers send.
func DecodeData(data json.RawMessage, out interface{}) error {
	dataMap := make(map[string]interface{})
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &dataMap); err != nil {
			return fmt.Errorf("could not unmarshal data: %w", err)
		}
	}
	if err := mapstructure.WeakDecode(dataMap, out); err != nil {
		return fmt.Errorf("could not decode data: %w", err)
	}
	return nil
}
