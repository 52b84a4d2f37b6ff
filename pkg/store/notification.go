package store

import (
	"encoding/json"
	"fmt"
)

// wireNotification is the JSON payload shape carried over a Redis Pub/Sub
// channel for one-shot producer/consumer notifications (VLANSTATE,
// ERROR_NOTIFICATIONS, and friends). swss's NotificationProducer frames this
// as a Redis list-encoded tuple; a Gateway only needs the op/data/fields
// triple, so a flat JSON object is the simplest faithful wire form for a
// single Pub/Sub message.
type wireNotification struct {
	Op     string            `json:"op"`
	Data   string            `json:"data"`
	Fields map[string]string `json:"fields,omitempty"`
}

func encodeNotification(op, data string, fields map[string]string) string {
	payload, _ := json.Marshal(wireNotification{Op: op, Data: data, Fields: fields})
	return string(payload)
}

func decodeNotification(payload string) (Notification, error) {
	var w wireNotification
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return Notification{}, fmt.Errorf("store: decode notification: %w", err)
	}
	return Notification{Op: w.Op, Data: w.Data, Fields: w.Fields}, nil
}
