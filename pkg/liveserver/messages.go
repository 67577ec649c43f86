package liveserver

import "time"

// Message is one frame pushed to stream subscribers
type Message struct {
	Type string      `json:"type"`
	Seq  uint64      `json:"seq"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data"`
}

// Message types
const (
	TypeEvent    = "event"
	TypeTick     = "tick"
	TypePosition = "position"
)

// NewMessage stamps a message with the current time; the hub assigns Seq
func NewMessage(msgType string, data interface{}) Message {
	return Message{Type: msgType, Time: time.Now().UTC(), Data: data}
}
