package store

import "time"

// Direction of an IR transfer.
type Direction string

const (
	DirectionSend  Direction = "send"
	DirectionLearn Direction = "learn"
)

// Session is the state of one in-flight IR transfer on an endpoint.
// Send sessions hold the full Payload and are re-sliced at whatever position
// the device requests. Learn sessions fill Buffer up to Position.
type Session struct {
	Endpoint  string    `json:"endpoint"`
	Seq       uint16    `json:"seq"`
	Direction Direction `json:"direction"`
	Payload   []byte    `json:"payload,omitempty"`
	Buffer    []byte    `json:"buffer,omitempty"`
	Position  int       `json:"position"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	cp := *s
	if s.Payload != nil {
		cp.Payload = append([]byte(nil), s.Payload...)
	}
	if s.Buffer != nil {
		cp.Buffer = append([]byte(nil), s.Buffer...)
	}
	return &cp
}

// LearnedCode is an IR code captured from a blaster in learn mode.
type LearnedCode struct {
	ID        string    `json:"id"`
	Device    string    `json:"device"`
	Endpoint  string    `json:"endpoint"`
	Code      string    `json:"code"` // base64
	LearnedAt time.Time `json:"learned_at"`
}

// DeviceState is the last known converted state of a device, keyed by the
// same property names published over MQTT.
type DeviceState struct {
	Device     string         `json:"device"`
	Properties map[string]any `json:"properties,omitempty"`
	LastSeen   time.Time      `json:"last_seen"`
}
