package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MaxFrameSize bounds the size of a single text frame the codec will look at.
const MaxFrameSize = 10 * 1024 * 1024 // 10MB

// Type is the envelope discriminator carried in the "type" field.
type Type string

const (
	TypePing       Type = "ping"
	TypeColorPixel Type = "color_pixel"
	TypeState      Type = "state"
	TypeError      Type = "error"
)

// Envelope is implemented by the four message variants.
type Envelope interface {
	MessageType() Type
}

// Ping is the application-level heartbeat.
type Ping struct{}

// ColorPixel sets a single cell. SessionID and User are only filled on
// inbound broadcasts; the encoder never writes them.
type ColorPixel struct {
	X         int
	Y         int
	Color     string
	SessionID string
	User      string
}

// Meta is the session metadata carried by a state snapshot.
type Meta struct {
	GameStarted bool
	Width       int
	Height      int
	CreatedAt   int64
}

// State is a full session snapshot. Pixels maps "x,y" keys to hex colors.
type State struct {
	SessionID string
	Meta      Meta
	Users     []string
	Pixels    map[string]string
}

// Error reports a failure of the connection labelled Where.
type Error struct {
	Where string
	Err   string
}

func (Ping) MessageType() Type       { return TypePing }
func (ColorPixel) MessageType() Type { return TypeColorPixel }
func (State) MessageType() Type      { return TypeState }
func (Error) MessageType() Type      { return TypeError }

// object is a decoded JSON object whose members are looked up by exact key.
// encoding/json folds case when it fills struct fields, so the decoders never
// unmarshal a frame straight into a struct.
type object map[string]json.RawMessage

func parseObject(text string) (object, bool) {
	var o object
	if err := unmarshalLimited(text, &o); err != nil || o == nil {
		return nil, false
	}
	return o, true
}

// field decodes the member named key into v. A missing member, a null and a
// value of the wrong JSON type all report false.
func (o object) field(key string, v any) bool {
	raw, ok := o[key]
	if !ok || isNull(raw) {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// optional is field for members that may be absent. It only reports false
// when the member is present with the wrong type.
func (o object) optional(key string, v any) bool {
	raw, ok := o[key]
	if !ok || isNull(raw) {
		return true
	}
	return json.Unmarshal(raw, v) == nil
}

func (o object) tag() (Type, bool) {
	var t string
	if !o.field("type", &t) {
		return "", false
	}
	return Type(t), true
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// Outbound shapes always carry every field.

type outPing struct {
	Type Type `json:"type"`
}

type outPixel struct {
	Type  Type   `json:"type"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color"`
}

type outMeta struct {
	GameStarted bool  `json:"game_started"`
	Width       int   `json:"width"`
	Height      int   `json:"height"`
	CreatedAt   int64 `json:"created_at"`
}

type outState struct {
	Type      Type              `json:"type"`
	SessionID string            `json:"session_id"`
	Meta      outMeta           `json:"meta"`
	Users     []string          `json:"users"`
	Pixels    map[string]string `json:"pixels"`
}

type outError struct {
	Type  Type   `json:"type"`
	Where string `json:"where"`
	Err   string `json:"err"`
}

// PixelKey formats a coordinate the way state snapshots key their pixels.
func PixelKey(x, y int) string {
	return strconv.Itoa(x) + "," + strconv.Itoa(y)
}

// ParsePixelKey parses an "x,y" snapshot key. The key is split on the first
// comma and both halves must be plain integers. Whitespace is not trimmed.
// Negative values parse; callers treat them as out-of-bounds cells.
func ParsePixelKey(key string) (x, y int, ok bool) {
	xs, ys, found := strings.Cut(key, ",")
	if !found {
		return 0, 0, false
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return 0, 0, false
	}
	y, err = strconv.Atoi(ys)
	if err != nil {
		return 0, 0, false
	}
	return x, y, true
}

func unmarshalLimited(text string, v any) error {
	if len(text) > MaxFrameSize {
		return fmt.Errorf("frame size %d exceeds maximum %d bytes", len(text), MaxFrameSize)
	}
	return json.Unmarshal([]byte(text), v)
}
