package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNilEnvelope is returned by Encode for a typed nil pointer.
var ErrNilEnvelope = errors.New("nil envelope")

// Encode serializes an envelope with its full, stable field set.
func Encode(env Envelope) (string, error) {
	var v any
	switch m := env.(type) {
	case Ping, *Ping:
		v = outPing{Type: TypePing}
	case ColorPixel:
		v = outPixel{Type: TypeColorPixel, X: m.X, Y: m.Y, Color: m.Color}
	case *ColorPixel:
		if m == nil {
			return "", fmt.Errorf("encode %T: %w", env, ErrNilEnvelope)
		}
		v = outPixel{Type: TypeColorPixel, X: m.X, Y: m.Y, Color: m.Color}
	case State:
		v = stateOut(m)
	case *State:
		if m == nil {
			return "", fmt.Errorf("encode %T: %w", env, ErrNilEnvelope)
		}
		v = stateOut(*m)
	case Error:
		v = outError{Type: TypeError, Where: m.Where, Err: m.Err}
	case *Error:
		if m == nil {
			return "", fmt.Errorf("encode %T: %w", env, ErrNilEnvelope)
		}
		v = outError{Type: TypeError, Where: m.Where, Err: m.Err}
	default:
		return "", fmt.Errorf("unsupported envelope %T", env)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func stateOut(s State) outState {
	out := outState{
		Type:      TypeState,
		SessionID: s.SessionID,
		Meta: outMeta{
			GameStarted: s.Meta.GameStarted,
			Width:       s.Meta.Width,
			Height:      s.Meta.Height,
			CreatedAt:   s.Meta.CreatedAt,
		},
		Users:  s.Users,
		Pixels: s.Pixels,
	}
	if out.Users == nil {
		out.Users = []string{}
	}
	if out.Pixels == nil {
		out.Pixels = map[string]string{}
	}
	return out
}

// EncodePixel returns the outbound color_pixel frame.
func EncodePixel(x, y int, color string) string {
	s, _ := Encode(ColorPixel{X: x, Y: y, Color: color})
	return s
}

// EncodePing returns the heartbeat frame.
func EncodePing() string {
	return `{"type":"ping"}`
}

// EncodeError returns an error frame with where and msg properly escaped.
func EncodeError(where, msg string) string {
	s, _ := Encode(Error{Where: where, Err: msg})
	return s
}
