package protocol

// Decoders return (value, true) only when the frame has exactly the shape of
// the requested variant. Keys are matched case-sensitively and unknown
// fields are ignored; anything else yields (zero, false). None of them panic
// on hostile input.

// Decode probes the variants in priority order: state, color_pixel, error, ping.
func Decode(text string) (Envelope, bool) {
	o, ok := parseObject(text)
	if !ok {
		return nil, false
	}
	if st, ok := decodeState(o); ok {
		return st, true
	}
	if px, ok := decodePixel(o); ok {
		return px, true
	}
	if e, ok := decodeError(o); ok {
		return e, true
	}
	if p, ok := decodePing(o); ok {
		return p, true
	}
	return nil, false
}

// PeekType returns the "type" tag of a JSON object without validating the rest.
func PeekType(text string) (Type, bool) {
	o, ok := parseObject(text)
	if !ok {
		return "", false
	}
	return o.tag()
}

func hasTag(o object, want Type) bool {
	t, ok := o.tag()
	return ok && t == want
}

// DecodeState decodes a full session snapshot.
func DecodeState(text string) (State, bool) {
	o, ok := parseObject(text)
	if !ok {
		return State{}, false
	}
	return decodeState(o)
}

func decodeState(o object) (State, bool) {
	var (
		st   State
		meta object
	)
	if !hasTag(o, TypeState) || !o.field("session_id", &st.SessionID) || !o.field("meta", &meta) {
		return State{}, false
	}
	m := &st.Meta
	if !meta.field("game_started", &m.GameStarted) ||
		!meta.field("width", &m.Width) ||
		!meta.field("height", &m.Height) ||
		!meta.field("created_at", &m.CreatedAt) {
		return State{}, false
	}
	if !o.optional("users", &st.Users) || !o.optional("pixels", &st.Pixels) {
		return State{}, false
	}
	if st.Users == nil {
		st.Users = []string{}
	}
	if st.Pixels == nil {
		st.Pixels = map[string]string{}
	}
	return st, true
}

// DecodePixel decodes a color_pixel event. Coordinates are not range checked
// here; the canvas decides what is out of bounds.
func DecodePixel(text string) (ColorPixel, bool) {
	o, ok := parseObject(text)
	if !ok {
		return ColorPixel{}, false
	}
	return decodePixel(o)
}

func decodePixel(o object) (ColorPixel, bool) {
	var px ColorPixel
	if !hasTag(o, TypeColorPixel) ||
		!o.field("x", &px.X) ||
		!o.field("y", &px.Y) ||
		!o.field("color", &px.Color) {
		return ColorPixel{}, false
	}
	if !o.optional("session_id", &px.SessionID) || !o.optional("user", &px.User) {
		return ColorPixel{}, false
	}
	return px, true
}

// DecodeError decodes an error envelope.
func DecodeError(text string) (Error, bool) {
	o, ok := parseObject(text)
	if !ok {
		return Error{}, false
	}
	return decodeError(o)
}

func decodeError(o object) (Error, bool) {
	var e Error
	if !hasTag(o, TypeError) || !o.field("where", &e.Where) || !o.field("err", &e.Err) {
		return Error{}, false
	}
	return e, true
}

// DecodePing decodes a heartbeat envelope.
func DecodePing(text string) (Ping, bool) {
	o, ok := parseObject(text)
	if !ok {
		return Ping{}, false
	}
	return decodePing(o)
}

func decodePing(o object) (Ping, bool) {
	return Ping{}, hasTag(o, TypePing)
}
