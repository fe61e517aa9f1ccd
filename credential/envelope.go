package credential

import (
	"bytes"
	"encoding/json"
)

// Envelope is the credential block of an inbound request. It accepts any
// JSON shape: a plain string, an object with direct fields and/or
// encryptedData, or null.
type Envelope struct {
	plain  string
	fields map[string]any
	set    bool
}

// Plain wraps a bare API key.
func Plain(key string) *Envelope {
	return &Envelope{plain: key, set: key != ""}
}

// FromFields wraps an already decoded object envelope.
func FromFields(fields map[string]any) *Envelope {
	return &Envelope{fields: fields, set: len(fields) > 0}
}

// UnmarshalJSON implements json.Unmarshaler. Shapes other than string,
// object and null leave the envelope empty instead of failing the request.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	*e = Envelope{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		e.plain = s
		e.set = s != ""
	case '{':
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		e.fields = m
		e.set = len(m) > 0
	}
	return nil
}

// MarshalJSON never reveals secrets.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// String implements fmt.Stringer with secrets masked.
func (e *Envelope) String() string {
	switch {
	case e == nil || !e.set:
		return "Envelope{}"
	case e.plain != "":
		return "Envelope{plain:***}"
	default:
		return "Envelope{fields:***}"
	}
}

// IsEmpty reports whether the request carried no credential at all.
func (e *Envelope) IsEmpty() bool {
	return e == nil || !e.set
}

// Type returns the optional "type" discriminator of object envelopes.
func (e *Envelope) Type() string {
	if e == nil {
		return ""
	}
	s, _ := e.fields["type"].(string)
	return s
}
