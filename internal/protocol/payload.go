package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

var (
	nanToken  = []byte("NaN")
	nullToken = []byte("null")
)

// Payload is a decoded JSON frame.  Fields other than "status" vary by
// status and are passed through to callbacks untouched.
type Payload map[string]interface{}

// Binary is one reassembled binary payload.
type Binary struct {
	MimeType string
	Data     []byte
}

// Size returns the payload length in bytes.
func (b Binary) Size() int { return len(b.Data) }

// Parse decodes a JSON text frame into a Payload.
//
// Some device firmware encodes non-finite floats as a bare NaN, which is
// not valid JSON.  When the first decode fails and the text contains
// "NaN" anywhere, every occurrence is replaced with null and the decode
// is retried exactly once.  repaired reports whether that happened.
func Parse(data []byte) (p Payload, repaired bool, err error) {
	p, err = decode(data)
	if err == nil {
		return p, false, nil
	}
	if !bytes.Contains(data, nanToken) {
		return nil, false, err
	}
	p, err2 := decode(bytes.ReplaceAll(data, nanToken, nullToken))
	if err2 != nil {
		return nil, true, fmt.Errorf("after NaN repair: %w", err2)
	}
	return p, true, nil
}

// Decode decodes a JSON text frame with no repair.  The handshake uses
// it: a malformed frame there ends the session.
func Decode(data []byte) (Payload, error) {
	return decode(data)
}

func decode(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("frame is not a JSON object")
	}
	return p, nil
}

// Status returns the frame discriminator, or "" when absent.
func (p Payload) Status() Status {
	s, _ := p["status"].(string)
	return Status(s)
}

// String returns p[key] when it is a string.
func (p Payload) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Int returns p[key] as an integer when it is a finite JSON number.
func (p Payload) Int(key string) (int64, bool) {
	switch v := p[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case int:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

// Size returns the declared size of a "binary" frame: "size" when it is
// present and non-zero, otherwise "length".
func (p Payload) Size() int64 {
	if n, ok := p.Int("size"); ok && n != 0 {
		return n
	}
	n, _ := p.Int("length")
	return n
}

// Without returns a shallow copy of p lacking key.
func (p Payload) Without(key string) Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		if k != key {
			out[k] = v
		}
	}
	return out
}

// Binaries returns the finalized binaries attached to a successful
// response, in declaration order.
func (p Payload) Binaries() []Binary {
	b, _ := p["binaries"].([]Binary)
	return b
}

// Extra returns the auxiliary notices of the given status that were
// buffered while the command was running.
func (p Payload) Extra(status string) []Payload {
	e, _ := p[status].([]Payload)
	return e
}

// ErrorList normalizes an "error" field to a list: arrays are kept
// element by element, scalars are wrapped.
func ErrorList(v interface{}) []string {
	switch e := v.(type) {
	case nil:
		return []string{}
	case []interface{}:
		out := make([]string, 0, len(e))
		for _, item := range e {
			out = append(out, scalarString(item))
		}
		return out
	case []string:
		return e
	default:
		return []string{scalarString(e)}
	}
}

// FatalErrorList normalizes the "error" field of a fatal frame: strings
// are split on whitespace into tokens.
func FatalErrorList(v interface{}) []string {
	if s, ok := v.(string); ok {
		return strings.Fields(s)
	}
	return ErrorList(v)
}

func scalarString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
