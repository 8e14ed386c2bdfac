package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// KV is one ordered key/value pair of a Payload.
type KV struct {
	Key   string
	Value any
}

// Payload is an ordered mapping, preserving insertion order through a
// JSON object round-trip. A plain Go map loses key order on marshal, so
// a work unit's payload needs this instead wherever ordering is
// observable (prompt synthesis lists a sample's keys in order, and the
// dashboard displays payload fields in the order the enumerator
// produced them).
type Payload []KV

func (p Payload) Get(key string) (any, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

func (p Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("payload: expected JSON object, got %v", tok)
	}

	out := Payload{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("payload: expected string key, got %v", keyTok)
		}
		var val any
		if err := dec.Decode(&val); err != nil {
			return err
		}
		out = append(out, KV{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}

// ToMap is a convenience accessor for callers that don't care about
// order (template rendering, SQL enumerator row binding).
func (p Payload) ToMap() map[string]any {
	m := make(map[string]any, len(p))
	for _, kv := range p {
		m[kv.Key] = kv.Value
	}
	return m
}

func PayloadFromMap(m map[string]any) Payload {
	p := make(Payload, 0, len(m))
	for k, v := range m {
		p = append(p, KV{Key: k, Value: v})
	}
	return p
}
