// Package message is the key-value message passed between flow nodes.
// Nodes read and write fields by configured name instead of by struct field.
package message

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Reserved field names.
const (
	FieldPayload    = "payload"
	FieldStatusCode = "statusCode"
	FieldOption     = "option"
	FieldReq        = "req"
)

// Message is a flow message. The HTTP request that produced it, if any, is
// kept outside the map so it is never serialised into outputs.
type Message struct {
	fields map[string]any
	req    Request
}

func New(fields map[string]any) *Message {
	m := &Message{fields: make(map[string]any, len(fields))}
	maps.Copy(m.fields, fields)
	if r, ok := m.fields[FieldReq].(map[string]any); ok {
		m.req = RequestFromMap(r)
		delete(m.fields, FieldReq)
	}
	return m
}

// Decode builds a Message from a JSON object.
func Decode(data []byte) (*Message, error) {
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return New(fields), nil
}

func (m *Message) Get(name string) (any, bool) {
	v, ok := m.fields[name]
	return v, ok
}

// String returns the named field when it holds a non-empty string.
func (m *Message) String(name string) (string, bool) {
	s, ok := m.fields[name].(string)
	return s, ok && s != ""
}

func (m *Message) Set(name string, value any) {
	m.fields[name] = value
}

func (m *Message) Delete(name string) {
	delete(m.fields, name)
}

// Request returns the inbound HTTP request bound to the message, or nil.
func (m *Message) Request() Request { return m.req }

func (m *Message) WithRequest(r Request) *Message {
	m.req = r
	return m
}

// Fields returns a shallow copy of the message fields.
func (m *Message) Fields() map[string]any {
	return maps.Clone(m.fields)
}

func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.fields)
}
