package lens

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Codec defines the wire contract for feed messages and row payloads.
// Implement this interface to use alternative formats.
type Codec interface {
	// Encode serializes a message into its wire envelope.
	Encode(msg Message) ([]byte, error)

	// Decode deserializes a wire envelope into a message.
	Decode(data []byte) (Message, error)

	// DecodeFields deserializes a bare row payload, as stored by a backend.
	DecodeFields(data []byte) (Fields, error)

	// EncodeFields serializes a bare row payload.
	EncodeFields(fields Fields) ([]byte, error)

	// ContentType returns the MIME type for observability and debugging.
	ContentType() string
}

// Header is the metadata part of a wire message.
type Header struct {
	Command string `json:"command" yaml:"command"`
	Key     string `json:"key,omitempty" yaml:"key,omitempty"`
}

// Envelope is a wire message: a header plus an optional body. The body is
// absent for group_begin, group_end and oof.
type Envelope struct {
	Header Header `json:"header" yaml:"header"`
	Body   Fields `json:"body,omitempty" yaml:"body,omitempty"`
}

// EnvelopeOf builds the wire envelope for msg.
func EnvelopeOf(msg Message) (Envelope, error) {
	cmd := msg.Kind.Command()
	if cmd == "" {
		return Envelope{}, fmt.Errorf("cannot encode message kind %d", msg.Kind)
	}
	env := Envelope{Header: Header{Command: cmd, Key: msg.Key}}
	if msg.Kind == KindSnapshotRow || msg.Kind == KindUpsert {
		env.Body = msg.Fields
	}
	return env, nil
}

// Message converts the envelope into a feed message.
func (e Envelope) Message() (Message, error) {
	kind, err := ParseCommand(e.Header.Command)
	if err != nil {
		return Message{}, err
	}
	msg := Message{Kind: kind, Key: e.Header.Key}
	switch kind {
	case KindSnapshotRow, KindUpsert:
		if msg.Key == "" {
			return Message{}, fmt.Errorf("%s message without key", e.Header.Command)
		}
		msg.Fields = e.Body
		if msg.Fields == nil {
			msg.Fields = Fields{}
		}
	case KindRemove:
		if msg.Key == "" {
			return Message{}, fmt.Errorf("%s message without key", e.Header.Command)
		}
	}
	return msg, nil
}

// JSONCodec implements Codec using encoding/json.
type JSONCodec struct{}

// Encode serializes msg as a JSON envelope.
func (JSONCodec) Encode(msg Message) ([]byte, error) {
	env, err := EnvelopeOf(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode deserializes a JSON envelope.
func (JSONCodec) Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("invalid envelope: %w", err)
	}
	return env.Message()
}

// DecodeFields deserializes a JSON object.
func (JSONCodec) DecodeFields(data []byte) (Fields, error) {
	var f Fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid row payload: %w", err)
	}
	if f == nil {
		f = Fields{}
	}
	return f, nil
}

// EncodeFields serializes fields as a JSON object.
func (JSONCodec) EncodeFields(fields Fields) ([]byte, error) {
	return json.Marshal(fields)
}

// ContentType returns the JSON MIME type.
func (JSONCodec) ContentType() string {
	return "application/json"
}

// Ensure JSONCodec implements Codec.
var _ Codec = JSONCodec{}

// YAMLCodec implements Codec using gopkg.in/yaml.v3.
type YAMLCodec struct{}

// Encode serializes msg as a YAML envelope.
func (YAMLCodec) Encode(msg Message) ([]byte, error) {
	env, err := EnvelopeOf(msg)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(env)
}

// Decode deserializes a YAML envelope.
func (YAMLCodec) Decode(data []byte) (Message, error) {
	var env Envelope
	if err := yaml.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("invalid envelope: %w", err)
	}
	return env.Message()
}

// DecodeFields deserializes a YAML mapping.
func (YAMLCodec) DecodeFields(data []byte) (Fields, error) {
	var f Fields
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid row payload: %w", err)
	}
	if f == nil {
		f = Fields{}
	}
	return f, nil
}

// EncodeFields serializes fields as a YAML mapping.
func (YAMLCodec) EncodeFields(fields Fields) ([]byte, error) {
	return yaml.Marshal(fields)
}

// ContentType returns the YAML MIME type.
func (YAMLCodec) ContentType() string {
	return "application/x-yaml"
}

// Ensure YAMLCodec implements Codec.
var _ Codec = YAMLCodec{}
