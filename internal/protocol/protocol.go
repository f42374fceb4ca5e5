// Package protocol defines the JSON messages exchanged with a simulation client.
//
// Every message is an envelope {"event": ..., "params": {...}}. Commands without arguments
// may omit params.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const Version = "1.0"

// Event names.
const (
	EventStart   = "start"
	EventPause   = "pause"
	EventResume  = "resume"
	EventForward = "forward"

	EventProgress = "progress"
	EventError    = "error"
)

var (
	ErrMalformed    = errors.New("protocol: malformed message")
	ErrInvalidStart = errors.New("protocol: invalid start params")
)

// Envelope lets us route JSON messages by event before decoding params.
type Envelope struct {
	Event  string          `json:"event"`
	Params json.RawMessage `json:"params,omitempty"`
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return e, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return e, nil
}

type Kind int

const (
	KindUnknown Kind = iota
	KindStart
	KindPause
	KindResume
	KindForward
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return EventStart
	case KindPause:
		return EventPause
	case KindResume:
		return EventResume
	case KindForward:
		return EventForward
	default:
		return "unknown"
	}
}

// Command is a decoded client message. Start is only set for KindStart.
// Invalid is set when a start frame carried params that are not a landscape and hours;
// the command must be rejected rather than run.
type Command struct {
	Kind    Kind
	Start   StartParams
	Invalid error
}

// Decode turns a raw client frame into a Command. Unknown events decode to KindUnknown
// with a nil error; frames that are not an envelope decode to KindUnknown with an error
// wrapping ErrMalformed. A start with bad params decodes to KindStart with Invalid set.
// Range checks on start params are left to the simulation.
func Decode(b []byte) (Command, error) {
	env, err := DecodeEnvelope(b)
	if err != nil {
		return Command{}, err
	}
	switch env.Event {
	case EventStart:
		p, err := decodeStart(env.Params)
		if err != nil {
			return Command{Kind: KindStart, Invalid: err}, nil
		}
		return Command{Kind: KindStart, Start: p}, nil
	case EventPause:
		return Command{Kind: KindPause}, nil
	case EventResume:
		return Command{Kind: KindResume}, nil
	case EventForward:
		return Command{Kind: KindForward}, nil
	default:
		return Command{}, nil
	}
}

func decodeStart(raw json.RawMessage) (StartParams, error) {
	var p StartParams
	if len(raw) == 0 {
		return p, fmt.Errorf("%w: start without params", ErrInvalidStart)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidStart, err)
	}
	if err := startSchema().Validate(doc); err != nil {
		return p, fmt.Errorf("%w: landscape must be an array of numbers and hours a number", ErrInvalidStart)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidStart, err)
	}
	return p, nil
}

func encode(event string, params any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Params: raw})
}

func EncodeProgress(p ProgressParams) ([]byte, error) {
	if p.Levels == nil {
		p.Levels = []float64{}
	}
	return encode(EventProgress, p)
}

func EncodeError(code, message string) ([]byte, error) {
	return encode(EventError, ErrorParams{Code: code, Message: message})
}

// EncodeCommand is the client side of Decode; tests and tools use it to drive a server.
func EncodeCommand(c Command) ([]byte, error) {
	switch c.Kind {
	case KindStart:
		return encode(EventStart, c.Start)
	case KindPause, KindResume, KindForward:
		return json.Marshal(Envelope{Event: c.Kind.String()})
	default:
		return nil, fmt.Errorf("encode command: unknown kind %d", int(c.Kind))
	}
}
