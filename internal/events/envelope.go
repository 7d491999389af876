package events

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

const (
	TypeStateResolved    = "state.resolved"
	TypeResolutionFailed = "state.resolution_failed"
	TypePhaseStarted     = "state.phase"
	TypeProgressUpdated  = "action.progress"
	TypeActionCompleted  = "action.completed"
	TypeActionFailed     = "action.failed"
)

type Envelope struct {
	Type    string          `json:"type"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(typ string, at time.Time, payload any) (Envelope, error) {
	if typ == "" {
		return Envelope{}, errors.New("empty envelope type")
	}
	if payload == nil {
		return Envelope{Type: typ, At: at}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "marshal envelope payload")
	}
	return Envelope{Type: typ, At: at, Payload: b}, nil
}

func (e Envelope) MarshalJSONBytes() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "marshal envelope")
	}
	return b, nil
}

func ParseEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "unmarshal envelope")
	}
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return errors.Errorf("%s: empty payload", e.Type)
	}
	return errors.Wrapf(json.Unmarshal(e.Payload, v), "unmarshal %s payload", e.Type)
}

type StateResolved struct {
	Kind  string          `json:"kind"`
	State json.RawMessage `json:"state"`
}

type ResolutionFailed struct {
	Step  string `json:"step,omitempty"`
	Error string `json:"error"`
}

type PhaseStarted struct {
	Phase string `json:"phase"`
}

type ProgressUpdated struct {
	Current int64 `json:"current"`
	Total   int64 `json:"total"`
}

type ActionCompleted struct {
	ActionID string `json:"action_id"`
	Kind     string `json:"kind"`
}

type ActionFailed struct {
	ActionID string `json:"action_id"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
	Canceled bool   `json:"canceled,omitempty"`
}
