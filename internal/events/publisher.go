package events

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/jonboulle/clockwork"
	pkgerrors "github.com/pkg/errors"

	"github.com/caedis/gamelauncher/internal/launcher"
)

// Publisher stamps launcher events and queues them for Run, which publishes
// them one at a time in the order they were queued. Queueing never blocks, so
// the controller loop can notify while a handler is waiting on it.
type Publisher struct {
	pub   message.Publisher
	clock clockwork.Clock

	mu    sync.Mutex
	queue []queued
	wake  chan struct{}
}

type queued struct {
	typ     string
	payload []byte
}

func NewPublisher(pub message.Publisher, clock clockwork.Clock) *Publisher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Publisher{pub: pub, clock: clock, wake: make(chan struct{}, 1)}
}

func (p *Publisher) Publish(typ string, payload any) error {
	env, err := NewEnvelope(typ, p.clock.Now().UTC(), payload)
	if err != nil {
		return err
	}
	b, err := env.MarshalJSONBytes()
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.queue = append(p.queue, queued{typ: typ, payload: b})
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run drains the queue until ctx is done. With a bus that blocks until the
// subscriber acks, each event is handled before the next one is sent.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.wake:
		}
		for {
			next, ok := p.pop()
			if !ok {
				break
			}
			if ctx.Err() != nil {
				return nil
			}
			msg := message.NewMessage(watermill.NewUUID(), next.payload)
			if err := p.pub.Publish(TopicLauncherEvents, msg); err != nil {
				return pkgerrors.Wrapf(err, "publish %s", next.typ)
			}
		}
	}
}

func (p *Publisher) pop() (queued, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return queued{}, false
	}
	next := p.queue[0]
	p.queue[0] = queued{}
	p.queue = p.queue[1:]
	return next, true
}

func (p *Publisher) StateResolved(st launcher.State) error {
	raw, err := launcher.MarshalState(st)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal launcher state")
	}
	return p.Publish(TypeStateResolved, StateResolved{Kind: string(st.Kind()), State: raw})
}

func (p *Publisher) ResolutionFailed(err error) error {
	payload := ResolutionFailed{Error: err.Error()}
	var rerr *launcher.ResolutionError
	if errors.As(err, &rerr) {
		payload.Step = rerr.Step
	}
	return p.Publish(TypeResolutionFailed, payload)
}

func (p *Publisher) PhaseStarted(ph launcher.Phase) error {
	return p.Publish(TypePhaseStarted, PhaseStarted{Phase: ph.String()})
}

func (p *Publisher) ProgressUpdated(current, total int64) error {
	return p.Publish(TypeProgressUpdated, ProgressUpdated{Current: current, Total: total})
}

func (p *Publisher) ActionCompleted(actionID, kind string) error {
	return p.Publish(TypeActionCompleted, ActionCompleted{ActionID: actionID, Kind: kind})
}

func (p *Publisher) ActionFailed(actionID, kind string, err error, canceled bool) error {
	return p.Publish(TypeActionFailed, ActionFailed{ActionID: actionID, Kind: kind, Error: err.Error(), Canceled: canceled})
}
