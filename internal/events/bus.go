// Package events carries launcher notifications to the presentation layer.
package events

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	gochannel "github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
)

const TopicLauncherEvents = "launcher.events"

type Bus struct {
	Router     *message.Router
	Publisher  message.Publisher
	Subscriber message.Subscriber

	runOnce sync.Once
}

func NewInMemoryBus() (*Bus, error) {
	logger := watermill.NopLogger{}
	// Blocking until ack keeps a single subscriber's deliveries in publish order.
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            1024,
		BlockPublishUntilSubscriberAck: true,
	}, logger)

	r, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "new watermill router")
	}
	return &Bus{
		Router:     r,
		Publisher:  pubsub,
		Subscriber: pubsub,
	}, nil
}

func (b *Bus) AddHandler(name, topic string, handler func(*message.Message) error) {
	b.Router.AddConsumerHandler(name, topic, b.Subscriber, handler)
}

// Handle registers fn for every launcher event envelope.
func (b *Bus) Handle(name string, fn func(Envelope) error) {
	b.AddHandler(name, TopicLauncherEvents, func(msg *message.Message) error {
		defer msg.Ack()
		env, err := ParseEnvelope(msg.Payload)
		if err != nil {
			return err
		}
		return fn(env)
	})
}

// Run blocks until ctx is done or the router stops.
func (b *Bus) Run(ctx context.Context) error {
	var runErr error
	b.runOnce.Do(func() {
		go func() {
			<-ctx.Done()
			_ = b.Router.Close()
		}()
		runErr = b.Router.Run(ctx)
	})
	return runErr
}

// Running is closed once handlers are subscribed.
func (b *Bus) Running() chan struct{} {
	return b.Router.Running()
}
