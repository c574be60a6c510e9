package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	gochannel "github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Bus delivers stack events to handlers over an in-memory watermill pub/sub.
type Bus struct {
	router *message.Router
	pubsub *gochannel.GoChannel

	done   chan struct{}
	runErr error
}

func NewBus() (*Bus, error) {
	logger := watermill.NopLogger{}
	r, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "new watermill router")
	}
	return &Bus{
		router: r,
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1024}, logger),
	}, nil
}

// Publisher is where the supervisor publishes; see Publish.
func (b *Bus) Publisher() message.Publisher {
	return b.pubsub
}

// Handle registers fn for every envelope on the stack topic. Messages that
// are not envelopes are logged and dropped. Register before Start.
func (b *Bus) Handle(name string, fn func(Envelope) error) {
	b.router.AddConsumerHandler(name, TopicStackEvents, b.pubsub, func(msg *message.Message) error {
		env, err := DecodeMessage(msg)
		if err != nil {
			log.Warn().Err(err).Str("handler", name).Msg("dropping undecodable event")
			return nil
		}
		return fn(env)
	})
}

// Start runs the router in the background and returns once it consumes.
// The router stops when ctx is done or on Close.
func (b *Bus) Start(ctx context.Context) error {
	if b.done != nil {
		return errors.New("bus already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.done = make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = b.router.Close()
	}()
	go func() {
		defer close(b.done)
		b.runErr = b.router.Run(ctx)
	}()

	select {
	case <-b.router.Running():
		return nil
	case <-b.done:
		if b.runErr != nil {
			return errors.Wrap(b.runErr, "event router")
		}
		return errors.New("event router stopped before running")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the router, waits for it to return and closes the pub/sub.
func (b *Bus) Close() error {
	err := b.router.Close()
	if b.done != nil {
		<-b.done
	}
	if cerr := b.pubsub.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
