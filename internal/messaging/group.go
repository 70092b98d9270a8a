package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Runnable is anything the group can start and stop.
type Runnable interface {
	Start(ctx context.Context) error
	Shutdown() error
}

// ConsumerGroup owns a subscriber and the consumers reading from it. Members
// start in registration order and stop in reverse, and the subscriber is
// closed last.
type ConsumerGroup struct {
	members    []Runnable
	started    int
	subscriber message.Subscriber
	logger     *zap.Logger
}

func NewConsumerGroup(subscriber message.Subscriber, logger *zap.Logger) *ConsumerGroup {
	return &ConsumerGroup{
		subscriber: subscriber,
		logger:     logger,
	}
}

// Add registers a member. Members added after Start are not started.
func (g *ConsumerGroup) Add(member Runnable) {
	g.members = append(g.members, member)
}

// Len reports the number of registered members.
func (g *ConsumerGroup) Len() int {
	return len(g.members)
}

// Start starts members one by one. On the first failure the members already
// running are stopped and the start error is returned along with any errors
// from stopping them.
func (g *ConsumerGroup) Start(ctx context.Context) error {
	for i, member := range g.members {
		if err := member.Start(ctx); err != nil {
			errs := append([]error{fmt.Errorf("start member %d: %w", i, err)}, g.stopStarted()...)

			return errors.Join(errs...)
		}

		g.started = i + 1
	}

	g.logger.Info("consumer group started", zap.Int("members", g.started))

	return nil
}

func (g *ConsumerGroup) stopStarted() []error {
	var errs []error

	for i := g.started - 1; i >= 0; i-- {
		if err := g.members[i].Shutdown(); err != nil {
			g.logger.Warn("member shutdown failed", zap.Int("member", i), zap.Error(err))
			errs = append(errs, fmt.Errorf("shutdown member %d: %w", i, err))
		}
	}

	g.started = 0

	return errs
}

// Shutdown stops the running members and closes the subscriber. Every step
// runs even when an earlier one fails.
func (g *ConsumerGroup) Shutdown() error {
	g.logger.Info("stopping consumer group", zap.Int("members", g.started))

	errs := g.stopStarted()

	if err := g.subscriber.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close subscriber: %w", err))
	}

	return errors.Join(errs...)
}
