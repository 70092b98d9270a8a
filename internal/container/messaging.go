package container

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/jaevor/go-nanoid"
	"github.com/samber/do"
	"github.com/serroba/window-limiter/internal/events"
	"github.com/serroba/window-limiter/internal/messaging"
	"go.uber.org/zap"
)

// InstanceName names the per-process instance ID in the injector.
const InstanceName = "instance"

// InstancePackage provides a random ID that identifies this process on events.
func InstancePackage(injector *do.Injector) {
	do.ProvideNamed(injector, InstanceName, func(i *do.Injector) (string, error) {
		options := do.MustInvoke[*Options](i)

		generate, err := nanoid.Standard(options.InstanceIDLength)
		if err != nil {
			return "", fmt.Errorf("instance id generator: %w", err)
		}

		return generate(), nil
	})
}

// PublisherGroupPackage provides the event publisher and the typed publish
// function for rejection events. The memory backend publishes to an
// in-process channel so it runs without Redis.
func PublisherGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		options := do.MustInvoke[*Options](i)
		logger := messaging.NewZapLogger(do.MustInvoke[*zap.Logger](i))

		var (
			publisher message.Publisher
			err       error
		)

		if options.Backend == BackendMemory {
			publisher = gochannel.NewGoChannel(gochannel.Config{}, logger)
		} else {
			publisher, err = redisstream.NewPublisher(redisstream.PublisherConfig{
				Client:     redisClient(i),
				Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("create publisher: %w", err)
			}
		}

		return messaging.NewPublisherGroup(publisher), nil
	})

	do.Provide(injector, func(i *do.Injector) (messaging.Publish[events.LimitRejectedEvent], error) {
		group := do.MustInvoke[*messaging.PublisherGroup](i)
		instance := do.MustInvokeNamed[string](i, InstanceName)

		return messaging.NewPublishFunc[events.LimitRejectedEvent](
			group.Publisher(), events.TopicLimitRejected, "server:"+instance,
		), nil
	})
}

// ConsumerGroupPackage provides the consumer group that logs rejection
// events read from the Redis stream.
func ConsumerGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		options := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client:        redisClient(i),
			Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
			ConsumerGroup: options.ConsumerGroup,
		}, messaging.NewZapLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("create subscriber: %w", err)
		}

		group := messaging.NewConsumerGroup(subscriber, logger)
		sink := events.NewLogSink(logger)

		group.Add(messaging.NewConsumer[events.LimitRejectedEvent](
			subscriber, events.TopicLimitRejected, sink.Handle, logger,
		))

		return group, nil
	})
}
