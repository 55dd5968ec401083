package telegram

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/telegem/telegem/pkg/config"
)

// UpdatesTopic carries raw webhook payloads from the HTTP handler to the
// dispatch loop.
const UpdatesTopic = "telegram.updates"

// BuildPubSub returns the update transport: an in-process GoChannel pair by
// default, Redis Streams when enabled so multiple consumers can share the
// webhook load.
func BuildPubSub(cfg config.BusConfig) (message.Publisher, message.Subscriber, error) {
	logger := watermill.NewStdLogger(false, false)

	if !cfg.RedisEnabled {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
		return ch, ch, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: cfg.RedisGroup,
		Consumer:      cfg.RedisConsumer,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	log.Info().Str("addr", cfg.RedisAddr).Str("group", cfg.RedisGroup).Msg("using redis streams for update dispatch")
	return pub, sub, nil
}
