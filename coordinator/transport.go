package coordinator

import (
	"context"

	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/absmach/fedcoord/pkg/mqtt"
)

var _ Transport = (*mqttTransport)(nil)

type mqttTransport struct {
	pubsub mqtt.PubSub
	topics *mqtt.TopicBuilder
}

// NewMQTTTransport publishes coordinator messages on per-client topics.
func NewMQTTTransport(pubsub mqtt.PubSub, topics *mqtt.TopicBuilder) Transport {
	return &mqttTransport{
		pubsub: pubsub,
		topics: topics,
	}
}

func (t *mqttTransport) Send(ctx context.Context, msg fl.Message) error {
	return t.pubsub.Publish(ctx, t.topics.ReceiverTopic(msg.Receiver), msg)
}

func (t *mqttTransport) Stop(ctx context.Context) error {
	return t.pubsub.Unsubscribe(ctx, t.topics.ServerTopic())
}
