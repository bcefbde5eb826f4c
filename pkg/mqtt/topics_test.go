package mqtt_test

import (
	"testing"

	"github.com/absmach/fedcoord/pkg/mqtt"
	"github.com/stretchr/testify/assert"
)

func TestTopicBuilder(t *testing.T) {
	tb := mqtt.NewTopicBuilder("domain", "channel")

	cases := []struct {
		desc  string
		topic string
		want  string
	}{
		{desc: "server topic", topic: tb.ServerTopic(), want: "m/domain/c/channel/fl/server"},
		{desc: "client topic", topic: tb.ClientTopic(3), want: "m/domain/c/channel/fl/clients/3"},
		{desc: "receiver server", topic: tb.ReceiverTopic(0), want: "m/domain/c/channel/fl/server"},
		{desc: "receiver client", topic: tb.ReceiverTopic(2), want: "m/domain/c/channel/fl/clients/2"},
		{desc: "offline topic", topic: tb.OfflineTopic(), want: "m/domain/c/channel/control/participant/offline"},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.topic)
		})
	}
}
