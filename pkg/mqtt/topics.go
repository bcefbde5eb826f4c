package mqtt

import "fmt"

type TopicBuilder struct {
	domainID  string
	channelID string
}

func NewTopicBuilder(domainID, channelID string) *TopicBuilder {
	return &TopicBuilder{
		domainID:  domainID,
		channelID: channelID,
	}
}

func (tb *TopicBuilder) BaseTopic() string {
	return fmt.Sprintf("m/%s/c/%s", tb.domainID, tb.channelID)
}

// ServerTopic carries client to server model updates.
func (tb *TopicBuilder) ServerTopic() string {
	return tb.BaseTopic() + "/fl/server"
}

// ClientTopic carries init, sync and finish messages for one client id.
func (tb *TopicBuilder) ClientTopic(clientID int) string {
	return fmt.Sprintf("%s/fl/clients/%d", tb.BaseTopic(), clientID)
}

func (tb *TopicBuilder) OfflineTopic() string {
	return tb.BaseTopic() + "/control/participant/offline"
}

func (tb *TopicBuilder) ReceiverTopic(receiver int) string {
	if receiver == 0 {
		return tb.ServerTopic()
	}

	return tb.ClientTopic(receiver)
}
