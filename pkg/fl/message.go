package fl

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type MessageType uint8

const (
	MsgInitConfig MessageType = iota + 1
	MsgSyncModelToClient
	MsgSendModelToServer
	MsgFinish
)

// ServerID is the sender and receiver id of the coordinator; clients are 1-based.
const ServerID = 0

func (t MessageType) String() string {
	switch t {
	case MsgInitConfig:
		return "S2C_INIT_CONFIG"
	case MsgSyncModelToClient:
		return "S2C_SYNC_MODEL_TO_CLIENT"
	case MsgSendModelToServer:
		return "C2S_SEND_MODEL_TO_SERVER"
	case MsgFinish:
		return "S2C_FINISH"
	default:
		return "UNKNOWN"
	}
}

type Message struct {
	Type        MessageType `json:"msg_type"`
	Sender      int         `json:"sender"`
	Receiver    int         `json:"receiver"`
	RoundIndex  int         `json:"round_idx"`
	ModelParams []byte      `json:"model_params,omitempty"`
	ClientIndex string      `json:"client_idx,omitempty"`
	NumSamples  int         `json:"num_samples,omitempty"`
}

func NewInitConfig(receiver, partition int, params []byte) Message {
	return Message{
		Type:        MsgInitConfig,
		Sender:      ServerID,
		Receiver:    receiver,
		ModelParams: params,
		ClientIndex: strconv.Itoa(partition),
	}
}

func NewSyncModelToClient(receiver, round, partition int, params []byte) Message {
	return Message{
		Type:        MsgSyncModelToClient,
		Sender:      ServerID,
		Receiver:    receiver,
		RoundIndex:  round,
		ModelParams: params,
		ClientIndex: strconv.Itoa(partition),
	}
}

func NewSendModelToServer(sender, round, numSamples int, params []byte) Message {
	return Message{
		Type:        MsgSendModelToServer,
		Sender:      sender,
		Receiver:    ServerID,
		RoundIndex:  round,
		ModelParams: params,
		NumSamples:  numSamples,
	}
}

func NewFinish(receiver, round int) Message {
	return Message{
		Type:       MsgFinish,
		Sender:     ServerID,
		Receiver:   receiver,
		RoundIndex: round,
	}
}

// Partition returns the data partition index carried by init and sync messages.
func (m Message) Partition() (int, error) {
	idx, err := strconv.Atoi(m.ClientIndex)
	if err != nil {
		return 0, fmt.Errorf("%w: client index %q", ErrMalformedUpdate, m.ClientIndex)
	}

	return idx, nil
}

func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformedUpdate, err)
	}

	return msg, nil
}
