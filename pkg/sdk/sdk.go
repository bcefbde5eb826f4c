package sdk

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/absmach/fedcoord/pkg/fl"
)

const CTJSON string = "application/json"

type PageMetadata struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
}

type SDK interface {
	// Register registers a device with the coordinator and returns its client
	// id together with the training arguments.
	//
	// example:
	//  reg, _ := sdk.Register("raspberry-7")
	//  fmt.Println(reg.ClientID, reg.Args.CommRound)
	Register(deviceID string) (Registration, error)

	// ListClients lists registered clients.
	//
	// example:
	//  page, _ := sdk.ListClients(0, 10)
	//  fmt.Println(page)
	ListClients(offset uint64, limit uint64) (ClientPage, error)

	// StartRounds sends the initial model to the registered clients.
	//
	// example:
	//  status, _ := sdk.StartRounds()
	//  fmt.Println(status.State)
	StartRounds() (RoundStatus, error)

	// RoundStatus returns the state of the current round.
	//
	// example:
	//  status, _ := sdk.RoundStatus()
	//  fmt.Println(status.RoundIndex, status.Received)
	RoundStatus() (RoundStatus, error)

	// ListRounds lists finished round attempts.
	//
	// example:
	//  page, _ := sdk.ListRounds(0, 10)
	//  fmt.Println(page)
	ListRounds(offset uint64, limit uint64) (RoundPage, error)

	// GlobalModel returns the current global model.
	//
	// example:
	//  model, _ := sdk.GlobalModel()
	//  fmt.Println(model.Round)
	GlobalModel() (fl.GlobalModel, error)

	// SendUpdate posts a client update over HTTP instead of MQTT.
	//
	// example:
	//  msg := fl.NewSendModelToServer(1, 0, 600, params)
	//  _ = sdk.SendUpdate(msg)
	SendUpdate(msg fl.Message) error
}

type fedSDK struct {
	coordinatorURL string
	client         *http.Client
}

type Config struct {
	CoordinatorURL  string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &fedSDK{
		coordinatorURL: cfg.CoordinatorURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *fedSDK) processRequest(method, reqURL string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", CTJSON)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		var e struct {
			Err string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Err != "" {
			return []byte{}, fmt.Errorf("unexpected response code: %d: %s", resp.StatusCode, e.Err)
		}

		return []byte{}, fmt.Errorf("unexpected response code: %d", resp.StatusCode)
	}

	return body, nil
}
