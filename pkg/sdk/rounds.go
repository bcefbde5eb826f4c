package sdk

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/absmach/fedcoord/pkg/fl"
)

const (
	roundsEndpoint  = "/rounds"
	modelEndpoint   = "/model"
	updatesEndpoint = "/updates"
)

type RoundStatus struct {
	State        string    `json:"state"`
	RoundIndex   int       `json:"round_index"`
	RoundNum     int       `json:"round_num"`
	Attempt      int       `json:"attempt"`
	Expected     int       `json:"expected"`
	Received     []int     `json:"received"`
	Excluded     []int     `json:"excluded,omitempty"`
	ModelVersion int       `json:"model_version"`
	StartedAt    time.Time `json:"started_at,omitempty"`
}

type RoundPage struct {
	Offset uint64           `json:"offset"`
	Limit  uint64           `json:"limit"`
	Total  uint64           `json:"total"`
	Rounds []fl.RoundRecord `json:"rounds"`
}

func (sdk *fedSDK) StartRounds() (RoundStatus, error) {
	u := sdk.coordinatorURL + roundsEndpoint + "/start"

	body, err := sdk.processRequest(http.MethodPost, u, nil, http.StatusAccepted)
	if err != nil {
		return RoundStatus{}, err
	}

	var s RoundStatus
	if err := json.Unmarshal(body, &s); err != nil {
		return RoundStatus{}, err
	}

	return s, nil
}

func (sdk *fedSDK) RoundStatus() (RoundStatus, error) {
	u := sdk.coordinatorURL + roundsEndpoint + "/status"

	body, err := sdk.processRequest(http.MethodGet, u, nil, http.StatusOK)
	if err != nil {
		return RoundStatus{}, err
	}

	var s RoundStatus
	if err := json.Unmarshal(body, &s); err != nil {
		return RoundStatus{}, err
	}

	return s, nil
}

func (sdk *fedSDK) ListRounds(offset, limit uint64) (RoundPage, error) {
	u := sdk.coordinatorURL + roundsEndpoint + pageQuery(offset, limit)

	body, err := sdk.processRequest(http.MethodGet, u, nil, http.StatusOK)
	if err != nil {
		return RoundPage{}, err
	}

	var p RoundPage
	if err := json.Unmarshal(body, &p); err != nil {
		return RoundPage{}, err
	}

	return p, nil
}

func (sdk *fedSDK) GlobalModel() (fl.GlobalModel, error) {
	u := sdk.coordinatorURL + modelEndpoint

	body, err := sdk.processRequest(http.MethodGet, u, nil, http.StatusOK)
	if err != nil {
		return fl.GlobalModel{}, err
	}

	var m fl.GlobalModel
	if err := json.Unmarshal(body, &m); err != nil {
		return fl.GlobalModel{}, err
	}

	return m, nil
}

func (sdk *fedSDK) SendUpdate(msg fl.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	u := sdk.coordinatorURL + updatesEndpoint
	_, err = sdk.processRequest(http.MethodPost, u, data, http.StatusAccepted)

	return err
}
