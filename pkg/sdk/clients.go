package sdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/absmach/fedcoord/pkg/fl"
)

const (
	registerEndpoint = "/api/register"
	clientsEndpoint  = "/clients"
)

type Registration struct {
	Errno         int             `json:"errno"`
	ExecutorID    string          `json:"executorId"`
	ExecutorTopic string          `json:"executorTopic"`
	ClientID      int             `json:"client_id"`
	Args          fl.TrainingArgs `json:"training_task_args"`
}

type Client struct {
	DeviceID  string    `json:"device_id"`
	ClientID  int       `json:"client_id"`
	CreatedAt time.Time `json:"created_at"`
}

type ClientPage struct {
	Offset  uint64   `json:"offset"`
	Limit   uint64   `json:"limit"`
	Total   uint64   `json:"total"`
	Clients []Client `json:"clients"`
}

func (sdk *fedSDK) Register(deviceID string) (Registration, error) {
	u := sdk.coordinatorURL + registerEndpoint + "?device_id=" + url.QueryEscape(deviceID)

	body, err := sdk.processRequest(http.MethodPost, u, nil, http.StatusOK)
	if err != nil {
		return Registration{}, err
	}

	var r Registration
	if err := json.Unmarshal(body, &r); err != nil {
		return Registration{}, err
	}

	return r, nil
}

func (sdk *fedSDK) ListClients(offset, limit uint64) (ClientPage, error) {
	u := sdk.coordinatorURL + clientsEndpoint + pageQuery(offset, limit)

	body, err := sdk.processRequest(http.MethodGet, u, nil, http.StatusOK)
	if err != nil {
		return ClientPage{}, err
	}

	var p ClientPage
	if err := json.Unmarshal(body, &p); err != nil {
		return ClientPage{}, err
	}

	return p, nil
}

func pageQuery(offset, limit uint64) string {
	queries := make([]string, 0)
	if offset > 0 {
		queries = append(queries, fmt.Sprintf("offset=%d", offset))
	}
	if limit > 0 {
		queries = append(queries, fmt.Sprintf("limit=%d", limit))
	}
	if len(queries) == 0 {
		return ""
	}

	return "?" + strings.Join(queries, "&")
}
