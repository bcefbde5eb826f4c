package api_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/absmach/fedcoord/coordinator"
	"github.com/absmach/fedcoord/coordinator/api"
	"github.com/absmach/fedcoord/coordinator/mocks"
	pkgerrors "github.com/absmach/fedcoord/pkg/errors"
	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const contentType = "application/json"

type testRequest struct {
	client      *http.Client
	method      string
	url         string
	contentType string
	body        io.Reader
}

func (tr testRequest) make() (*http.Response, error) {
	req, err := http.NewRequest(tr.method, tr.url, tr.body)
	if err != nil {
		return nil, err
	}
	if tr.contentType != "" {
		req.Header.Set("Content-Type", tr.contentType)
	}

	return tr.client.Do(req)
}

func newServer(t *testing.T) (*httptest.Server, *mocks.Service) {
	t.Helper()

	return newDatasetServer(t, "")
}

func newDatasetServer(t *testing.T, datasetDir string) (*httptest.Server, *mocks.Service) {
	t.Helper()
	svc := mocks.NewService(t)
	logger := slog.New(slog.DiscardHandler)
	ts := httptest.NewServer(api.MakeHandler(svc, logger, "test", datasetDir))
	t.Cleanup(ts.Close)

	return ts, svc
}

func TestRegister(t *testing.T) {
	ts, svc := newServer(t)

	reg := coordinator.Registration{
		Registration: fl.Registration{DeviceID: "device-a", ClientID: 3},
		Topic:        "m/d/c/c/fl/clients/3",
		Args:         fl.TrainingArgs{Dataset: "mnist", CommRound: 5},
	}

	cases := []struct {
		desc        string
		url         string
		contentType string
		body        string
		deviceID    string
		svcErr      error
		status      int
	}{
		{
			desc:     "register with query parameter",
			url:      "/api/register?device_id=device-a",
			deviceID: "device-a",
			status:   http.StatusOK,
		},
		{
			desc:        "register with json body",
			url:         "/api/register",
			contentType: contentType,
			body:        `{"device_id":"device-a"}`,
			deviceID:    "device-a",
			status:      http.StatusOK,
		},
		{
			desc:        "register with form body",
			url:         "/api/register",
			contentType: "application/x-www-form-urlencoded",
			body:        "device_id=device-a",
			deviceID:    "device-a",
			status:      http.StatusOK,
		},
		{
			desc:   "register without device id",
			url:    "/api/register",
			status: http.StatusBadRequest,
		},
		{
			desc:     "register with storage failure",
			url:      "/api/register?device_id=device-a",
			deviceID: "device-a",
			svcErr:   pkgerrors.ErrConflict,
			status:   http.StatusConflict,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			if tc.deviceID != "" {
				svc.On("Register", mock.Anything, tc.deviceID).Return(reg, tc.svcErr).Once()
			}

			res, err := testRequest{
				client:      ts.Client(),
				method:      http.MethodPost,
				url:         ts.URL + tc.url,
				contentType: tc.contentType,
				body:        strings.NewReader(tc.body),
			}.make()
			require.NoError(t, err)
			defer res.Body.Close()
			assert.Equal(t, tc.status, res.StatusCode)

			if tc.status != http.StatusOK {
				return
			}
			var body struct {
				Errno         int             `json:"errno"`
				ExecutorID    string          `json:"executorId"`
				ExecutorTopic string          `json:"executorTopic"`
				ClientID      int             `json:"client_id"`
				Args          fl.TrainingArgs `json:"training_task_args"`
			}
			require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
			assert.Equal(t, 0, body.Errno)
			assert.Equal(t, "3", body.ExecutorID)
			assert.Equal(t, reg.Topic, body.ExecutorTopic)
			assert.Equal(t, 3, body.ClientID)
			assert.Equal(t, reg.Args, body.Args)
		})
	}
}

func TestStartRounds(t *testing.T) {
	ts, svc := newServer(t)

	cases := []struct {
		desc   string
		svcErr error
		status int
	}{
		{desc: "start rounds", status: http.StatusAccepted},
		{desc: "start rounds twice", svcErr: coordinator.ErrAlreadyStarted, status: http.StatusConflict},
		{desc: "start rounds without clients", svcErr: coordinator.ErrInsufficientClients, status: http.StatusPreconditionFailed},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			svc.On("StartRounds", mock.Anything).Return(tc.svcErr).Once()
			if tc.svcErr == nil {
				svc.On("RoundStatus", mock.Anything).Return(coordinator.RoundStatus{State: coordinator.StateAwaitingUpdates}, nil).Once()
			}

			res, err := testRequest{
				client: ts.Client(),
				method: http.MethodPost,
				url:    ts.URL + "/rounds/start",
			}.make()
			require.NoError(t, err)
			defer res.Body.Close()
			assert.Equal(t, tc.status, res.StatusCode)
		})
	}
}

func TestRoundStatus(t *testing.T) {
	ts, svc := newServer(t)

	status := coordinator.RoundStatus{
		State:      coordinator.StateAwaitingUpdates,
		RoundIndex: 1,
		RoundNum:   3,
		Expected:   2,
		Received:   []int{2},
	}
	svc.On("RoundStatus", mock.Anything).Return(status, nil).Once()

	res, err := testRequest{
		client: ts.Client(),
		method: http.MethodGet,
		url:    ts.URL + "/rounds/status",
	}.make()
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var got coordinator.RoundStatus
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, status.State, got.State)
	assert.Equal(t, status.Received, got.Received)
	assert.Equal(t, status.RoundIndex, got.RoundIndex)
}

func TestListEndpoints(t *testing.T) {
	ts, svc := newServer(t)

	cases := []struct {
		desc   string
		path   string
		method string
		status int
	}{
		{desc: "list clients", path: "/clients?offset=0&limit=10", method: "ListClients", status: http.StatusOK},
		{desc: "list rounds", path: "/rounds?offset=5&limit=5", method: "ListRounds", status: http.StatusOK},
		{desc: "list clients with invalid limit", path: "/clients?limit=abc", status: http.StatusBadRequest},
		{desc: "list rounds above max limit", path: "/rounds?limit=1000", status: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			switch tc.method {
			case "ListClients":
				svc.On("ListClients", mock.Anything, uint64(0), uint64(10)).Return(coordinator.ClientPage{Limit: 10}, nil).Once()
			case "ListRounds":
				svc.On("ListRounds", mock.Anything, uint64(5), uint64(5)).Return(coordinator.RoundPage{Offset: 5, Limit: 5}, nil).Once()
			}

			res, err := testRequest{
				client: ts.Client(),
				method: http.MethodGet,
				url:    ts.URL + tc.path,
			}.make()
			require.NoError(t, err)
			defer res.Body.Close()
			assert.Equal(t, tc.status, res.StatusCode)
		})
	}
}

func TestGlobalModel(t *testing.T) {
	ts, svc := newServer(t)

	model := fl.GlobalModel{Round: 2, Params: fl.Params{"w": {1.5}}}
	svc.On("GlobalModel", mock.Anything).Return(model, nil).Once()

	res, err := testRequest{
		client: ts.Client(),
		method: http.MethodGet,
		url:    ts.URL + "/model",
	}.make()
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var got fl.GlobalModel
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, model.Round, got.Round)
	assert.Equal(t, model.Params, got.Params)
}

func TestHandleUpdate(t *testing.T) {
	ts, svc := newServer(t)

	valid := fl.NewSendModelToServer(1, 0, 10, []byte(`{"w":[1]}`))

	cases := []struct {
		desc        string
		msg         any
		contentType string
		callsSvc    bool
		svcErr      error
		status      int
	}{
		{desc: "accepted update", msg: valid, contentType: contentType, callsSvc: true, status: http.StatusAccepted},
		{desc: "stale update", msg: valid, contentType: contentType, callsSvc: true, svcErr: fl.ErrStaleUpdate, status: http.StatusConflict},
		{desc: "late update", msg: valid, contentType: contentType, callsSvc: true, svcErr: fl.ErrLateMessage, status: http.StatusConflict},
		{desc: "unknown client", msg: valid, contentType: contentType, callsSvc: true, svcErr: fl.ErrUnknownClient, status: http.StatusNotFound},
		{desc: "malformed params", msg: valid, contentType: contentType, callsSvc: true, svcErr: fl.ErrMalformedUpdate, status: http.StatusBadRequest},
		{desc: "wrong message type", msg: fl.NewFinish(1, 0), contentType: contentType, status: http.StatusBadRequest},
		{desc: "missing content type", msg: valid, status: http.StatusBadRequest},
		{desc: "invalid json", msg: "{", contentType: contentType, status: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			if tc.callsSvc {
				svc.On("HandleUpdate", mock.Anything, valid).Return(tc.svcErr).Once()
			}

			body := toJSON(t, tc.msg)
			if s, ok := tc.msg.(string); ok {
				body = s
			}

			res, err := testRequest{
				client:      ts.Client(),
				method:      http.MethodPost,
				url:         ts.URL + "/updates",
				contentType: tc.contentType,
				body:        strings.NewReader(body),
			}.make()
			require.NoError(t, err)
			defer res.Body.Close()
			assert.Equal(t, tc.status, res.StatusCode, fmt.Sprintf("%s: unexpected status", tc.desc))
		})
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newServer(t)

	res, err := testRequest{
		client: ts.Client(),
		method: http.MethodGet,
		url:    ts.URL + "/health",
	}.make()
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestDownloadDataset(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "preprocessed")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "folder.zip"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0.zip"), []byte("partition zero"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(base, "secret.zip"), []byte("secret"), 0o600))

	ts, _ := newDatasetServer(t, dir)
	noDatasets, _ := newServer(t)

	cases := []struct {
		desc   string
		server *httptest.Server
		name   string
		status int
		body   string
	}{
		{desc: "existing partition", server: ts, name: "0", status: http.StatusOK, body: "partition zero"},
		{desc: "missing partition", server: ts, name: "7", status: http.StatusNotFound},
		{desc: "directory", server: ts, name: "folder", status: http.StatusNotFound},
		{desc: "escaped parent path", server: ts, name: "%2E%2E%2Fsecret", status: http.StatusNotFound},
		{desc: "no dataset directory", server: noDatasets, name: "0", status: http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			res, err := testRequest{
				client: tc.server.Client(),
				method: http.MethodGet,
				url:    tc.server.URL + "/get-preprocessed-data/" + tc.name,
			}.make()
			require.NoError(t, err)
			defer res.Body.Close()
			assert.Equal(t, tc.status, res.StatusCode, fmt.Sprintf("%s: unexpected status", tc.desc))

			if tc.status != http.StatusOK {
				return
			}
			data, err := io.ReadAll(res.Body)
			require.NoError(t, err)
			assert.Equal(t, tc.body, string(data))
			assert.Equal(t, "application/zip", res.Header.Get("Content-Type"))
			assert.Equal(t, "attachment; filename="+tc.name+".zip", res.Header.Get("Content-Disposition"))
		})
	}
}

func toJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)

	return string(data)
}
