package api

import (
	"net/http"
	"strconv"

	"github.com/absmach/fedcoord/coordinator"
	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/absmach/supermq"
)

var (
	_ supermq.Response = (*registerResponse)(nil)
	_ supermq.Response = (*listClientsResponse)(nil)
	_ supermq.Response = (*listRoundsResponse)(nil)
	_ supermq.Response = (*roundStatusResponse)(nil)
	_ supermq.Response = (*globalModelResponse)(nil)
	_ supermq.Response = (*updateResponse)(nil)
)

// registerResponse keeps the field names participants already parse.
type registerResponse struct {
	Errno         int             `json:"errno"`
	ExecutorID    string          `json:"executorId"`
	ExecutorTopic string          `json:"executorTopic"`
	ClientID      int             `json:"client_id"`
	Args          fl.TrainingArgs `json:"training_task_args"`
}

func newRegisterResponse(reg coordinator.Registration) registerResponse {
	return registerResponse{
		ExecutorID:    strconv.Itoa(reg.ClientID),
		ExecutorTopic: reg.Topic,
		ClientID:      reg.ClientID,
		Args:          reg.Args,
	}
}

func (r registerResponse) Code() int {
	return http.StatusOK
}

func (r registerResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r registerResponse) Empty() bool {
	return false
}

type listClientsResponse struct {
	coordinator.ClientPage
}

func (l listClientsResponse) Code() int {
	return http.StatusOK
}

func (l listClientsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listClientsResponse) Empty() bool {
	return false
}

type listRoundsResponse struct {
	coordinator.RoundPage
}

func (l listRoundsResponse) Code() int {
	return http.StatusOK
}

func (l listRoundsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listRoundsResponse) Empty() bool {
	return false
}

type roundStatusResponse struct {
	coordinator.RoundStatus
	started bool
}

func (r roundStatusResponse) Code() int {
	if r.started {
		return http.StatusAccepted
	}

	return http.StatusOK
}

func (r roundStatusResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r roundStatusResponse) Empty() bool {
	return false
}

type globalModelResponse struct {
	fl.GlobalModel
}

func (g globalModelResponse) Code() int {
	return http.StatusOK
}

func (g globalModelResponse) Headers() map[string]string {
	return map[string]string{}
}

func (g globalModelResponse) Empty() bool {
	return false
}

type updateResponse struct {
	Sender int `json:"sender"`
	Round  int `json:"round_idx"`
}

func (u updateResponse) Code() int {
	return http.StatusAccepted
}

func (u updateResponse) Headers() map[string]string {
	return map[string]string{}
}

func (u updateResponse) Empty() bool {
	return false
}
