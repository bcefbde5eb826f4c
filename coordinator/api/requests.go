package api

import (
	"errors"

	"github.com/absmach/fedcoord/pkg/api"
	"github.com/absmach/fedcoord/pkg/fl"
	apiutil "github.com/absmach/supermq/api/http/util"
)

var errLimitSize = errors.New("limit exceeds maximum size")

type registerReq struct {
	deviceID string
}

func (r *registerReq) validate() error {
	if r.deviceID == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type updateReq struct {
	fl.Message
}

func (r *updateReq) validate() error {
	if r.Type != fl.MsgSendModelToServer {
		return fl.ErrMalformedUpdate
	}
	if len(r.ModelParams) == 0 {
		return fl.ErrMalformedUpdate
	}

	return nil
}

type listEntityReq struct {
	offset, limit uint64
}

func (e *listEntityReq) validate() error {
	if e.limit > api.MaxLimitSize {
		return errLimitSize
	}

	return nil
}
