package api

import (
	"context"
	"errors"

	"github.com/absmach/fedcoord/coordinator"
	pkgerrors "github.com/absmach/fedcoord/pkg/errors"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-kit/kit/endpoint"
)

func registerEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(registerReq)
		if !ok {
			return registerResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return registerResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		reg, err := svc.Register(ctx, req.deviceID)
		if err != nil {
			return registerResponse{}, err
		}

		return newRegisterResponse(reg), nil
	}
}

func listClientsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listClientsResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listClientsResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		page, err := svc.ListClients(ctx, req.offset, req.limit)
		if err != nil {
			return listClientsResponse{}, err
		}

		return listClientsResponse{
			ClientPage: page,
		}, nil
	}
}

func listRoundsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listRoundsResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listRoundsResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		page, err := svc.ListRounds(ctx, req.offset, req.limit)
		if err != nil {
			return listRoundsResponse{}, err
		}

		return listRoundsResponse{
			RoundPage: page,
		}, nil
	}
}

func roundStatusEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		status, err := svc.RoundStatus(ctx)
		if err != nil {
			return roundStatusResponse{}, err
		}

		return roundStatusResponse{
			RoundStatus: status,
		}, nil
	}
}

func startRoundsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		if err := svc.StartRounds(ctx); err != nil {
			return roundStatusResponse{}, err
		}

		status, err := svc.RoundStatus(ctx)
		if err != nil {
			return roundStatusResponse{}, err
		}

		return roundStatusResponse{
			RoundStatus: status,
			started:     true,
		}, nil
	}
}

func globalModelEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		model, err := svc.GlobalModel(ctx)
		if err != nil {
			return globalModelResponse{}, err
		}

		return globalModelResponse{
			GlobalModel: model,
		}, nil
	}
}

func handleUpdateEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(updateReq)
		if !ok {
			return updateResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return updateResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.HandleUpdate(ctx, req.Message); err != nil {
			return updateResponse{}, err
		}

		return updateResponse{
			Sender: req.Sender,
			Round:  req.RoundIndex,
		}, nil
	}
}
