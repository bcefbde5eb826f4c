package mocks

import (
	"context"

	"github.com/absmach/fedcoord/coordinator"
	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/stretchr/testify/mock"
)

var _ coordinator.Service = (*Service)(nil)

// Service is a mock implementation of the coordinator.Service interface.
type Service struct {
	mock.Mock
}

func NewService(t interface {
	mock.TestingT
	Cleanup(func())
},
) *Service {
	m := &Service{}
	m.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *Service) Register(ctx context.Context, deviceID string) (coordinator.Registration, error) {
	args := m.Called(ctx, deviceID)

	return args.Get(0).(coordinator.Registration), args.Error(1)
}

func (m *Service) ListClients(ctx context.Context, offset, limit uint64) (coordinator.ClientPage, error) {
	args := m.Called(ctx, offset, limit)

	return args.Get(0).(coordinator.ClientPage), args.Error(1)
}

func (m *Service) StartRounds(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *Service) HandleUpdate(ctx context.Context, msg fl.Message) error {
	args := m.Called(ctx, msg)

	return args.Error(0)
}

func (m *Service) RoundStatus(ctx context.Context) (coordinator.RoundStatus, error) {
	args := m.Called(ctx)

	return args.Get(0).(coordinator.RoundStatus), args.Error(1)
}

func (m *Service) ListRounds(ctx context.Context, offset, limit uint64) (coordinator.RoundPage, error) {
	args := m.Called(ctx, offset, limit)

	return args.Get(0).(coordinator.RoundPage), args.Error(1)
}

func (m *Service) GlobalModel(ctx context.Context) (fl.GlobalModel, error) {
	args := m.Called(ctx)

	return args.Get(0).(fl.GlobalModel), args.Error(1)
}
