package middleware

import (
	"context"
	"time"

	"github.com/absmach/fedcoord/coordinator"
	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/go-kit/kit/metrics"
)

var _ coordinator.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     coordinator.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc coordinator.Service) coordinator.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) Register(ctx context.Context, deviceID string) (coordinator.Registration, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "register").Add(1)
		mm.latency.With("method", "register").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Register(ctx, deviceID)
}

func (mm *metricsMiddleware) ListClients(ctx context.Context, offset, limit uint64) (coordinator.ClientPage, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-clients").Add(1)
		mm.latency.With("method", "list-clients").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListClients(ctx, offset, limit)
}

func (mm *metricsMiddleware) StartRounds(ctx context.Context) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "start-rounds").Add(1)
		mm.latency.With("method", "start-rounds").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.StartRounds(ctx)
}

func (mm *metricsMiddleware) HandleUpdate(ctx context.Context, msg fl.Message) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "handle-update").Add(1)
		mm.latency.With("method", "handle-update").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.HandleUpdate(ctx, msg)
}

func (mm *metricsMiddleware) RoundStatus(ctx context.Context) (coordinator.RoundStatus, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "round-status").Add(1)
		mm.latency.With("method", "round-status").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.RoundStatus(ctx)
}

func (mm *metricsMiddleware) ListRounds(ctx context.Context, offset, limit uint64) (coordinator.RoundPage, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-rounds").Add(1)
		mm.latency.With("method", "list-rounds").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListRounds(ctx, offset, limit)
}

func (mm *metricsMiddleware) GlobalModel(ctx context.Context) (fl.GlobalModel, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "global-model").Add(1)
		mm.latency.With("method", "global-model").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GlobalModel(ctx)
}
