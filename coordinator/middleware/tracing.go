package middleware

import (
	"context"

	"github.com/absmach/fedcoord/coordinator"
	"github.com/absmach/fedcoord/pkg/fl"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ coordinator.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    coordinator.Service
}

func Tracing(tracer trace.Tracer, svc coordinator.Service) coordinator.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) Register(ctx context.Context, deviceID string) (coordinator.Registration, error) {
	ctx, span := tm.tracer.Start(ctx, "register", trace.WithAttributes(
		attribute.String("device_id", deviceID),
	))
	defer span.End()

	return tm.svc.Register(ctx, deviceID)
}

func (tm *tracing) ListClients(ctx context.Context, offset, limit uint64) (coordinator.ClientPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-clients", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListClients(ctx, offset, limit)
}

func (tm *tracing) StartRounds(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "start-rounds")
	defer span.End()

	return tm.svc.StartRounds(ctx)
}

func (tm *tracing) HandleUpdate(ctx context.Context, msg fl.Message) error {
	ctx, span := tm.tracer.Start(ctx, "handle-update", trace.WithAttributes(
		attribute.Int("sender", msg.Sender),
		attribute.Int("round", msg.RoundIndex),
		attribute.Int("num_samples", msg.NumSamples),
	))
	defer span.End()

	return tm.svc.HandleUpdate(ctx, msg)
}

func (tm *tracing) RoundStatus(ctx context.Context) (coordinator.RoundStatus, error) {
	ctx, span := tm.tracer.Start(ctx, "round-status")
	defer span.End()

	return tm.svc.RoundStatus(ctx)
}

func (tm *tracing) ListRounds(ctx context.Context, offset, limit uint64) (coordinator.RoundPage, error) {
	ctx, span := tm.tracer.Start(ctx, "list-rounds", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListRounds(ctx, offset, limit)
}

func (tm *tracing) GlobalModel(ctx context.Context) (fl.GlobalModel, error) {
	ctx, span := tm.tracer.Start(ctx, "global-model")
	defer span.End()

	return tm.svc.GlobalModel(ctx)
}
