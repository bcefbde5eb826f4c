package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/absmach/fedcoord/pkg/mqtt"
)

// Subscribe routes client updates from the server topic into svc and logs
// participants the broker reports as offline.
func Subscribe(ctx context.Context, svc Service, pubsub mqtt.PubSub, topics *mqtt.TopicBuilder, logger *slog.Logger) error {
	if err := pubsub.Subscribe(ctx, topics.ServerTopic(), Handle(ctx, svc, logger)); err != nil {
		return err
	}

	return pubsub.Subscribe(ctx, topics.OfflineTopic(), handleOffline(logger))
}

// Handle decodes a client message and hands it to svc. Rejected updates are
// logged and dropped so they never stall the round.
func Handle(ctx context.Context, svc Service, logger *slog.Logger) mqtt.Handler {
	return func(topic string, payload []byte) error {
		msg, err := fl.DecodeMessage(payload)
		if err != nil {
			logger.Warn("dropping undecodable message", slog.String("topic", topic), slog.Any("error", err))

			return nil
		}

		err = svc.HandleUpdate(ctx, msg)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, fl.ErrLateMessage):
			logger.Info("ignoring message after training finished",
				slog.Int("sender", msg.Sender),
				slog.Int("round", msg.RoundIndex),
			)

			return nil
		case errors.Is(err, fl.ErrMalformedUpdate),
			errors.Is(err, fl.ErrUnknownClient),
			errors.Is(err, fl.ErrStaleUpdate),
			errors.Is(err, ErrRoundNotStarted):
			logger.Warn("dropping client update",
				slog.Int("sender", msg.Sender),
				slog.Int("round", msg.RoundIndex),
				slog.Any("error", err),
			)

			return nil
		default:
			return err
		}
	}
}

func handleOffline(logger *slog.Logger) mqtt.Handler {
	return func(_ string, payload []byte) error {
		var status struct {
			Status   string `json:"status"`
			DeviceID string `json:"device_id"`
		}
		if err := json.Unmarshal(payload, &status); err != nil {
			return err
		}
		logger.Warn("participant went offline", slog.String("device_id", status.DeviceID))

		return nil
	}
}
