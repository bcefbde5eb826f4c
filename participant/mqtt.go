package participant

import (
	"context"
	"errors"
	"log/slog"

	"github.com/absmach/fedcoord/pkg/fl"
	"github.com/absmach/fedcoord/pkg/mqtt"
)

// handle runs training outside the MQTT delivery goroutine so the broker
// connection keeps being served while a round trains.
func (p *Participant) handle(ctx context.Context) mqtt.Handler {
	return func(topic string, payload []byte) error {
		msg, err := fl.DecodeMessage(payload)
		if err != nil {
			return err
		}
		p.logger.Debug("received coordinator message",
			slog.String("topic", topic),
			slog.String("type", msg.Type.String()),
			slog.Int("round", msg.RoundIndex),
		)

		go func() {
			err := p.HandleModel(ctx, msg)
			switch {
			case err == nil:
			case errors.Is(err, fl.ErrLateMessage):
				p.logger.Info("ignoring message after training finished", slog.String("type", msg.Type.String()))
			case errors.Is(err, ErrBusy):
				p.logger.Warn("dropping model received while training", slog.Int("round", msg.RoundIndex))
			default:
				p.logger.Error("failed to handle coordinator message", slog.Int("round", msg.RoundIndex), slog.Any("error", err))
			}
		}()

		return nil
	}
}
