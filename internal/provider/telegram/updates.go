// internal/provider/telegram/updates.go
package telegram

import (
	"context"
	"sync/atomic"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// updateHandler feeds one connection's updates into the dispatcher. Private
// replies usually arrive as UpdateShortMessage, which the plain dispatcher
// ignores: the gap manager expands them once it runs, and until then the
// handler expands them itself.
type updateHandler struct {
	gaps     *updates.Manager
	deliver  func(tg.MessageClass)
	claimed  atomic.Bool
	tracking atomic.Bool
}

func newUpdateHandler(next telegram.UpdateHandler, deliver func(tg.MessageClass), logger *zap.Logger) *updateHandler {
	return &updateHandler{
		gaps: updates.New(updates.Config{
			Handler: next,
			Logger:  logger.Named("updates"),
		}),
		deliver: deliver,
	}
}

func (h *updateHandler) Handle(ctx context.Context, u tg.UpdatesClass) error {
	if !h.tracking.Load() {
		switch v := u.(type) {
		case *tg.UpdateShortMessage:
			h.deliver(shortMessage(v))
			return nil
		case *tg.UpdateShortChatMessage:
			h.deliver(shortChatMessage(v))
			return nil
		}
	}
	return h.gaps.Handle(ctx, u)
}

// claim reports whether the caller is the first to start gap tracking.
func (h *updateHandler) claim() bool {
	return h.claimed.CompareAndSwap(false, true)
}

func shortMessage(u *tg.UpdateShortMessage) *tg.Message {
	return &tg.Message{
		ID:      u.ID,
		PeerID:  &tg.PeerUser{UserID: u.UserID},
		Message: u.Message,
		Date:    u.Date,
		Out:     u.Out,
	}
}

func shortChatMessage(u *tg.UpdateShortChatMessage) *tg.Message {
	return &tg.Message{
		ID:      u.ID,
		PeerID:  &tg.PeerChat{ChatID: u.ChatID},
		FromID:  &tg.PeerUser{UserID: u.FromID},
		Message: u.Message,
		Date:    u.Date,
		Out:     u.Out,
	}
}
