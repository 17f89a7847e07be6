package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/live-auction/internal/hub"
	"github.com/mmeshcher/live-auction/internal/model"
	"github.com/mmeshcher/live-auction/internal/validation"
)

const heartbeatInterval = 15 * time.Second

// Subscribe открывает поток server-sent events для канала трансляции аукциона.
// Первым кадром отправляется текущее состояние канала, если оно есть.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	id := chi.URLParam(r, "auctionId")
	if !hub.ValidChannel(channel) || !validation.IsValidID(id) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := h.hub.Subscribe(hub.Destination(channel, id))
	defer h.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if frame := h.snapshot(r.Context(), channel, id); frame != nil {
		if err := writeEvent(w, channel, frame); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeEvent(w, channel, frame); err != nil {
				h.logger.Debug("subscriber gone", zap.String("dest", sub.Dest), zap.Error(err))
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// snapshot возвращает текущее состояние канала. Отсутствие состояния не ошибка.
func (h *Handler) snapshot(ctx context.Context, channel, auctionID string) []byte {
	var (
		v   any
		err error
	)

	switch channel {
	case hub.ChannelBidInfo:
		v, err = h.service.RankingView(ctx, auctionID)
	case hub.ChannelBidResult:
		v, err = h.service.Results(ctx, auctionID)
	case hub.ChannelPresence:
		var view *model.PresenceView
		view, err = h.service.Presence(ctx)
		if err == nil && view.AuctionID != auctionID {
			return nil
		}
		v = view
	default:
		return nil
	}

	if err != nil {
		if !errors.Is(err, model.ErrAuctionNotFound) && !errors.Is(err, model.ErrProductNotFound) {
			h.logger.Warn("snapshot error", zap.String("channel", channel), zap.String("auctionID", auctionID), zap.Error(err))
		}
		return nil
	}

	frame, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("encode snapshot error", zap.String("channel", channel), zap.Error(err))
		return nil
	}
	return frame
}

func writeEvent(w http.ResponseWriter, event string, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
