// Package dispatcher ретранслирует события шины клиентам, подключённым к реплике.
//
// Обработчик не хранит состояния: на каждое событие представление заново
// собирается из общего хранилища, поэтому повторная доставка безопасна.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/live-auction/internal/bus"
	"github.com/mmeshcher/live-auction/internal/hub"
	"github.com/mmeshcher/live-auction/internal/model"
)

// Viewer собирает представления трансляции.
type Viewer interface {
	RankingView(ctx context.Context, auctionID string) (*model.RankingView, error)
	Results(ctx context.Context, auctionID string) (*model.ResultFeed, error)
	Presence(ctx context.Context) (*model.PresenceView, error)
}

// Pusher доставляет кадр подписчикам адреса.
type Pusher interface {
	Push(dest string, v any) (int, error)
}

// Recorder принимает события для метрик.
type Recorder interface {
	EventRelayed(topic string, delivered int)
}

type nopRecorder struct{}

func (nopRecorder) EventRelayed(string, int) {}

// Dispatcher обрабатывает события шины.
type Dispatcher struct {
	viewer   Viewer
	pusher   Pusher
	logger   *zap.Logger
	recorder Recorder
}

// New создаёт диспетчер. recorder может быть nil.
func New(viewer Viewer, pusher Pusher, logger *zap.Logger, recorder Recorder) *Dispatcher {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Dispatcher{viewer: viewer, pusher: pusher, logger: logger, recorder: recorder}
}

// Handle обрабатывает одно событие. Подходит как bus.Handler.
func (d *Dispatcher) Handle(ctx context.Context, del bus.Delivery) error {
	switch del.Topic {
	case bus.TopicChat:
		var msg model.ChatMessage
		if err := decode(del, &msg); err != nil {
			return err
		}
		if msg.AuctionID == "" {
			return fmt.Errorf("%w: chat message without auction", bus.ErrMalformed)
		}
		return d.push(del.Topic, hub.Destination(hub.ChannelChat, msg.AuctionID), msg)

	case bus.TopicBidInfo:
		auctionID, err := auctionOf(del)
		if err != nil {
			return err
		}
		view, err := d.viewer.RankingView(ctx, auctionID)
		if err != nil {
			return d.viewError(del.Topic, err)
		}
		return d.push(del.Topic, hub.Destination(hub.ChannelBidInfo, auctionID), view)

	case bus.TopicBidResult:
		auctionID, err := auctionOf(del)
		if err != nil {
			return err
		}
		feed, err := d.viewer.Results(ctx, auctionID)
		if err != nil {
			return d.viewError(del.Topic, err)
		}
		return d.push(del.Topic, hub.Destination(hub.ChannelBidResult, auctionID), feed)

	case bus.TopicPresence:
		view, err := d.viewer.Presence(ctx)
		if err != nil {
			return d.viewError(del.Topic, err)
		}
		return d.push(del.Topic, hub.Destination(hub.ChannelPresence, view.AuctionID), view)

	default:
		d.logger.Warn("unknown event topic", zap.String("topic", del.Topic))
		return nil
	}
}

func (d *Dispatcher) push(topic, dest string, v any) error {
	n, err := d.pusher.Push(dest, v)
	if err != nil {
		return fmt.Errorf("%w: %v", bus.ErrMalformed, err)
	}
	d.recorder.EventRelayed(topic, n)
	return nil
}

// viewError отделяет отсутствующее состояние от временных сбоев хранилища.
func (d *Dispatcher) viewError(topic string, err error) error {
	if errors.Is(err, model.ErrAuctionNotFound) || errors.Is(err, model.ErrProductNotFound) {
		d.logger.Debug("nothing to relay", zap.String("topic", topic), zap.Error(err))
		return nil
	}
	return fmt.Errorf("build view for %s: %w", topic, err)
}

func decode(del bus.Delivery, v any) error {
	if err := json.Unmarshal(del.Body, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", bus.ErrMalformed, del.Topic, err)
	}
	return nil
}

func auctionOf(del bus.Delivery) (string, error) {
	var ev model.AuctionEvent
	if err := decode(del, &ev); err != nil {
		return "", err
	}
	if ev.AuctionID == "" {
		return "", fmt.Errorf("%w: %s without auction", bus.ErrMalformed, del.Topic)
	}
	return ev.AuctionID, nil
}
