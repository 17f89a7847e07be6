package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/live-auction/internal/bus"
	"github.com/mmeshcher/live-auction/internal/model"
)

// RecordSessions записывает число подключений этой реплики к активному аукциону
// и сигнализирует остальным репликам о пересчёте. Без активного аукциона ничего не делает.
func (s *Service) RecordSessions(ctx context.Context, localCount int64) error {
	auctionID, ok, err := s.store.ActiveAuction(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := s.store.SetPresence(ctx, auctionID, s.opts.ReplicaGroup, localCount); err != nil {
		return err
	}

	if err := s.pub.Publish(ctx, bus.TopicPresence, 1); err != nil {
		return fmt.Errorf("publish %s: %w", bus.TopicPresence, err)
	}
	return nil
}

// Presence оценивает число зрителей активного аукциона по счётчикам всех реплик.
func (s *Service) Presence(ctx context.Context) (*model.PresenceView, error) {
	auctionID, ok, err := s.store.ActiveAuction(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no active auction", model.ErrAuctionNotFound)
	}

	sum, err := s.store.SumPresence(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	return &model.PresenceView{
		AuctionID: auctionID,
		Viewers:   ceilDiv(sum, s.opts.PresenceMultiplier),
	}, nil
}

func ceilDiv(n, d int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
