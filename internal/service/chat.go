package service

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"

	"github.com/mmeshcher/live-auction/internal/bus"
	"github.com/mmeshcher/live-auction/internal/model"
)

// SendChat публикует сообщение чата трансляции.
// Администратор пишет от имени аукциона, участник должен войти в трансляцию.
func (s *Service) SendChat(ctx context.Context, auctionID string, memberID int64, role model.MemberRole, text string) (*model.ChatMessage, error) {
	// Сущности раскрываются до очистки, иначе закодированная разметка проходит фильтр.
	clean := strings.TrimSpace(s.policy.Sanitize(html.UnescapeString(text)))
	if clean == "" {
		return nil, model.ErrInvalidMessage
	}

	var msg model.ChatMessage
	if role == model.RoleAdmin {
		msg = s.notice(auctionID, clean)
	} else {
		m, ok, err := s.store.Member(ctx, memberID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, model.ErrMemberNotFound
		}
		msg = model.ChatMessage{
			ID:           uuid.NewString(),
			AuctionID:    auctionID,
			MemberID:     m.ID,
			Nickname:     m.Nickname,
			ProfileImage: m.ProfileImage,
			Message:      clean,
			SentAt:       s.now(),
		}
	}

	if err := s.pub.Publish(ctx, bus.TopicChat, msg); err != nil {
		return nil, fmt.Errorf("publish %s: %w", bus.TopicChat, err)
	}
	return &msg, nil
}
