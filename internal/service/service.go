// Package service реализует координацию ставок и трансляции живого аукциона.
//
// Состояние трансляции хранится только в общем хранилище; сервис не держит
// в памяти ничего, что переживает запрос. Изменения состояния объявляются
// событиями шины, а рассылку клиентам выполняет dispatcher каждой реплики.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/mmeshcher/live-auction/internal/model"
	"github.com/mmeshcher/live-auction/internal/store"
)

// Repository описывает контракт хранилища истории аукционов.
type Repository interface {
	GetAuction(ctx context.Context, auctionID string) (*model.Auction, error)
	UpdateAuctionStatus(ctx context.Context, auctionID string, status model.AuctionStatus, at time.Time) error
	UpdateProductProgress(ctx context.Context, productID string, progress model.Progress) error
	SaveSettledBids(ctx context.Context, bids []model.SettledBid) error
}

// Publisher публикует события в шину.
type Publisher interface {
	Publish(ctx context.Context, topic string, v any) error
}

// MemberClient описывает внешний сервис участников и кредитов.
type MemberClient interface {
	FetchMember(ctx context.Context, memberID int64) (*model.Member, error)
	DebitCredit(ctx context.Context, memberID, amount int64) error
}

// Recorder принимает события для метрик.
type Recorder interface {
	BidSubmitted(outcome string)
	SettlementStage(stage model.SettlementStage, err error)
	SettlementDuration(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) BidSubmitted(string)                          {}
func (nopRecorder) SettlementStage(model.SettlementStage, error) {}
func (nopRecorder) SettlementDuration(time.Duration)             {}

// Options содержит настройки сервиса.
type Options struct {
	// ReplicaGroup идентифицирует реплику в счётчиках присутствия.
	ReplicaGroup string
	// PresenceMultiplier задаёт число каналов, которые открывает один клиент.
	PresenceMultiplier int64
	NoticeName         string
	NoticeImage        string

	Recorder Recorder
	Clock    func() time.Time
}

// Service содержит логику аукциона.
type Service struct {
	repo    Repository
	store   *store.Store
	pub     Publisher
	members MemberClient
	logger  *zap.Logger

	opts     Options
	recorder Recorder
	now      func() time.Time
	policy   *bluemonday.Policy
}

// NewService создаёт сервис аукциона.
func NewService(repo Repository, st *store.Store, pub Publisher, members MemberClient, logger *zap.Logger, opts Options) *Service {
	if opts.PresenceMultiplier <= 0 {
		opts.PresenceMultiplier = 4
	}
	if opts.ReplicaGroup == "" {
		opts.ReplicaGroup = uuid.NewString()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		repo:     repo,
		store:    st,
		pub:      pub,
		members:  members,
		logger:   logger,
		opts:     opts,
		recorder: opts.Recorder,
		now:      opts.Clock,
		policy:   bluemonday.StrictPolicy(),
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ReplicaGroup возвращает идентификатор реплики.
func (s *Service) ReplicaGroup() string {
	return s.opts.ReplicaGroup
}

// lots возвращает снимок лотов аукциона и индекс активного лота.
// Индекс может указывать за конец списка, если все лоты закрыты.
func (s *Service) lots(ctx context.Context, auctionID string) ([]model.BroadcastProduct, int, error) {
	products, ok, err := s.store.Products(ctx, auctionID)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, fmt.Errorf("%w: auction %s has no broadcast state", model.ErrProductNotFound, auctionID)
	}

	idx, ok, err := s.store.LotIndex(ctx, auctionID)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, fmt.Errorf("%w: auction %s has no lot index", model.ErrProductNotFound, auctionID)
	}

	return products, idx, nil
}

// activeLot возвращает снимок лотов и индекс лота, по которому сейчас идут торги.
func (s *Service) activeLot(ctx context.Context, auctionID string) ([]model.BroadcastProduct, int, error) {
	products, idx, err := s.lots(ctx, auctionID)
	if err != nil {
		return nil, 0, err
	}
	if idx < 0 || idx >= len(products) {
		return nil, 0, fmt.Errorf("%w: auction %s has no active lot", model.ErrProductNotFound, auctionID)
	}
	return products, idx, nil
}

func (s *Service) askingPrice(ctx context.Context, p model.BroadcastProduct) (int64, error) {
	price, ok, err := s.store.AskingPrice(ctx, p.ProductID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return p.StartingPrice, nil
	}
	return price, nil
}

func (s *Service) publishAuction(ctx context.Context, topic, auctionID string) error {
	if err := s.pub.Publish(ctx, topic, model.AuctionEvent{AuctionID: auctionID}); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (s *Service) notice(auctionID, text string) model.ChatMessage {
	return model.ChatMessage{
		ID:           uuid.NewString(),
		AuctionID:    auctionID,
		MemberID:     0,
		Nickname:     s.opts.NoticeName,
		ProfileImage: s.opts.NoticeImage,
		Message:      text,
		SentAt:       s.now(),
	}
}

func upstream(err error) error {
	if errors.Is(err, model.ErrUpstream) {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrUpstream, err)
}
