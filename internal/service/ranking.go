package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/live-auction/internal/bus"
	"github.com/mmeshcher/live-auction/internal/model"
)

// TopN задаёт размер таблицы лидеров.
const TopN = 5

// scoreHorizon заведомо больше любой отметки времени ставки в миллисекундах.
var scoreHorizon = decimal.New(1, 13)

// bidScore объединяет цену и время ставки: при равной цене выше более ранняя ставка.
func bidScore(price int64, at time.Time) float64 {
	frac := decimal.NewFromInt(1).Sub(decimal.NewFromInt(at.UnixMilli()).Div(scoreHorizon))
	return decimal.NewFromInt(price).Add(frac).InexactFloat64()
}

// SubmitBid принимает ставку участника на активный лот аукциона.
// Ни одна проверка не изменяет состояние; запись происходит только после всех проверок.
func (s *Service) SubmitBid(ctx context.Context, auctionID string, bidderID, price int64) error {
	m, ok, err := s.store.Member(ctx, bidderID)
	if err != nil {
		return err
	}
	if !ok || m.Credit < price {
		s.recorder.BidSubmitted("insufficient_credit")
		return model.ErrInsufficientCredit
	}

	products, idx, err := s.activeLot(ctx, auctionID)
	if err != nil {
		return err
	}
	product := products[idx]

	asking, err := s.askingPrice(ctx, product)
	if err != nil {
		return err
	}
	if price < asking {
		s.recorder.BidSubmitted("too_low")
		return fmt.Errorf("%w: %d < %d", model.ErrBidTooLow, price, asking)
	}

	at := s.now()
	rec := model.BidRecord{
		BidderID:     bidderID,
		Nickname:     m.Nickname,
		ProfileImage: m.ProfileImage,
		ProductID:    product.ProductID,
		Price:        price,
		BidAt:        at,
	}

	improved, err := s.store.AddBid(ctx, rec, bidScore(price, at))
	if err != nil {
		return err
	}
	if !improved {
		s.recorder.BidSubmitted("not_improved")
	} else {
		s.recorder.BidSubmitted("accepted")
	}

	return s.publishAuction(ctx, bus.TopicBidInfo, auctionID)
}

// RankingView собирает таблицу лидеров, список лотов и текущую цену активного лота.
// Если все лоты закрыты, таблица состоит из заглушек, а цена равна нулю.
func (s *Service) RankingView(ctx context.Context, auctionID string) (*model.RankingView, error) {
	products, idx, err := s.lots(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	view := &model.RankingView{
		Bids:     make([]model.BidRecord, 0, TopN),
		Products: products,
	}

	if idx >= 0 && idx < len(products) {
		product := products[idx]

		bids, err := s.store.TopBids(ctx, product.ProductID, TopN)
		if err != nil {
			return nil, err
		}
		view.Bids = append(view.Bids, bids...)

		view.AskingPrice, err = s.askingPrice(ctx, product)
		if err != nil {
			return nil, err
		}
	}

	for len(view.Bids) < TopN {
		view.Bids = append(view.Bids, model.BidRecord{})
	}
	slices.SortStableFunc(view.Bids, model.CompareBids)

	return view, nil
}

// ModifyAskingPrice переопределяет текущую цену активного лота и оповещает участников.
func (s *Service) ModifyAskingPrice(ctx context.Context, auctionID string, price int64) error {
	products, idx, err := s.activeLot(ctx, auctionID)
	if err != nil {
		return err
	}

	if err := s.store.SetAskingPrice(ctx, products[idx].ProductID, price); err != nil {
		return err
	}

	if err := s.publishAuction(ctx, bus.TopicBidInfo, auctionID); err != nil {
		return err
	}

	msg := s.notice(auctionID, fmt.Sprintf("Asking price changed to %s", humanize.Comma(price)))
	if err := s.pub.Publish(ctx, bus.TopicChat, msg); err != nil {
		return fmt.Errorf("publish %s: %w", bus.TopicChat, err)
	}
	return nil
}
