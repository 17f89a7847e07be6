package service

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/mmeshcher/live-auction/internal/bus"
	"github.com/mmeshcher/live-auction/internal/model"
)

const paymentMethodCredit = "CREDIT"

type settlementStep struct {
	stage model.SettlementStage
	run   func(ctx context.Context, p *model.SettlementProgress) error
}

// SettleActiveLot подводит итоги по активному лоту и переходит к следующему.
//
// Каждый шаг фиксируется в общем хранилище, поэтому повторный вызов после сбоя
// продолжает с первого незавершённого шага. Если незавершённого подведения итогов
// нет, а у активного лота нет ставок или все лоты уже закрыты, вызов ничего не
// меняет и возвращает nil.
// Вызовы для одного аукциона не должны пересекаться.
func (s *Service) SettleActiveLot(ctx context.Context, auctionID string) (*model.SettlementProgress, error) {
	started := s.now()

	p, ok, err := s.store.Settlement(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if ok {
		s.logger.Info("resuming settlement",
			zap.String("auctionID", auctionID),
			zap.String("productID", p.ProductID),
			zap.String("stage", string(p.Stage)))
	} else {
		products, idx, err := s.lots(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		if idx < 0 || idx >= len(products) {
			return nil, nil
		}

		bids, err := s.store.TopBids(ctx, products[idx].ProductID, 0)
		if err != nil {
			return nil, err
		}
		if len(bids) == 0 {
			return nil, nil
		}

		p = &model.SettlementProgress{
			AuctionID: auctionID,
			ProductID: products[idx].ProductID,
			Index:     idx,
			Stage:     model.StagePending,
			Bids:      bids,
		}
	}

	steps := []settlementStep{
		{model.StageCreditDebited, s.debitWinner},
		{model.StagePersisted, s.persistBids},
		{model.StageOrderEmitted, s.emitOrder},
		{model.StageCleared, s.clearRanking},
		{model.StageAdvanced, s.advanceLot},
		{model.StagePublished, s.publishOutcome},
	}

	for _, step := range steps {
		if step.stage.Reached(p.Stage) {
			continue
		}

		if err := step.run(ctx, p); err != nil {
			s.recorder.SettlementStage(step.stage, err)
			return p, fmt.Errorf("settle %s at %s: %w", p.ProductID, step.stage, err)
		}
		s.recorder.SettlementStage(step.stage, nil)
		p.Stage = step.stage

		if p.Stage == model.StagePublished {
			if err := s.store.ClearSettlement(ctx, auctionID); err != nil {
				return p, err
			}
			break
		}
		if err := s.store.SaveSettlement(ctx, p); err != nil {
			return p, err
		}
	}

	s.recorder.SettlementDuration(s.now().Sub(started))
	s.logger.Info("lot settled",
		zap.String("auctionID", auctionID),
		zap.String("productID", p.ProductID),
		zap.Int64("winnerID", p.Winner().BidderID),
		zap.Int64("price", p.Winner().Price))

	return p, nil
}

// lotProduct возвращает снимок лота, по которому подводятся итоги.
func (s *Service) lotProduct(ctx context.Context, p *model.SettlementProgress) ([]model.BroadcastProduct, error) {
	products, ok, err := s.store.Products(ctx, p.AuctionID)
	if err != nil {
		return nil, err
	}
	if !ok || p.Index >= len(products) || products[p.Index].ProductID != p.ProductID {
		return nil, fmt.Errorf("%w: %s", model.ErrProductNotFound, p.ProductID)
	}
	return products, nil
}

func (s *Service) debitWinner(ctx context.Context, p *model.SettlementProgress) error {
	winner := p.Winner()
	if err := s.members.DebitCredit(ctx, winner.BidderID, winner.Price); err != nil {
		return upstream(err)
	}

	// Кэш кредитов уменьшается на списанную сумму до следующего входа участника.
	m, ok, err := s.store.Member(ctx, winner.BidderID)
	if err == nil && ok {
		m.Credit -= winner.Price
		err = s.store.SaveMember(ctx, m)
	}
	if err != nil {
		s.logger.Warn("refresh cached credit error", zap.Int64("memberID", winner.BidderID), zap.Error(err))
	}
	return nil
}

func (s *Service) persistBids(ctx context.Context, p *model.SettlementProgress) error {
	at := s.now()
	settled := make([]model.SettledBid, 0, len(p.Bids))
	for i, b := range p.Bids {
		settled = append(settled, model.SettledBid{
			AuctionID:  p.AuctionID,
			ProductID:  p.ProductID,
			ConsumerID: b.BidderID,
			Price:      b.Price,
			IsWinning:  i == 0,
			CreatedAt:  at,
		})
	}
	return s.repo.SaveSettledBids(ctx, settled)
}

func (s *Service) emitOrder(ctx context.Context, p *model.SettlementProgress) error {
	products, err := s.lotProduct(ctx, p)
	if err != nil {
		return err
	}
	product := products[p.Index]
	winner := p.Winner()

	order := model.Order{
		ConsumerID:    winner.BidderID,
		OrderDate:     s.now(),
		TotalPrice:    winner.Price,
		PaymentMethod: paymentMethodCredit,
		ProductID:     product.ProductID,
		ProductName:   product.Name,
		ProductCount:  1,
		ProductPrice:  winner.Price,
		SellerID:      product.SellerID,
		SellerName:    product.StoreName,
		ProductImage:  product.ThumbnailImageURL,
	}
	if err := s.pub.Publish(ctx, bus.TopicOrderCreated, order); err != nil {
		return upstream(err)
	}
	return nil
}

func (s *Service) clearRanking(ctx context.Context, p *model.SettlementProgress) error {
	return s.store.ClearBids(ctx, p.ProductID)
}

// advanceLot записывает состояние лотов абсолютными значениями, поэтому повтор безопасен.
func (s *Service) advanceLot(ctx context.Context, p *model.SettlementProgress) error {
	products, err := s.lotProduct(ctx, p)
	if err != nil {
		return err
	}

	products[p.Index].Close()
	next := p.Index + 1
	if next < len(products) {
		products[next].Proceed()
	}

	if err := s.store.SaveProducts(ctx, p.AuctionID, products); err != nil {
		return err
	}
	if err := s.store.SetLotIndex(ctx, p.AuctionID, next); err != nil {
		return err
	}

	if err := s.repo.UpdateProductProgress(ctx, p.ProductID, model.ProgressAfter); err != nil {
		return err
	}
	if next < len(products) {
		if err := s.repo.UpdateProductProgress(ctx, products[next].ProductID, model.ProgressIng); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) publishOutcome(ctx context.Context, p *model.SettlementProgress) error {
	products, err := s.lotProduct(ctx, p)
	if err != nil {
		return err
	}
	product := products[p.Index]
	winner := p.Winner()

	if err := s.publishAuction(ctx, bus.TopicBidInfo, p.AuctionID); err != nil {
		return err
	}

	text := fmt.Sprintf("%s won %s for %s", winner.Nickname, product.Name, humanize.Comma(winner.Price))
	if err := s.pub.Publish(ctx, bus.TopicChat, s.notice(p.AuctionID, text)); err != nil {
		return fmt.Errorf("publish %s: %w", bus.TopicChat, err)
	}

	feed, err := s.store.ResultFeed(ctx, p.AuctionID)
	if err != nil {
		return err
	}
	feed.Add(model.BidResult{
		ConsumerID:   winner.BidderID,
		ConsumerName: winner.Nickname,
		ProductID:    product.ProductID,
		ProductName:  product.Name,
		LastBidPrice: winner.Price,
	})
	if err := s.store.SaveResultFeed(ctx, feed); err != nil {
		return err
	}

	if err := s.pub.Publish(ctx, bus.TopicBidResult, feed); err != nil {
		return fmt.Errorf("publish %s: %w", bus.TopicBidResult, err)
	}
	return nil
}
