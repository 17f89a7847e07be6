package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/live-auction/internal/model"
)

// Start запускает трансляцию аукциона.
// При первом запуске в общее хранилище записывается последовательность допущенных лотов,
// повторный запуск идущего аукциона только восстанавливает указатель активного аукциона.
func (s *Service) Start(ctx context.Context, auctionID string) error {
	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}

	if a.Status == model.AuctionStatusAfter {
		return fmt.Errorf("%w: auction %s already finished", model.ErrInvalidState, auctionID)
	}

	products := make([]model.BroadcastProduct, 0, len(a.Products))
	for _, p := range a.Products {
		if p.Status == model.ProductStatusDeny {
			continue
		}
		products = append(products, model.NewBroadcastProduct(p))
	}
	if len(products) == 0 {
		return fmt.Errorf("%w: auction %s", model.ErrEmptyLots, auctionID)
	}

	if err := s.ensureNoOtherRunning(ctx, auctionID); err != nil {
		return err
	}

	if a.Status == model.AuctionStatusBefore {
		products[0].Proceed()
		if err := s.store.SeedAuction(ctx, auctionID, products); err != nil {
			return err
		}
		if err := s.repo.UpdateProductProgress(ctx, products[0].ProductID, model.ProgressIng); err != nil {
			return err
		}
	}

	if err := s.store.SetActiveAuction(ctx, auctionID); err != nil {
		return err
	}

	if a.Status == model.AuctionStatusBefore {
		if err := s.repo.UpdateAuctionStatus(ctx, auctionID, model.AuctionStatusIng, s.now()); err != nil {
			return err
		}
		s.logger.Info("auction started", zap.String("auctionID", auctionID), zap.Int("lots", len(products)))
	}

	return nil
}

// ensureNoOtherRunning запрещает запуск, пока транслируется другой аукцион.
// Указатель на неизвестный или уже не идущий аукцион считается устаревшим и перезаписывается.
func (s *Service) ensureNoOtherRunning(ctx context.Context, auctionID string) error {
	current, ok, err := s.store.ActiveAuction(ctx)
	if err != nil {
		return err
	}
	if !ok || current == auctionID {
		return nil
	}

	other, err := s.repo.GetAuction(ctx, current)
	switch {
	case errors.Is(err, model.ErrAuctionNotFound):
	case err != nil:
		return err
	case other.Status == model.AuctionStatusIng:
		return fmt.Errorf("%w: auction %s is running", model.ErrInvalidState, current)
	}

	s.logger.Warn("replacing stale active auction",
		zap.String("previous", current), zap.String("auctionID", auctionID))
	return nil
}

// End завершает трансляцию аукциона.
func (s *Service) End(ctx context.Context, auctionID string) error {
	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}

	if a.Status != model.AuctionStatusIng {
		return fmt.Errorf("%w: auction %s is %s", model.ErrInvalidState, auctionID, a.Status)
	}

	current, ok, err := s.store.ActiveAuction(ctx)
	if err != nil {
		return err
	}
	if ok && current == auctionID {
		if err := s.store.ClearActiveAuction(ctx); err != nil {
			return err
		}
	}

	if err := s.repo.UpdateAuctionStatus(ctx, auctionID, model.AuctionStatusAfter, s.now()); err != nil {
		return err
	}

	s.logger.Info("auction ended", zap.String("auctionID", auctionID))
	return nil
}

// Enter возвращает начальное состояние трансляции для входящего участника.
// Профиль и кредиты участника, кроме администратора, кэшируются для проверки ставок.
func (s *Service) Enter(ctx context.Context, auctionID string, memberID int64, role model.MemberRole) (*model.EnterView, error) {
	a, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	if a.Status != model.AuctionStatusIng {
		return nil, fmt.Errorf("%w: auction %s is %s", model.ErrInvalidState, auctionID, a.Status)
	}

	if role != model.RoleAdmin {
		m, err := s.members.FetchMember(ctx, memberID)
		if err != nil {
			if errors.Is(err, model.ErrMemberNotFound) {
				return nil, err
			}
			return nil, upstream(err)
		}
		if err := s.store.SaveMember(ctx, m); err != nil {
			return nil, err
		}
	}

	ranking, err := s.RankingView(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	results, err := s.store.ResultFeed(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	return &model.EnterView{
		Auction: *a,
		Ranking: ranking,
		Results: results,
	}, nil
}

// Results возвращает ленту итогов аукциона.
func (s *Service) Results(ctx context.Context, auctionID string) (*model.ResultFeed, error) {
	return s.store.ResultFeed(ctx, auctionID)
}
