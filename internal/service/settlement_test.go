package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/live-auction/internal/bus"
	"github.com/mmeshcher/live-auction/internal/model"
)

func TestScenario_TieBreakThenRaiseThenSettle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.startAuction(t, "a1", model.Product{ID: "p1", StartingPrice: 1000, SellerID: 50, StoreName: "store"})
	const bidderA, bidderB = int64(1), int64(2)
	env.cacheMember(t, bidderA, 10_000)
	env.cacheMember(t, bidderB, 10_000)

	env.bid(t, "a1", bidderA, 1000)
	env.bid(t, "a1", bidderB, 1000)

	view, err := env.svc.RankingView(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, bidderA, view.Bids[0].BidderID)
	assert.Equal(t, int64(1000), view.Bids[0].Price)

	env.bid(t, "a1", bidderA, 1500)

	view, err = env.svc.RankingView(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, bidderA, view.Bids[0].BidderID)
	assert.Equal(t, int64(1500), view.Bids[0].Price)
	assert.Equal(t, bidderB, view.Bids[1].BidderID)

	p, err := env.svc.SettleActiveLot(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.StagePublished, p.Stage)

	require.Len(t, env.repo.settled, 2)
	assert.Equal(t, model.SettledBid{
		AuctionID: "a1", ProductID: "p1", ConsumerID: bidderA, Price: 1500, IsWinning: true,
		CreatedAt: env.repo.settled[0].CreatedAt,
	}, env.repo.settled[0])
	assert.Equal(t, bidderB, env.repo.settled[1].ConsumerID)
	assert.Equal(t, int64(1000), env.repo.settled[1].Price)
	assert.False(t, env.repo.settled[1].IsWinning)

	assert.Equal(t, []debit{{memberID: bidderA, amount: 1500}}, env.members.debits)

	order, ok := env.bus.last(bus.TopicOrderCreated).(model.Order)
	require.True(t, ok)
	assert.Equal(t, bidderA, order.ConsumerID)
	assert.Equal(t, "p1", order.ProductID)
	assert.Equal(t, int64(1500), order.ProductPrice)
	assert.Equal(t, int64(50), order.SellerID)
	assert.Equal(t, "store", order.SellerName)
	assert.Equal(t, int64(1), order.ProductCount)

	m, ok, err := env.store.Member(ctx, bidderA)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(8500), m.Credit)
}

func TestSettle_NoBidsIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startAuction(t, "a1",
		model.Product{ID: "p1", StartingPrice: 100},
		model.Product{ID: "p2", StartingPrice: 100},
	)

	p, err := env.svc.SettleActiveLot(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, p)

	idx, _, err := env.store.LotIndex(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	products, _, err := env.store.Products(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.ProgressIng, products[0].Progress)

	assert.Empty(t, env.repo.settled)
	assert.Empty(t, env.members.debits)
	assert.Zero(t, env.bus.count(bus.TopicBidResult))
}

func TestSettle_AdvancesThroughLots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startAuction(t, "a1",
		model.Product{ID: "p1", StartingPrice: 100, Name: "first"},
		model.Product{ID: "p2", StartingPrice: 200, Name: "second"},
	)
	env.cacheMember(t, 1, 10_000)

	env.bid(t, "a1", 1, 100)
	_, err := env.svc.SettleActiveLot(ctx, "a1")
	require.NoError(t, err)

	products, _, err := env.store.Products(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.ProgressAfter, products[0].Progress)
	assert.Equal(t, model.ProgressIng, products[1].Progress)
	assert.Equal(t, model.ProgressAfter, env.repo.progress["p1"])
	assert.Equal(t, model.ProgressIng, env.repo.progress["p2"])

	view, err := env.svc.RankingView(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), view.AskingPrice)
	assert.True(t, view.Bids[0].IsPlaceholder())

	env.bid(t, "a1", 1, 250)
	_, err = env.svc.SettleActiveLot(ctx, "a1")
	require.NoError(t, err)

	products, _, err = env.store.Products(ctx, "a1")
	require.NoError(t, err)
	for _, p := range products {
		assert.NotEqual(t, model.ProgressIng, p.Progress)
	}

	idx, _, err := env.store.LotIndex(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	view, err = env.svc.RankingView(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), view.AskingPrice)

	feed, err := env.svc.Results(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, feed.Results, 2)
	assert.Equal(t, "first", feed.Results[0].ProductName)
	assert.Equal(t, int64(250), feed.Results[1].LastBidPrice)

	err = env.svc.SubmitBid(ctx, "a1", 1, 1000)
	assert.ErrorIs(t, err, model.ErrProductNotFound)

	p, err := env.svc.SettleActiveLot(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSettle_AfterLastLotIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startAuction(t, "a1", model.Product{ID: "p1", StartingPrice: 100})
	env.cacheMember(t, 1, 10_000)
	env.bid(t, "a1", 1, 100)

	p, err := env.svc.SettleActiveLot(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.StagePublished, p.Stage)

	p, err = env.svc.SettleActiveLot(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, p)

	assert.Len(t, env.members.debits, 1)
	assert.Equal(t, 1, env.bus.count(bus.TopicBidResult))

	feed, err := env.svc.Results(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, feed.Results, 1)
}

func TestSettle_DebitFailureDoesNotAdvance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startAuction(t, "a1", model.Product{ID: "p1", StartingPrice: 100})
	env.cacheMember(t, 1, 10_000)
	env.bid(t, "a1", 1, 100)

	env.members.debitErr = errors.New("credit service down")

	_, err := env.svc.SettleActiveLot(ctx, "a1")
	assert.ErrorIs(t, err, model.ErrUpstream)

	idx, _, err := env.store.LotIndex(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	bids, err := env.store.TopBids(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Len(t, bids, 1)
	assert.Empty(t, env.repo.settled)

	_, ok, err := env.store.Settlement(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok)

	env.members.debitErr = nil
	p, err := env.svc.SettleActiveLot(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.StagePublished, p.Stage)
	assert.Len(t, env.members.debits, 1)
}

func TestSettle_ResumesAfterPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startAuction(t, "a1",
		model.Product{ID: "p1", StartingPrice: 100},
		model.Product{ID: "p2", StartingPrice: 100},
	)
	env.cacheMember(t, 1, 10_000)
	env.cacheMember(t, 2, 10_000)
	env.bid(t, "a1", 1, 100)
	env.bid(t, "a1", 2, 150)

	env.bus.failOnce[bus.TopicBidResult] = errors.New("broker unavailable")

	p, err := env.svc.SettleActiveLot(ctx, "a1")
	require.Error(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.StageAdvanced, p.Stage)

	saved, ok, err := env.store.Settlement(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StageAdvanced, saved.Stage)

	p, err = env.svc.SettleActiveLot(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.StagePublished, p.Stage)
	assert.Equal(t, int64(2), p.Winner().BidderID)

	assert.Len(t, env.members.debits, 1, "debit is not repeated")
	assert.Len(t, env.repo.settled, 2)
	assert.Equal(t, 1, env.bus.count(bus.TopicOrderCreated))

	idx, _, err := env.store.LotIndex(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, idx, "lot index is not advanced twice")

	feed, err := env.svc.Results(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, feed.Results, 1)

	_, ok, err = env.store.Settlement(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok)

	p, err = env.svc.SettleActiveLot(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, p, "next lot has no bids")
}

func TestSettle_PersistFailureKeepsDebitedStage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startAuction(t, "a1", model.Product{ID: "p1", StartingPrice: 100})
	env.cacheMember(t, 1, 10_000)
	env.bid(t, "a1", 1, 100)

	env.repo.saveErr = errors.New("database unavailable")

	p, err := env.svc.SettleActiveLot(ctx, "a1")
	require.Error(t, err)
	assert.Equal(t, model.StageCreditDebited, p.Stage)

	env.repo.saveErr = nil
	p, err = env.svc.SettleActiveLot(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.StagePublished, p.Stage)
	assert.Len(t, env.members.debits, 1)
	require.Len(t, env.repo.settled, 1)
	assert.True(t, env.repo.settled[0].IsWinning)
}
