package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/live-auction/internal/model"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, time.Hour), mr
}

func TestActiveAuctionPointer(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.ActiveAuction(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetActiveAuction(ctx, "a1"))
	id, ok, err := s.ActiveAuction(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a1", id)

	require.NoError(t, s.ClearActiveAuction(ctx))
	_, ok, err = s.ActiveAuction(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSeedAuction(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	products := []model.BroadcastProduct{
		{ProductID: "p1", StartingPrice: 1000, Progress: model.ProgressIng},
		{ProductID: "p2", StartingPrice: 2000, Progress: model.ProgressBefore},
	}
	require.NoError(t, s.SeedAuction(ctx, "a1", products))

	got, ok, err := s.Products(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, products, got)

	idx, ok, err := s.LotIndex(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, idx)

	assert.True(t, mr.TTL("auction_id_a1") > 0)
}

func TestAddBid_InsertThenOnlyImprove(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	rec := model.BidRecord{BidderID: 7, Nickname: "seven", ProductID: "p1", Price: 1500}
	changed, err := s.AddBid(ctx, rec, 1500.5)
	require.NoError(t, err)
	assert.True(t, changed)

	lower := rec
	lower.Price = 1200
	changed, err = s.AddBid(ctx, lower, 1200.9)
	require.NoError(t, err)
	assert.False(t, changed)

	score, ok, err := s.BidScore(ctx, "p1", 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1500.5, score)

	bids, err := s.TopBids(ctx, "p1", 5)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, int64(1500), bids[0].Price)
	assert.Equal(t, "seven", bids[0].Nickname)

	higher := rec
	higher.Price = 1800
	changed, err = s.AddBid(ctx, higher, 1800.4)
	require.NoError(t, err)
	assert.True(t, changed)

	bids, err = s.TopBids(ctx, "p1", 5)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, int64(1800), bids[0].Price)
}

func TestTopBids_OrderAndLimit(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i, price := range []int64{100, 500, 300, 700, 200, 600} {
		rec := model.BidRecord{BidderID: int64(i + 1), ProductID: "p1", Price: price}
		_, err := s.AddBid(ctx, rec, float64(price)+0.5)
		require.NoError(t, err)
	}

	top, err := s.TopBids(ctx, "p1", 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, []int64{700, 600, 500}, []int64{top[0].Price, top[1].Price, top[2].Price})

	all, err := s.TopBids(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestTopBids_EqualScoresOrderedByBidTime(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	t0 := time.UnixMilli(1_760_000_000_000)

	for id := int64(1); id <= 6; id++ {
		rec := model.BidRecord{
			BidderID:  id,
			ProductID: "p1",
			Price:     1_000_000,
			BidAt:     t0.Add(time.Duration(id) * 50 * time.Millisecond),
		}
		_, err := s.AddBid(ctx, rec, 1_000_000.5)
		require.NoError(t, err)
	}

	top, err := s.TopBids(ctx, "p1", 5)
	require.NoError(t, err)
	require.Len(t, top, 5)

	ids := make([]int64, 0, len(top))
	for _, b := range top {
		ids = append(ids, b.BidderID)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids)
}

func TestTopBids_MissingDetailFallsBackToScore(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddBid(ctx, model.BidRecord{BidderID: 3, ProductID: "p1", Price: 900}, 900.75)
	require.NoError(t, err)
	mr.Del("auction_product_bids_p1")

	bids, err := s.TopBids(ctx, "p1", 5)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, int64(3), bids[0].BidderID)
	assert.Equal(t, int64(900), bids[0].Price)
}

func TestClearBids(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddBid(ctx, model.BidRecord{BidderID: 1, ProductID: "p1", Price: 100}, 100.5)
	require.NoError(t, err)
	require.NoError(t, s.SetAskingPrice(ctx, "p1", 150))

	require.NoError(t, s.ClearBids(ctx, "p1"))

	bids, err := s.TopBids(ctx, "p1", 5)
	require.NoError(t, err)
	assert.Empty(t, bids)

	_, ok, err := s.AskingPrice(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResultFeed_DefaultsToEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	feed, err := s.ResultFeed(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", feed.AuctionID)
	assert.Empty(t, feed.Results)

	feed.Add(model.BidResult{ConsumerID: 1, ProductID: "p1", LastBidPrice: 100})
	require.NoError(t, s.SaveResultFeed(ctx, feed))

	got, err := s.ResultFeed(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "p1", got.Results[0].ProductID)
}

func TestSumPresence_OnlyMatchingAuction(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetPresence(ctx, "a1", "replica-1", 5))
	require.NoError(t, s.SetPresence(ctx, "a1", "replica-2", 3))
	require.NoError(t, s.SetPresence(ctx, "a2", "replica-1", 100))

	total, err := s.SumPresence(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), total)
}

func TestSumPresence_IgnoresAuctionsSharingPrefix(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetPresence(ctx, "a1", "r1", 4))
	require.NoError(t, s.SetPresence(ctx, "a1_x", "r1", 40))
	require.NoError(t, s.SetPresence(ctx, "a1", "replica_x", 2))

	assert.True(t, mr.Exists("numbers_a1:r1"))
	assert.True(t, mr.Exists("numbers_a1_x:r1"))

	total, err := s.SumPresence(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)

	total, err = s.SumPresence(ctx, "a1_x")
	require.NoError(t, err)
	assert.Equal(t, int64(40), total)
}

func TestMemberCache(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Member(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveMember(ctx, &model.Member{ID: 1, Nickname: "one", Credit: 500}))
	m, ok, err := s.Member(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(500), m.Credit)
}

func TestSettlementProgress(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p := &model.SettlementProgress{
		AuctionID: "a1",
		ProductID: "p1",
		Stage:     model.StageCreditDebited,
		Bids:      []model.BidRecord{{BidderID: 1, Price: 100}},
	}
	require.NoError(t, s.SaveSettlement(ctx, p))

	got, ok, err := s.Settlement(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StageCreditDebited, got.Stage)

	require.NoError(t, s.ClearSettlement(ctx, "a1"))
	_, ok, err = s.Settlement(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok)
}
