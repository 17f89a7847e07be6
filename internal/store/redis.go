// Package store реализует общее эфемерное хранилище состояния трансляции в Redis.
//
// Все реплики читают и пишут одни и те же ключи; состояние в памяти реплики
// не считается источником истины дольше одного запроса.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/live-auction/internal/model"
)

const activeAuctionKey = "auction"

func productsKey(auctionID string) string { return "auction_id_" + auctionID }
func indexKey(auctionID string) string { return auctionID + "_index" }
func askingPriceKey(productID string) string { return "asking_price_" + productID }
func bidsKey(productID string) string { return "auction_product_id" + productID }
func bidDetailsKey(productID string) string { return "auction_product_bids_" + productID }
func memberKey(memberID int64) string { return "consumer_id_" + strconv.FormatInt(memberID, 10) }
func resultKey(auctionID string) string { return "bid_result_" + auctionID }
func settlementKey(auctionID string) string { return "settlement_" + auctionID }

// Двоеточие не встречается в идентификаторах аукционов.
func presencePattern(auctionID string) string { return "numbers_" + auctionID + ":*" }
func presenceKey(auctionID, group string) string { return "numbers_" + auctionID + ":" + group }

// addBidScript вставляет ставку, если её нет, и обновляет только при строгом росте счёта.
// Запись для отображения пишется в том же скрипте, чтобы рейтинг и детали не расходились.
var addBidScript = redis.NewScript(`
local current = redis.call('ZSCORE', KEYS[1], ARGV[1])
if current and tonumber(current) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
redis.call('EXPIRE', KEYS[1], ARGV[4])
redis.call('EXPIRE', KEYS[2], ARGV[4])
return 1
`)

// Store предоставляет доступ к разделяемому состоянию аукциона.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// Connect открывает соединение с Redis и проверяет его доступность.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// New создаёт хранилище поверх клиента Redis. ttl применяется ко всем эфемерным ключам.
func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Close закрывает соединение с Redis.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// ActiveAuction возвращает идентификатор аукциона, который сейчас транслируется.
func (s *Store) ActiveAuction(ctx context.Context) (string, bool, error) {
	id, err := s.client.Get(ctx, activeAuctionKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get active auction: %w", err)
	}
	return id, true, nil
}

// SetActiveAuction делает аукцион активным для всех реплик.
func (s *Store) SetActiveAuction(ctx context.Context, auctionID string) error {
	if err := s.client.Set(ctx, activeAuctionKey, auctionID, s.ttl).Err(); err != nil {
		return fmt.Errorf("set active auction: %w", err)
	}
	return nil
}

// ClearActiveAuction снимает указатель активного аукциона.
func (s *Store) ClearActiveAuction(ctx context.Context) error {
	if err := s.client.Del(ctx, activeAuctionKey).Err(); err != nil {
		return fmt.Errorf("clear active auction: %w", err)
	}
	return nil
}

// SeedAuction записывает последовательность лотов и обнуляет индекс активного лота.
func (s *Store) SeedAuction(ctx context.Context, auctionID string, products []model.BroadcastProduct) error {
	raw, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("encode products: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, productsKey(auctionID), raw, s.ttl)
		pipe.Set(ctx, indexKey(auctionID), 0, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed auction: %w", err)
	}
	return nil
}

// Products возвращает снимок последовательности лотов аукциона.
func (s *Store) Products(ctx context.Context, auctionID string) ([]model.BroadcastProduct, bool, error) {
	var products []model.BroadcastProduct
	ok, err := s.getJSON(ctx, productsKey(auctionID), &products)
	if err != nil || !ok {
		return nil, false, err
	}
	return products, true, nil
}

// SaveProducts перезаписывает снимок последовательности лотов.
func (s *Store) SaveProducts(ctx context.Context, auctionID string, products []model.BroadcastProduct) error {
	return s.setJSON(ctx, productsKey(auctionID), products)
}

// LotIndex возвращает индекс активного лота.
func (s *Store) LotIndex(ctx context.Context, auctionID string) (int, bool, error) {
	idx, err := s.client.Get(ctx, indexKey(auctionID)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get lot index: %w", err)
	}
	return idx, true, nil
}

// SetLotIndex записывает индекс активного лота.
func (s *Store) SetLotIndex(ctx context.Context, auctionID string, idx int) error {
	if err := s.client.Set(ctx, indexKey(auctionID), idx, s.ttl).Err(); err != nil {
		return fmt.Errorf("set lot index: %w", err)
	}
	return nil
}

// AskingPrice возвращает переопределённую администратором цену лота.
func (s *Store) AskingPrice(ctx context.Context, productID string) (int64, bool, error) {
	price, err := s.client.Get(ctx, askingPriceKey(productID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get asking price: %w", err)
	}
	return price, true, nil
}

// SetAskingPrice переопределяет текущую цену лота.
func (s *Store) SetAskingPrice(ctx context.Context, productID string, price int64) error {
	if err := s.client.Set(ctx, askingPriceKey(productID), price, s.ttl).Err(); err != nil {
		return fmt.Errorf("set asking price: %w", err)
	}
	return nil
}

// Member возвращает закэшированный профиль участника.
func (s *Store) Member(ctx context.Context, memberID int64) (*model.Member, bool, error) {
	var m model.Member
	ok, err := s.getJSON(ctx, memberKey(memberID), &m)
	if err != nil || !ok {
		return nil, false, err
	}
	return &m, true, nil
}

// SaveMember кэширует профиль участника.
func (s *Store) SaveMember(ctx context.Context, m *model.Member) error {
	return s.setJSON(ctx, memberKey(m.ID), m)
}

// AddBid атомарно вставляет или повышает ставку участника на лот.
// Возвращает false, если новый счёт не лучше уже записанного.
func (s *Store) AddBid(ctx context.Context, rec model.BidRecord, score float64) (bool, error) {
	detail, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode bid: %w", err)
	}

	member := strconv.FormatInt(rec.BidderID, 10)
	res, err := addBidScript.Run(ctx, s.client,
		[]string{bidsKey(rec.ProductID), bidDetailsKey(rec.ProductID)},
		member,
		strconv.FormatFloat(score, 'f', -1, 64),
		string(detail),
		int64(s.ttl/time.Second),
	).Int()
	if err != nil {
		return false, fmt.Errorf("add bid: %w", err)
	}
	return res == 1, nil
}

// BidScore возвращает текущий счёт участника по лоту.
func (s *Store) BidScore(ctx context.Context, productID string, bidderID int64) (float64, bool, error) {
	score, err := s.client.ZScore(ctx, bidsKey(productID), strconv.FormatInt(bidderID, 10)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("get bid score: %w", err)
	}
	return score, true, nil
}

// TopBids возвращает n лучших ставок по лоту в порядке model.CompareBids. n <= 0 возвращает все.
func (s *Store) TopBids(ctx context.Context, productID string, n int64) ([]model.BidRecord, error) {
	stop := n - 1
	if n <= 0 {
		stop = -1
	}

	entries, err := s.client.ZRevRangeWithScores(ctx, bidsKey(productID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("range bids: %w", err)
	}
	if n > 0 && int64(len(entries)) == n {
		// На больших ценах счета близких по времени ставок совпадают, и Redis
		// упорядочивает их по тексту участника. Добираем всех, кто делит последний счёт.
		entries, err = s.client.ZRevRangeByScoreWithScores(ctx, bidsKey(productID), &redis.ZRangeBy{
			Min: strconv.FormatFloat(entries[n-1].Score, 'f', -1, 64),
			Max: "+inf",
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("range tied bids: %w", err)
		}
	}
	if len(entries) == 0 {
		return []model.BidRecord{}, nil
	}

	fields := make([]string, 0, len(entries))
	for _, e := range entries {
		fields = append(fields, fmt.Sprint(e.Member))
	}

	details, err := s.client.HMGet(ctx, bidDetailsKey(productID), fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("get bid details: %w", err)
	}

	bids := make([]model.BidRecord, 0, len(entries))
	for i, e := range entries {
		var rec model.BidRecord
		if raw, ok := details[i].(string); ok {
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				return nil, fmt.Errorf("decode bid: %w", err)
			}
		} else {
			// Детали истекли раньше рейтинга: восстанавливаем то, что можно из счёта.
			bidderID, _ := strconv.ParseInt(fields[i], 10, 64)
			rec = model.BidRecord{
				BidderID:  bidderID,
				ProductID: productID,
				Price:     int64(math.Floor(e.Score)),
			}
		}
		bids = append(bids, rec)
	}

	slices.SortStableFunc(bids, model.CompareBids)
	if n > 0 && int64(len(bids)) > n {
		bids = bids[:n]
	}

	return bids, nil
}

// ClearBids удаляет рейтинг, детали ставок и переопределённую цену лота.
func (s *Store) ClearBids(ctx context.Context, productID string) error {
	err := s.client.Del(ctx, bidsKey(productID), bidDetailsKey(productID), askingPriceKey(productID)).Err()
	if err != nil {
		return fmt.Errorf("clear bids: %w", err)
	}
	return nil
}

// ResultFeed возвращает ленту итогов аукциона или пустую ленту, если её нет.
func (s *Store) ResultFeed(ctx context.Context, auctionID string) (*model.ResultFeed, error) {
	feed := model.NewResultFeed(auctionID)
	ok, err := s.getJSON(ctx, resultKey(auctionID), feed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return model.NewResultFeed(auctionID), nil
	}
	if feed.Results == nil {
		feed.Results = []model.BidResult{}
	}
	return feed, nil
}

// SaveResultFeed сохраняет ленту итогов.
func (s *Store) SaveResultFeed(ctx context.Context, feed *model.ResultFeed) error {
	return s.setJSON(ctx, resultKey(feed.AuctionID), feed)
}

// SetPresence записывает число подключений реплики к трансляции аукциона.
func (s *Store) SetPresence(ctx context.Context, auctionID, group string, count int64) error {
	if err := s.client.Set(ctx, presenceKey(auctionID, group), count, s.ttl).Err(); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

// SumPresence суммирует счётчики подключений всех реплик для аукциона.
func (s *Store) SumPresence(ctx context.Context, auctionID string) (int64, error) {
	var total int64

	iter := s.client.Scan(ctx, 0, presencePattern(auctionID), 100).Iterator()
	for iter.Next(ctx) {
		n, err := s.client.Get(ctx, iter.Val()).Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return 0, fmt.Errorf("get presence %s: %w", iter.Val(), err)
		}
		total += n
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan presence: %w", err)
	}

	return total, nil
}

// Settlement возвращает незавершённое подведение итогов по аукциону.
func (s *Store) Settlement(ctx context.Context, auctionID string) (*model.SettlementProgress, bool, error) {
	var p model.SettlementProgress
	ok, err := s.getJSON(ctx, settlementKey(auctionID), &p)
	if err != nil || !ok {
		return nil, false, err
	}
	return &p, true, nil
}

// SaveSettlement фиксирует шаг подведения итогов.
func (s *Store) SaveSettlement(ctx context.Context, p *model.SettlementProgress) error {
	return s.setJSON(ctx, settlementKey(p.AuctionID), p)
}

// ClearSettlement удаляет запись о подведении итогов после публикации.
func (s *Store) ClearSettlement(ctx context.Context, auctionID string) error {
	if err := s.client.Del(ctx, settlementKey(auctionID)).Err(); err != nil {
		return fmt.Errorf("clear settlement: %w", err)
	}
	return nil
}
