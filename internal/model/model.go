// Package model содержит доменные сущности сервиса живых аукционов.
package model

import (
	"cmp"
	"time"
)

// AuctionStatus описывает жизненный цикл аукциона.
type AuctionStatus string

const (
	AuctionStatusBefore AuctionStatus = "BEFORE"
	AuctionStatusIng    AuctionStatus = "ING"
	AuctionStatusAfter  AuctionStatus = "AFTER"
)

// ProductStatus описывает статус модерации лота.
type ProductStatus string

const (
	ProductStatusWait  ProductStatus = "WAIT"
	ProductStatusAllow ProductStatus = "ALLOW"
	ProductStatusDeny  ProductStatus = "DENY"
)

// Progress описывает ход торгов по лоту внутри запущенного аукциона.
type Progress string

const (
	ProgressBefore Progress = "BEFORE"
	ProgressIng    Progress = "ING"
	ProgressAfter  Progress = "AFTER"
)

// MemberRole описывает роль участника, переданную шлюзом.
type MemberRole string

const (
	RoleConsumer MemberRole = "ROLE_CONSUMER"
	RoleSeller   MemberRole = "ROLE_SELLER"
	RoleAdmin    MemberRole = "ROLE_ADMIN"
)

// Auction представляет аукцион как группу лотов.
type Auction struct {
	ID        string        `json:"auctionId"`
	Title     string        `json:"title"`
	Status    AuctionStatus `json:"status"`
	StartDate *time.Time    `json:"startDate,omitempty"`
	EndDate   *time.Time    `json:"endDate,omitempty"`
	Products  []Product     `json:"products"`
}

// Product представляет лот, заявленный продавцом на аукцион.
type Product struct {
	ID                string        `json:"auctionProductId"`
	AuctionID         string        `json:"auctionId"`
	Name              string        `json:"name"`
	Description       string        `json:"description"`
	StartingPrice     int64         `json:"startingPrice"`
	Status            ProductStatus `json:"status"`
	SellerID          int64         `json:"sellerId"`
	StoreName         string        `json:"storeName"`
	ThumbnailImageURL string        `json:"thumbnailImageUrl"`
}

// BroadcastProduct представляет снимок лота, который хранится в общем хранилище на время трансляции.
type BroadcastProduct struct {
	ProductID         string   `json:"auctionProductId"`
	Name              string   `json:"name"`
	StartingPrice     int64    `json:"startingPrice"`
	SellerID          int64    `json:"sellerId"`
	StoreName         string   `json:"storeName"`
	ThumbnailImageURL string   `json:"thumbnailImageUrl"`
	Progress          Progress `json:"progress"`
}

// NewBroadcastProduct строит снимок лота для трансляции.
func NewBroadcastProduct(p Product) BroadcastProduct {
	return BroadcastProduct{
		ProductID:         p.ID,
		Name:              p.Name,
		StartingPrice:     p.StartingPrice,
		SellerID:          p.SellerID,
		StoreName:         p.StoreName,
		ThumbnailImageURL: p.ThumbnailImageURL,
		Progress:          ProgressBefore,
	}
}

// Proceed переводит лот в активное состояние.
func (p *BroadcastProduct) Proceed() {
	p.Progress = ProgressIng
}

// Close завершает торги по лоту.
func (p *BroadcastProduct) Close() {
	p.Progress = ProgressAfter
}

// AuctionEvent описывает событие шины, которое несёт только идентификатор аукциона.
type AuctionEvent struct {
	AuctionID string `json:"auctionId"`
}

// Member содержит снимок профиля и кредитов участника, полученный от сервиса участников.
type Member struct {
	ID           int64  `json:"memberId"`
	Nickname     string `json:"nickname"`
	ProfileImage string `json:"profileImage"`
	Credit       int64  `json:"credit"`
}

// BidRecord описывает ставку участника на активный лот.
type BidRecord struct {
	BidderID     int64     `json:"memberId"`
	Nickname     string    `json:"nickname"`
	ProfileImage string    `json:"profileImage"`
	ProductID    string    `json:"auctionProductId"`
	Price        int64     `json:"bidPrice"`
	BidAt        time.Time `json:"bidAt"`
}

// IsPlaceholder сообщает, что запись является пустой заглушкой в таблице лидеров.
func (b BidRecord) IsPlaceholder() bool {
	return b.BidderID == 0 && b.Price == 0
}

// SettledBid описывает итоговую запись о ставке участника по закрытому лоту.
type SettledBid struct {
	AuctionID  string
	ProductID  string
	ConsumerID int64
	Price      int64
	IsWinning  bool
	CreatedAt  time.Time
}

// CompareBids задаёт порядок рейтинга: выше цена, при равной цене раньше сделанная ставка,
// затем меньший идентификатор участника.
func CompareBids(a, b BidRecord) int {
	if c := cmp.Compare(b.Price, a.Price); c != 0 {
		return c
	}
	if c := a.BidAt.Compare(b.BidAt); c != 0 {
		return c
	}
	return cmp.Compare(a.BidderID, b.BidderID)
}

// BidResult описывает итог торгов по одному лоту.
type BidResult struct {
	ConsumerID   int64  `json:"consumerId"`
	ConsumerName string `json:"consumerName"`
	ProductID    string `json:"auctionProductId"`
	ProductName  string `json:"productName"`
	LastBidPrice int64  `json:"lastBidPrice"`
}

// ResultFeed содержит упорядоченную ленту итогов по лотам аукциона.
type ResultFeed struct {
	AuctionID string      `json:"auctionId"`
	Results   []BidResult `json:"bidResultList"`
}

// NewResultFeed создаёт пустую ленту итогов для аукциона.
func NewResultFeed(auctionID string) *ResultFeed {
	return &ResultFeed{AuctionID: auctionID, Results: []BidResult{}}
}

// Add добавляет итог, если по этому лоту итога ещё нет. Возвращает false для повтора.
func (f *ResultFeed) Add(r BidResult) bool {
	for _, existing := range f.Results {
		if existing.ProductID == r.ProductID {
			return false
		}
	}
	f.Results = append(f.Results, r)
	return true
}

// ChatMessage описывает сообщение чата трансляции.
type ChatMessage struct {
	ID           string    `json:"id"`
	AuctionID    string    `json:"auctionId"`
	MemberID     int64     `json:"memberId"`
	Nickname     string    `json:"memberNickname"`
	ProfileImage string    `json:"memberProfileImage"`
	Message      string    `json:"message"`
	SentAt       time.Time `json:"sentAt"`
}

// RankingView содержит данные о ходе торгов, которые рассылаются подписчикам.
type RankingView struct {
	Bids        []BidRecord        `json:"bidHistory"`
	Products    []BroadcastProduct `json:"productList"`
	AskingPrice int64              `json:"askingPrice"`
}

// PresenceView содержит оценку количества зрителей трансляции.
type PresenceView struct {
	AuctionID string `json:"auctionId"`
	Viewers   int64  `json:"viewers"`
}

// EnterView содержит начальное состояние трансляции для вошедшего участника.
type EnterView struct {
	Auction Auction      `json:"auction"`
	Ranking *RankingView `json:"bidInfo"`
	Results *ResultFeed  `json:"bidResult"`
}

// Order описывает заявку на создание заказа по выигранному лоту.
type Order struct {
	ConsumerID    int64     `json:"consumerId"`
	OrderDate     time.Time `json:"orderDate"`
	TotalPrice    int64     `json:"totalPrice"`
	PaymentMethod string    `json:"paymentMethod"`
	ProductID     string    `json:"productId"`
	ProductName   string    `json:"productName"`
	ProductCount  int64     `json:"productCount"`
	ProductPrice  int64     `json:"productPrice"`
	SellerID      int64     `json:"sellerId"`
	SellerName    string    `json:"sellerName"`
	ProductImage  string    `json:"productImg"`
}

// SettlementStage описывает последний завершённый шаг подведения итогов по лоту.
type SettlementStage string

const (
	StagePending       SettlementStage = "PENDING"
	StageCreditDebited SettlementStage = "CREDIT_DEBITED"
	StagePersisted     SettlementStage = "PERSISTED"
	StageOrderEmitted  SettlementStage = "ORDER_EMITTED"
	StageCleared       SettlementStage = "CLEARED"
	StageAdvanced      SettlementStage = "ADVANCED"
	StagePublished     SettlementStage = "PUBLISHED"
)

var stageOrder = map[SettlementStage]int{
	StagePending:       0,
	StageCreditDebited: 1,
	StagePersisted:     2,
	StageOrderEmitted:  3,
	StageCleared:       4,
	StageAdvanced:      5,
	StagePublished:     6,
}

// Reached сообщает, что шаг s уже пройден, если текущий шаг равен current.
func (s SettlementStage) Reached(current SettlementStage) bool {
	return stageOrder[current] >= stageOrder[s]
}

// SettlementProgress хранит состояние незавершённого подведения итогов.
// Ставки фиксируются в момент старта, чтобы повтор не зависел от уже очищенного рейтинга.
type SettlementProgress struct {
	AuctionID string          `json:"auctionId"`
	ProductID string          `json:"auctionProductId"`
	Index     int             `json:"index"`
	Stage     SettlementStage `json:"stage"`
	Bids      []BidRecord     `json:"bids"`
}

// Winner возвращает ставку-победителя.
func (p *SettlementProgress) Winner() BidRecord {
	return p.Bids[0]
}
