package model

import "errors"

var (
	// ErrAuctionNotFound возвращается, если аукцион не найден.
	ErrAuctionNotFound = errors.New("auction not found")
	// ErrProductNotFound возвращается, если активный лот нельзя определить.
	ErrProductNotFound = errors.New("auction product not found")
	// ErrInvalidState возвращается при нарушении жизненного цикла аукциона.
	ErrInvalidState = errors.New("invalid auction status")
	// ErrEmptyLots возвращается при запуске аукциона без допущенных лотов.
	ErrEmptyLots = errors.New("auction has no eligible products")
	// ErrInsufficientCredit возвращается, если кредитов участника не хватает для ставки.
	ErrInsufficientCredit = errors.New("insufficient credit")
	// ErrBidTooLow возвращается, если ставка ниже текущей цены.
	ErrBidTooLow = errors.New("bid price is lower than asking price")
	// ErrUpstream возвращается при сбое внешнего сервиса участников или заказов.
	ErrUpstream = errors.New("upstream service failure")
	// ErrMemberNotFound возвращается, если профиль участника не закэширован.
	ErrMemberNotFound = errors.New("member not found")
	// ErrInvalidMessage возвращается для пустого после очистки сообщения чата.
	ErrInvalidMessage = errors.New("invalid chat message")
)
