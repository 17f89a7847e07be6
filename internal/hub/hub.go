// Package hub хранит подписки клиентов, подключённых к этой реплике.
package hub

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Каналы трансляции, на которые может подписаться клиент.
const (
	ChannelChat      = "chat"
	ChannelBidInfo   = "bid-info"
	ChannelBidResult = "bid-result"
	ChannelPresence  = "auction-numbers"
)

// ValidChannel сообщает, что канал существует.
func ValidChannel(channel string) bool {
	switch channel {
	case ChannelChat, ChannelBidInfo, ChannelBidResult, ChannelPresence:
		return true
	}
	return false
}

// Destination возвращает адрес рассылки канала для аукциона.
func Destination(channel, auctionID string) string {
	return channel + "/" + auctionID
}

// Recorder принимает события для метрик.
type Recorder interface {
	FrameDropped(dest string)
	SessionsChanged(total int64)
}

type nopRecorder struct{}

func (nopRecorder) FrameDropped(string)   {}
func (nopRecorder) SessionsChanged(int64) {}

// Subscription описывает подписку одного клиента на адрес рассылки.
type Subscription struct {
	Dest string
	C    <-chan []byte

	id uint64
	ch chan []byte
}

// Hub хранит реестр подписок реплики.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64
	total  int64

	buffer   int
	listener func(total int64)
	recorder Recorder
}

// New создаёт реестр. buffer задаёт размер очереди кадров на подписку.
func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:     make(map[string]map[uint64]*Subscription),
		buffer:   buffer,
		recorder: nopRecorder{},
	}
}

// OnSessionsChanged задаёт обработчик изменения числа подключений.
func (h *Hub) OnSessionsChanged(fn func(total int64)) {
	h.mu.Lock()
	h.listener = fn
	h.mu.Unlock()
}

// SetRecorder задаёт получателя метрик.
func (h *Hub) SetRecorder(r Recorder) {
	h.mu.Lock()
	h.recorder = r
	h.mu.Unlock()
}

// Subscribe регистрирует подписку на адрес рассылки.
func (h *Hub) Subscribe(dest string) *Subscription {
	h.mu.Lock()
	h.nextID++
	ch := make(chan []byte, h.buffer)
	sub := &Subscription{Dest: dest, C: ch, id: h.nextID, ch: ch}

	if h.subs[dest] == nil {
		h.subs[dest] = make(map[uint64]*Subscription)
	}
	h.subs[dest][sub.id] = sub
	h.total++
	total, listener, recorder := h.total, h.listener, h.recorder
	h.mu.Unlock()

	recorder.SessionsChanged(total)
	if listener != nil {
		listener(total)
	}
	return sub
}

// Unsubscribe снимает подписку и закрывает её канал. Повторный вызов безопасен.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	group, ok := h.subs[sub.Dest]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := group[sub.id]; !ok {
		h.mu.Unlock()
		return
	}

	delete(group, sub.id)
	if len(group) == 0 {
		delete(h.subs, sub.Dest)
	}
	close(sub.ch)
	h.total--
	total, listener, recorder := h.total, h.listener, h.recorder
	h.mu.Unlock()

	recorder.SessionsChanged(total)
	if listener != nil {
		listener(total)
	}
}

// Push кодирует v один раз и рассылает подписчикам адреса.
// Кадр для подписчика с заполненной очередью отбрасывается. Возвращает число доставок.
func (h *Hub) Push(dest string, v any) (int, error) {
	frame, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode frame for %s: %w", dest, err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, sub := range h.subs[dest] {
		select {
		case sub.ch <- frame:
			delivered++
		default:
			h.recorder.FrameDropped(dest)
		}
	}
	return delivered, nil
}

// Sessions возвращает число подписок на реплике.
func (h *Hub) Sessions() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}
