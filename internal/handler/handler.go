// Package handler содержит HTTP-обработчики API сервиса аукционов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/live-auction/internal/hub"
	"github.com/mmeshcher/live-auction/internal/middleware"
	"github.com/mmeshcher/live-auction/internal/model"
	"github.com/mmeshcher/live-auction/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Start(ctx context.Context, auctionID string) error
	End(ctx context.Context, auctionID string) error
	SettleActiveLot(ctx context.Context, auctionID string) (*model.SettlementProgress, error)
	ModifyAskingPrice(ctx context.Context, auctionID string, price int64) error
	Enter(ctx context.Context, auctionID string, memberID int64, role model.MemberRole) (*model.EnterView, error)
	SubmitBid(ctx context.Context, auctionID string, bidderID, price int64) error
	SendChat(ctx context.Context, auctionID string, memberID int64, role model.MemberRole, text string) (*model.ChatMessage, error)
	RankingView(ctx context.Context, auctionID string) (*model.RankingView, error)
	Results(ctx context.Context, auctionID string) (*model.ResultFeed, error)
	Presence(ctx context.Context) (*model.PresenceView, error)
}

// Handler реализует HTTP-обработчики API сервиса аукционов.
type Handler struct {
	service Service
	hub     *hub.Hub
	limiter *middleware.RateLimiter
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// limiter может быть nil, тогда частота ставок и сообщений не ограничивается.
func NewHandler(s Service, h *hub.Hub, limiter *middleware.RateLimiter, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		hub:     h,
		limiter: limiter,
		logger:  logger,
	}
}

// auctionID возвращает идентификатор аукциона из пути или пишет 400.
func (h *Handler) auctionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "auctionId")
	if !validation.IsValidID(id) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return "", false
	}
	return id, true
}

// Start запускает аукцион.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := h.auctionID(w, r)
	if !ok {
		return
	}

	if err := h.service.Start(r.Context(), id); err != nil {
		h.writeError(w, err, "start auction error", zap.String("auctionID", id))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// End завершает аукцион.
func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	id, ok := h.auctionID(w, r)
	if !ok {
		return
	}

	if err := h.service.End(r.Context(), id); err != nil {
		h.writeError(w, err, "end auction error", zap.String("auctionID", id))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Settle подводит итоги по текущему лоту и переходит к следующему.
// Если ставок не было, отвечает 204.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.auctionID(w, r)
	if !ok {
		return
	}

	progress, err := h.service.SettleActiveLot(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "settle lot error", zap.String("auctionID", id))
		return
	}

	if progress == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, progress)
}

type askingPriceRequest struct {
	AskingPrice int64 `json:"askingPrice"`
}

// ModifyAskingPrice меняет цену, которую ведущий объявляет для текущего лота.
func (h *Handler) ModifyAskingPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.auctionID(w, r)
	if !ok {
		return
	}

	var req askingPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidPrice(req.AskingPrice) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.ModifyAskingPrice(r.Context(), id, req.AskingPrice); err != nil {
		h.writeError(w, err, "modify asking price error", zap.String("auctionID", id))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Enter возвращает начальное состояние трансляции текущему участнику.
func (h *Handler) Enter(w http.ResponseWriter, r *http.Request) {
	id, ok := h.auctionID(w, r)
	if !ok {
		return
	}

	member, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	view, err := h.service.Enter(r.Context(), id, member.MemberID, member.Role)
	if err != nil {
		h.writeError(w, err, "enter auction error", zap.String("auctionID", id), zap.Int64("memberID", member.MemberID))
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

type bidRequest struct {
	Price int64 `json:"price"`
}

// SubmitBid принимает ставку текущего участника.
func (h *Handler) SubmitBid(w http.ResponseWriter, r *http.Request) {
	id, ok := h.auctionID(w, r)
	if !ok {
		return
	}

	member, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if member.IsAdmin() {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidPrice(req.Price) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SubmitBid(r.Context(), id, member.MemberID, req.Price); err != nil {
		h.writeError(w, err, "submit bid error",
			zap.String("auctionID", id),
			zap.Int64("memberID", member.MemberID),
			zap.Int64("price", req.Price),
		)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

type chatRequest struct {
	Message string `json:"message"`
}

// SendChat отправляет сообщение в чат трансляции.
func (h *Handler) SendChat(w http.ResponseWriter, r *http.Request) {
	id, ok := h.auctionID(w, r)
	if !ok {
		return
	}

	member, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidMessage(req.Message) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	msg, err := h.service.SendChat(r.Context(), id, member.MemberID, member.Role, req.Message)
	if err != nil {
		h.writeError(w, err, "send chat error", zap.String("auctionID", id), zap.Int64("memberID", member.MemberID))
		return
	}

	h.writeJSON(w, http.StatusCreated, msg)
}

// BidInfo возвращает текущий рейтинг ставок.
func (h *Handler) BidInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := h.auctionID(w, r)
	if !ok {
		return
	}

	view, err := h.service.RankingView(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "bid info error", zap.String("auctionID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// Results возвращает ленту итогов аукциона.
func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	id, ok := h.auctionID(w, r)
	if !ok {
		return
	}

	feed, err := h.service.Results(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "results error", zap.String("auctionID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, feed)
}

// Presence возвращает оценку количества зрителей активного аукциона.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Presence(r.Context())
	if err != nil {
		h.writeError(w, err, "presence error")
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

// statusOf сопоставляет ошибку бизнес-логики с кодом ответа.
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrAuctionNotFound), errors.Is(err, model.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidState), errors.Is(err, model.ErrEmptyLots):
		return http.StatusConflict
	case errors.Is(err, model.ErrInsufficientCredit):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrBidTooLow), errors.Is(err, model.ErrInvalidMessage):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrMemberNotFound):
		return http.StatusForbidden
	case errors.Is(err, model.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, append(fields, zap.Error(err))...)
	}
	http.Error(w, http.StatusText(status), status)
}
