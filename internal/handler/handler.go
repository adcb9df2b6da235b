// Package handler содержит HTTP-обработчики API краудфандингового реестра.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/akozyrev/crowdfund-system/internal/middleware"
	"github.com/akozyrev/crowdfund-system/internal/model"
	"github.com/akozyrev/crowdfund-system/internal/repository"
	"github.com/akozyrev/crowdfund-system/internal/service"
	"github.com/akozyrev/crowdfund-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateCampaign(ctx context.Context, creator string, in service.CreateCampaignInput) (int64, error)
	GetCampaign(ctx context.Context, id int64) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, filter repository.CampaignFilter) ([]model.Campaign, error)
	Donate(ctx context.Context, id int64, contributor string, amountEth float64) error
	Withdraw(ctx context.Context, id int64, actor string) (float64, error)
	SoftDelete(ctx context.Context, id int64, actor string) error
	PostUpdate(ctx context.Context, id int64, actor, message string) (*model.Update, error)
	GetUpdates(ctx context.Context, id int64) ([]model.Update, error)
	ContributionOf(ctx context.Context, id int64, contributor string) (float64, error)
	ContributorsOf(ctx context.Context, id int64) ([]string, error)
	GetProfile(ctx context.Context, address string) (*service.Profile, error)
}

// Handler реализует HTTP-обработчики API краудфандингового реестра.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// writeDomainError переводит доменную ошибку в HTTP-статус. Текст ошибки
// попадает в тело ответа: по нему различаются виды, делящие один статус.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrEmptyMessage):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, repository.ErrCampaignNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrUnauthorized),
		errors.Is(err, repository.ErrNotCreator):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, repository.ErrCampaignInactive),
		errors.Is(err, repository.ErrGoalReached),
		errors.Is(err, repository.ErrNotEnded),
		errors.Is(err, repository.ErrAlreadyWithdrawn),
		errors.Is(err, repository.ErrAlreadyDeleted):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, repository.ErrCampaignEnded):
		http.Error(w, err.Error(), http.StatusGone)
	case errors.Is(err, repository.ErrGoalNotMet):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	default:
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func campaignID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

type sessionRequest struct {
	Address string `json:"address"`
}

type sessionResponse struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

// Connect выдаёт токен идентичности для синтаксически корректного адреса.
// Владение адресом подтверждает внешний резолвер идентичности; реестр
// аутентификацию не выполняет.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidAddress(req.Address) {
		http.Error(w, "invalid wallet address", http.StatusUnprocessableEntity)
		return
	}

	address := strings.ToLower(req.Address)
	h.writeJSON(w, http.StatusOK, sessionResponse{
		Address: address,
		Token:   h.authMiddleware.IssueToken(address),
	})
}

type createCampaignRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Story       string  `json:"story"`
	Location    string  `json:"location"`
	ImageURL    string  `json:"image_url"`
	Goal        float64 `json:"goal"`
	Category    int     `json:"category"`
	Deadline    string  `json:"deadline"`
}

type createCampaignResponse struct {
	ID int64 `json:"id"`
}

// CreateCampaign создаёт новую кампанию от имени текущего пользователя.
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	deadline, err := time.Parse(time.RFC3339, req.Deadline)
	if err != nil {
		http.Error(w, "deadline must be an RFC3339 timestamp", http.StatusBadRequest)
		return
	}

	id, err := h.service.CreateCampaign(r.Context(), caller, service.CreateCampaignInput{
		Title:       req.Title,
		Description: req.Description,
		Story:       req.Story,
		Location:    req.Location,
		ImageURL:    req.ImageURL,
		GoalEth:     req.Goal,
		Category:    req.Category,
		Deadline:    deadline,
	})
	if err != nil {
		if h.writeDomainError(w, err) {
			return
		}
		h.logger.Error("create campaign error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, createCampaignResponse{ID: id})
}

type campaignResponse struct {
	ID             int64   `json:"id"`
	Creator        string  `json:"creator"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Story          string  `json:"story"`
	Location       string  `json:"location"`
	ImageURL       string  `json:"image_url"`
	Goal           float64 `json:"goal"`
	Raised         float64 `json:"raised"`
	Category       int     `json:"category"`
	CategoryName   string  `json:"category_name"`
	Deadline       string  `json:"deadline"`
	Active         bool    `json:"active"`
	FundsWithdrawn bool    `json:"funds_withdrawn"`
	State          string  `json:"state"`
	MetadataCID    string  `json:"metadata_cid,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

func toCampaignResponse(c *model.Campaign, now time.Time) campaignResponse {
	return campaignResponse{
		ID:             c.ID,
		Creator:        c.Creator,
		Title:          c.Title,
		Description:    c.Description,
		Story:          c.Story,
		Location:       c.Location,
		ImageURL:       c.ImageURL,
		Goal:           service.EthFromGwei(c.GoalGwei),
		Raised:         service.EthFromGwei(c.RaisedGwei),
		Category:       int(c.Category),
		CategoryName:   c.Category.String(),
		Deadline:       c.Deadline.Format(time.RFC3339),
		Active:         c.Active,
		FundsWithdrawn: c.FundsWithdrawn,
		State:          string(c.State(now)),
		MetadataCID:    c.MetadataCID,
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
	}
}

// GetCampaign возвращает кампанию по идентификатору.
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.GetCampaign(r.Context(), id)
	if err != nil {
		if h.writeDomainError(w, err) {
			return
		}
		h.logger.Error("get campaign error", zap.Error(err), zap.Int64("campaignID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toCampaignResponse(c, time.Now()))
}

// ListCampaigns возвращает все кампании, включая неактивные,
// с опциональными фильтрами читающей стороны.
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	var filter repository.CampaignFilter

	if v := r.URL.Query().Get("category"); v != "" {
		idx, err := strconv.Atoi(v)
		if err != nil || !model.Category(idx).IsValid() {
			http.Error(w, "unknown category", http.StatusBadRequest)
			return
		}
		category := model.Category(idx)
		filter.Category = &category
	}
	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "active must be a boolean", http.StatusBadRequest)
			return
		}
		filter.Active = &active
	}
	filter.TitleQuery = r.URL.Query().Get("q")

	campaigns, err := h.service.ListCampaigns(r.Context(), filter)
	if err != nil {
		h.logger.Error("list campaigns error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	now := time.Now()
	resp := make([]campaignResponse, 0, len(campaigns))
	for i := range campaigns {
		resp = append(resp, toCampaignResponse(&campaigns[i], now))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type donateRequest struct {
	Amount float64 `json:"amount"`
}

// Donate регистрирует пожертвование текущего пользователя в кампанию.
func (h *Handler) Donate(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, err := campaignID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req donateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.Donate(r.Context(), id, caller, req.Amount); err != nil {
		if h.writeDomainError(w, err) {
			return
		}
		h.logger.Error("donate error", zap.Error(err), zap.Int64("campaignID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type withdrawResponse struct {
	Amount float64 `json:"amount"`
}

// Withdraw однократно авторизует вывод средств кампании её создателем.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, err := campaignID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	amount, err := h.service.Withdraw(r.Context(), id, caller)
	if err != nil {
		if h.writeDomainError(w, err) {
			return
		}
		h.logger.Error("withdraw error", zap.Error(err), zap.Int64("campaignID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, withdrawResponse{Amount: amount})
}

// DeleteCampaign мягко удаляет кампанию. Требует возможности модерации.
func (h *Handler) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, err := campaignID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SoftDelete(r.Context(), id, caller); err != nil {
		if h.writeDomainError(w, err) {
			return
		}
		h.logger.Error("delete campaign error", zap.Error(err), zap.Int64("campaignID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type postUpdateRequest struct {
	Message string `json:"message"`
}

type updateResponse struct {
	ID       int64  `json:"id"`
	Message  string `json:"message"`
	PostedAt string `json:"posted_at"`
}

// PostUpdate публикует обновление кампании от имени её создателя.
func (h *Handler) PostUpdate(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, err := campaignID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req postUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.PostUpdate(r.Context(), id, caller, req.Message)
	if err != nil {
		if h.writeDomainError(w, err) {
			return
		}
		h.logger.Error("post update error", zap.Error(err), zap.Int64("campaignID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, updateResponse{
		ID:       u.ID,
		Message:  u.Message,
		PostedAt: u.PostedAt.Format(time.RFC3339),
	})
}

// GetUpdates возвращает ленту новостей кампании от старых записей к новым.
func (h *Handler) GetUpdates(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	updates, err := h.service.GetUpdates(r.Context(), id)
	if err != nil {
		if h.writeDomainError(w, err) {
			return
		}
		h.logger.Error("get updates error", zap.Error(err), zap.Int64("campaignID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]updateResponse, 0, len(updates))
	for _, u := range updates {
		resp = append(resp, updateResponse{
			ID:       u.ID,
			Message:  u.Message,
			PostedAt: u.PostedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type contributionResponse struct {
	Amount float64 `json:"amount"`
}

// GetContribution возвращает накопленный взнос вызывающего адреса в кампанию.
func (h *Handler) GetContribution(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, err := campaignID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	amount, err := h.service.ContributionOf(r.Context(), id, caller)
	if err != nil {
		if h.writeDomainError(w, err) {
			return
		}
		h.logger.Error("get contribution error", zap.Error(err), zap.Int64("campaignID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, contributionResponse{Amount: amount})
}

// GetContributors возвращает адреса с ненулевым взносом в кампанию.
func (h *Handler) GetContributors(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	contributors, err := h.service.ContributorsOf(r.Context(), id)
	if err != nil {
		if h.writeDomainError(w, err) {
			return
		}
		h.logger.Error("get contributors error", zap.Error(err), zap.Int64("campaignID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if contributors == nil {
		contributors = []string{}
	}
	h.writeJSON(w, http.StatusOK, contributors)
}

type contributedCampaignResponse struct {
	campaignResponse
	Contributed float64 `json:"contributed"`
}

type profileResponse struct {
	Address     string                        `json:"address"`
	Created     []campaignResponse            `json:"created"`
	Contributed []contributedCampaignResponse `json:"contributed"`
}

// GetProfile возвращает созданные кампании текущего пользователя
// и кампании с его взносами.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	profile, err := h.service.GetProfile(r.Context(), caller)
	if err != nil {
		h.logger.Error("get profile error", zap.Error(err), zap.String("caller", caller))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	now := time.Now()

	created := make([]campaignResponse, 0, len(profile.Created))
	for i := range profile.Created {
		created = append(created, toCampaignResponse(&profile.Created[i], now))
	}

	contributed := make([]contributedCampaignResponse, 0, len(profile.Contributed))
	for i := range profile.Contributed {
		contributed = append(contributed, contributedCampaignResponse{
			campaignResponse: toCampaignResponse(&profile.Contributed[i].Campaign, now),
			Contributed:      service.EthFromGwei(profile.Contributed[i].AmountGwei),
		})
	}

	h.writeJSON(w, http.StatusOK, profileResponse{
		Address:     caller,
		Created:     created,
		Contributed: contributed,
	})
}
