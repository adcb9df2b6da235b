package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/akozyrev/crowdfund-system/internal/middleware"
	"github.com/akozyrev/crowdfund-system/internal/model"
	"github.com/akozyrev/crowdfund-system/internal/repository"
	"github.com/akozyrev/crowdfund-system/internal/service"
)

const testCaller = "0x91d174a2933a867018a9788429847d2f054080c3"

type stubService struct {
	createID  int64
	createErr error

	campaign    *model.Campaign
	campaignErr error

	campaigns    []model.Campaign
	campaignsErr error

	donateErr error

	withdrawAmount float64
	withdrawErr    error

	deleteErr error

	update    *model.Update
	updateErr error

	updates    []model.Update
	updatesErr error

	contribution    float64
	contributionErr error

	contributors    []string
	contributorsErr error

	profile    *service.Profile
	profileErr error
}

func (s *stubService) CreateCampaign(ctx context.Context, creator string, in service.CreateCampaignInput) (int64, error) {
	return s.createID, s.createErr
}

func (s *stubService) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	return s.campaign, s.campaignErr
}

func (s *stubService) ListCampaigns(ctx context.Context, filter repository.CampaignFilter) ([]model.Campaign, error) {
	return s.campaigns, s.campaignsErr
}

func (s *stubService) Donate(ctx context.Context, id int64, contributor string, amountEth float64) error {
	return s.donateErr
}

func (s *stubService) Withdraw(ctx context.Context, id int64, actor string) (float64, error) {
	return s.withdrawAmount, s.withdrawErr
}

func (s *stubService) SoftDelete(ctx context.Context, id int64, actor string) error {
	return s.deleteErr
}

func (s *stubService) PostUpdate(ctx context.Context, id int64, actor, message string) (*model.Update, error) {
	return s.update, s.updateErr
}

func (s *stubService) GetUpdates(ctx context.Context, id int64) ([]model.Update, error) {
	return s.updates, s.updatesErr
}

func (s *stubService) ContributionOf(ctx context.Context, id int64, contributor string) (float64, error) {
	return s.contribution, s.contributionErr
}

func (s *stubService) ContributorsOf(ctx context.Context, id int64) ([]string, error) {
	return s.contributors, s.contributorsErr
}

func (s *stubService) GetProfile(ctx context.Context, address string) (*service.Profile, error) {
	return s.profile, s.profileErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth)
}

func doRequest(t *testing.T, h *Handler, method, target string, body any, authorized bool) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	if authorized {
		req.Header.Set("Authorization", "Bearer "+h.authMiddleware.IssueToken(testCaller))
	}

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec.Result()
}

func TestConnect_IssuesToken(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := doRequest(t, h, http.MethodPost, "/api/session", sessionRequest{Address: "0x91D174A2933A867018A9788429847D2F054080C3"}, false)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp sessionResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Address != testCaller {
		t.Fatalf("address = %q, want lowercase %q", resp.Address, testCaller)
	}
	if resp.Token == "" {
		t.Fatalf("empty token in response")
	}
}

func TestConnect_RejectsMalformedAddress(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := doRequest(t, h, http.MethodPost, "/api/session", sessionRequest{Address: "not-an-address"}, false)
	defer res.Body.Close()

	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestCreateCampaign_Created(t *testing.T) {
	h := newTestHandler(t, &stubService{createID: 42})

	body := createCampaignRequest{
		Title:       "Well for the village",
		Description: "Clean water access",
		Location:    "Kenya",
		Goal:        10,
		Deadline:    time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	}

	res := doRequest(t, h, http.MethodPost, "/api/campaigns", body, true)
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp createCampaignResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 42 {
		t.Fatalf("id = %d, want 42", resp.ID)
	}
}

func TestCreateCampaign_RequiresAuth(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := doRequest(t, h, http.MethodPost, "/api/campaigns", createCampaignRequest{}, false)
	defer res.Body.Close()

	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestCreateCampaign_ValidationError(t *testing.T) {
	h := newTestHandler(t, &stubService{createErr: service.ErrValidation})

	body := createCampaignRequest{
		Deadline: time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	}

	res := doRequest(t, h, http.MethodPost, "/api/campaigns", body, true)
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestDonate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"not found", repository.ErrCampaignNotFound, http.StatusNotFound},
		{"inactive", repository.ErrCampaignInactive, http.StatusConflict},
		{"ended", repository.ErrCampaignEnded, http.StatusGone},
		{"goal reached", repository.ErrGoalReached, http.StatusConflict},
		{"invalid amount", service.ErrInvalidAmount, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{donateErr: tt.err})

			res := doRequest(t, h, http.MethodPost, "/api/campaigns/1/donations", donateRequest{Amount: 1}, true)
			defer res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
		})
	}
}

func TestWithdraw_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"not found", repository.ErrCampaignNotFound, http.StatusNotFound},
		{"not creator", repository.ErrNotCreator, http.StatusForbidden},
		{"not ended", repository.ErrNotEnded, http.StatusConflict},
		{"goal not met", repository.ErrGoalNotMet, http.StatusPaymentRequired},
		{"already withdrawn", repository.ErrAlreadyWithdrawn, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{withdrawAmount: 10, withdrawErr: tt.err})

			res := doRequest(t, h, http.MethodPost, "/api/campaigns/1/withdraw", nil, true)
			defer res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
		})
	}
}

func TestWithdraw_ReturnsAmount(t *testing.T) {
	h := newTestHandler(t, &stubService{withdrawAmount: 10})

	res := doRequest(t, h, http.MethodPost, "/api/campaigns/1/withdraw", nil, true)
	defer res.Body.Close()

	var resp withdrawResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Amount != 10 {
		t.Fatalf("amount = %v, want 10", resp.Amount)
	}
}

func TestDeleteCampaign_Forbidden(t *testing.T) {
	h := newTestHandler(t, &stubService{deleteErr: service.ErrUnauthorized})

	res := doRequest(t, h, http.MethodDelete, "/api/campaigns/1", nil, true)
	defer res.Body.Close()

	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestDeleteCampaign_AlreadyDeleted(t *testing.T) {
	h := newTestHandler(t, &stubService{deleteErr: repository.ErrAlreadyDeleted})

	res := doRequest(t, h, http.MethodDelete, "/api/campaigns/1", nil, true)
	defer res.Body.Close()

	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestPostUpdate_Created(t *testing.T) {
	now := time.Now().UTC()
	h := newTestHandler(t, &stubService{
		update: &model.Update{ID: 5, CampaignID: 1, Message: "progress report", PostedAt: now},
	})

	res := doRequest(t, h, http.MethodPost, "/api/campaigns/1/updates", postUpdateRequest{Message: "progress report"}, true)
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp updateResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 5 || resp.Message != "progress report" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPostUpdate_NotCreator(t *testing.T) {
	h := newTestHandler(t, &stubService{updateErr: repository.ErrNotCreator})

	res := doRequest(t, h, http.MethodPost, "/api/campaigns/1/updates", postUpdateRequest{Message: "hello"}, true)
	defer res.Body.Close()

	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestGetCampaign_JSONResponse(t *testing.T) {
	h := newTestHandler(t, &stubService{
		campaign: &model.Campaign{
			ID:         1,
			Creator:    testCaller,
			Title:      "Well for the village",
			GoalGwei:   10_000_000_000,
			RaisedGwei: 4_000_000_000,
			Category:   model.CategoryCommunity,
			Deadline:   time.Now().Add(24 * time.Hour),
			Active:     true,
		},
	})

	res := doRequest(t, h, http.MethodGet, "/api/campaigns/1", nil, false)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var resp campaignResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Goal != 10 || resp.Raised != 4 {
		t.Fatalf("goal/raised = %v/%v, want 10/4", resp.Goal, resp.Raised)
	}
	if resp.State != string(model.StateOpen) {
		t.Fatalf("state = %q, want %q", resp.State, model.StateOpen)
	}
	if resp.CategoryName != "Community" {
		t.Fatalf("category name = %q, want Community", resp.CategoryName)
	}
}

func TestGetCampaign_NotFound(t *testing.T) {
	h := newTestHandler(t, &stubService{campaignErr: repository.ErrCampaignNotFound})

	res := doRequest(t, h, http.MethodGet, "/api/campaigns/999", nil, false)
	defer res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestListCampaigns_RejectsUnknownCategory(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := doRequest(t, h, http.MethodGet, "/api/campaigns?category=99", nil, false)
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestListCampaigns_EmptyIsJSONArray(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := doRequest(t, h, http.MethodGet, "/api/campaigns", nil, false)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp []campaignResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp == nil || len(resp) != 0 {
		t.Fatalf("expected empty array, got %v", resp)
	}
}

func TestGetContribution(t *testing.T) {
	h := newTestHandler(t, &stubService{contribution: 1.5})

	res := doRequest(t, h, http.MethodGet, "/api/campaigns/7/contribution", nil, true)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp contributionResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Amount != 1.5 {
		t.Fatalf("amount = %v, want 1.5", resp.Amount)
	}
}

func TestGetContributionUnknownCampaign(t *testing.T) {
	h := newTestHandler(t, &stubService{contributionErr: repository.ErrCampaignNotFound})

	res := doRequest(t, h, http.MethodGet, "/api/campaigns/404/contribution", nil, true)
	defer res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestGetProfile(t *testing.T) {
	h := newTestHandler(t, &stubService{
		profile: &service.Profile{
			Created: []model.Campaign{{ID: 1, Creator: testCaller, Active: true, Deadline: time.Now().Add(time.Hour), GoalGwei: 1}},
			Contributed: []model.ContributedCampaign{
				{Campaign: model.Campaign{ID: 2, Active: true, Deadline: time.Now().Add(time.Hour), GoalGwei: 1}, AmountGwei: 500_000_000},
			},
		},
	})

	res := doRequest(t, h, http.MethodGet, "/api/profile", nil, true)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp profileResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Address != testCaller {
		t.Fatalf("address = %q, want %q", resp.Address, testCaller)
	}
	if len(resp.Created) != 1 || len(resp.Contributed) != 1 {
		t.Fatalf("unexpected profile: %+v", resp)
	}
	if resp.Contributed[0].Contributed != 0.5 {
		t.Fatalf("contributed = %v, want 0.5", resp.Contributed[0].Contributed)
	}
}
