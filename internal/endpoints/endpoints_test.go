package endpoints

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/thenexusengine/tne_bidengine/internal/budget"
	"github.com/thenexusengine/tne_bidengine/internal/openrtb"
)

type mockEngine struct {
	lastRequest *openrtb.BidRequest
	response    *openrtb.BidResponse

	wins   []string
	losses []string
}

func (m *mockEngine) ProcessBidRequest(_ context.Context, req *openrtb.BidRequest) *openrtb.BidResponse {
	m.lastRequest = req
	if m.response != nil {
		return m.response
	}
	return &openrtb.BidResponse{ID: req.ID, NBR: openrtb.NoBidNoEligibleBid}
}

func (m *mockEngine) HandleWinNotification(bidID string, _ float64) {
	m.wins = append(m.wins, bidID)
}

func (m *mockEngine) HandleLossNotification(bidID string, _ float64, _ string) {
	m.losses = append(m.losses, bidID)
}

func (m *mockEngine) GetServerStatistics() map[string]any {
	return map[string]any{"requestsProcessed": int64(7)}
}

func TestAuctionHandlerReturnsBidResponse(t *testing.T) {
	engine := &mockEngine{
		response: &openrtb.BidResponse{
			ID: "req-1",
			SeatBid: []openrtb.SeatBid{{
				Seat: "seat_1",
				Bid:  []openrtb.Bid{{ID: "bid-1", ImpID: "imp-1", Price: 3.31}},
			}},
		},
	}
	handler := NewAuctionHandler(engine)

	body := `{"id":"req-1","imp":[{"id":"imp-1","banner":{"w":300,"h":250}}]}`
	req := httptest.NewRequest(http.MethodPost, "/openrtb2/auction", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if engine.lastRequest == nil || engine.lastRequest.ID != "req-1" {
		t.Fatal("engine did not receive the decoded request")
	}

	var resp openrtb.BidResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if len(resp.SeatBid) != 1 || resp.SeatBid[0].Bid[0].Price != 3.31 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestAuctionHandlerNoBidStillOK(t *testing.T) {
	handler := NewAuctionHandler(&mockEngine{})

	body := `{"id":"req-1","imp":[{"id":"imp-1","banner":{}}]}`
	req := httptest.NewRequest(http.MethodPost, "/openrtb2/auction", strings.NewReader(body))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("no-bid should still answer 200, got %d", w.Code)
	}

	var resp openrtb.BidResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if resp.NBR != openrtb.NoBidNoEligibleBid {
		t.Errorf("expected NBR %d, got %d", openrtb.NoBidNoEligibleBid, resp.NBR)
	}
}

func TestAuctionHandlerRejectsBadInput(t *testing.T) {
	handler := NewAuctionHandler(&mockEngine{})

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"invalid json", http.MethodPost, "{not json", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/openrtb2/auction", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestWinHandler(t *testing.T) {
	engine := &mockEngine{}
	handler := NewWinHandler(engine)

	req := httptest.NewRequest(http.MethodPost, "/notify/win",
		strings.NewReader(`{"bidId":"bid-1","winPrice":3.31}`))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if len(engine.wins) != 1 || engine.wins[0] != "bid-1" {
		t.Errorf("win not forwarded: %v", engine.wins)
	}
}

func TestWinHandlerValidation(t *testing.T) {
	handler := NewWinHandler(&mockEngine{})

	tests := []struct {
		name string
		body string
	}{
		{"missing bid id", `{"winPrice":1.0}`},
		{"negative price", `{"bidId":"b","winPrice":-1}`},
		{"bad json", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/notify/win", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestLossHandler(t *testing.T) {
	engine := &mockEngine{}
	handler := NewLossHandler(engine)

	req := httptest.NewRequest(http.MethodPost, "/notify/loss",
		strings.NewReader(`{"bidId":"bid-2","winPrice":4.0,"lossReason":"outbid"}`))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(engine.losses) != 1 || engine.losses[0] != "bid-2" {
		t.Errorf("loss not forwarded: %v", engine.losses)
	}
}

func TestStatusHandler(t *testing.T) {
	handler := NewStatusHandler(&mockEngine{})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("unexpected status: %v", body["status"])
	}
	stats, ok := body["statistics"].(map[string]any)
	if !ok || stats["requestsProcessed"] != float64(7) {
		t.Errorf("statistics not included: %v", body["statistics"])
	}
}

func TestCampaignBudgetRoundTrip(t *testing.T) {
	ledger := budget.NewLedger(nil)
	handler := NewCampaignHandler(ledger)

	r := chi.NewRouter()
	r.Put("/campaigns/{campaignID}/budget", handler.SetBudget)
	r.Get("/campaigns/{campaignID}/budget", handler.GetBudget)

	req := httptest.NewRequest(http.MethodPut, "/campaigns/camp-1/budget",
		strings.NewReader(`{"dailyBudget":500,"totalBudget":5000}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("set: expected 204, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/campaigns/camp-1/budget", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}

	var snap budget.CampaignSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if snap.DailyBudget != 500 || snap.TotalBudget != 5000 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestCampaignBudgetValidation(t *testing.T) {
	handler := NewCampaignHandler(budget.NewLedger(nil))

	r := chi.NewRouter()
	r.Put("/campaigns/{campaignID}/budget", handler.SetBudget)
	r.Get("/campaigns/{campaignID}/budget", handler.GetBudget)

	req := httptest.NewRequest(http.MethodPut, "/campaigns/camp-1/budget",
		strings.NewReader(`{"dailyBudget":-5,"totalBudget":100}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative budget, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/campaigns/ghost/budget", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown campaign, got %d", w.Code)
	}
}
