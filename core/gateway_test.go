package core

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spearlab/phishtrack/database"
)

type gatewayFixture struct {
	*engineFixture
	cfg     *Config
	codec   *TokenCodec
	gateway *Gateway
}

func setupGateway(t *testing.T) *gatewayFixture {
	t.Helper()

	ef := setupEngine(t, DispatchPerThreshold)

	cfg, err := NewConfig(filepath.Join(t.TempDir(), "cfg"), "")
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	codec, err := NewTokenCodec(cfg.GetSigningKeys(), cfg.GetTokenLifetime())
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}

	return &gatewayFixture{
		engineFixture: ef,
		cfg:           cfg,
		codec:         codec,
		gateway:       NewGateway(cfg, codec, ef.engine),
	}
}

func (f *gatewayFixture) mint(t *testing.T, p Purpose) string {
	t.Helper()
	token, err := f.codec.Mint(f.campaign.Id, f.target.Id, p, time.Now())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return token
}

func (f *gatewayFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.gateway.Router().ServeHTTP(rec, req)
	return rec
}

func TestGatewayOpenPixel(t *testing.T) {
	f := setupGateway(t)

	req := httptest.NewRequest("GET", "/t/"+f.mint(t, PurposeOpen)+"?p=open", nil)
	rec := f.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/gif" {
		t.Errorf("content type = %s, want image/gif", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), pixelGIF) {
		t.Error("body is not the tracking pixel")
	}

	target, err := f.db.GetTarget(f.target.Id)
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if target.State != "opened" {
		t.Errorf("target state = %s, want opened", target.State)
	}
}

func TestGatewayClickRedirect(t *testing.T) {
	f := setupGateway(t)

	req := httptest.NewRequest("GET", "/t/"+f.mint(t, PurposeClick), nil)
	rec := f.do(req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://landing.example.com/reset" {
		t.Errorf("redirect to %s, want the campaign landing page", loc)
	}
}

func TestGatewayInvalidToken(t *testing.T) {
	f := setupGateway(t)

	for _, path := range []string{"/t/garbage", "/t/v1.AAAA.BBBB", "/r/garbage"} {
		method := "GET"
		if strings.HasPrefix(path, "/r/") {
			method = "POST"
		}
		rec := f.do(httptest.NewRequest(method, path, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s %s: status = %d, want 400", method, path, rec.Code)
		}
	}
}

func TestGatewayExpiredToken(t *testing.T) {
	f := setupGateway(t)

	token, err := f.codec.Mint(f.campaign.Id, f.target.Id, PurposeClick, time.Now().Add(-f.cfg.GetTokenLifetime()-time.Hour))
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	rec := f.do(httptest.NewRequest("GET", "/t/"+token, nil))
	if rec.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "simulation has ended") {
		t.Error("expected the ended page")
	}
}

func TestGatewayDanglingToken(t *testing.T) {
	f := setupGateway(t)

	token, err := f.codec.Mint(999, 999, PurposeOpen, time.Now())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	rec := f.do(httptest.NewRequest("GET", "/t/"+token, nil))
	if rec.Code != http.StatusGone {
		t.Errorf("status = %d, want 410 for a validly signed token over unknown records", rec.Code)
	}
}

func TestGatewayInactiveCampaign(t *testing.T) {
	f := setupGateway(t)

	if _, err := f.db.SetCampaignStatus(f.campaign.Id, database.CampaignStatusClosed); err != nil {
		t.Fatalf("SetCampaignStatus: %v", err)
	}

	rec := f.do(httptest.NewRequest("GET", "/t/"+f.mint(t, PurposeClick), nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	// the hit still lands in the ledger as an audit entry
	events, err := f.db.ListTargetEvents(f.target.Id)
	if err != nil {
		t.Fatalf("ListTargetEvents: %v", err)
	}
	if len(events) != 1 || !events[0].Audit {
		t.Fatalf("ledger = %+v, want one audit event", events)
	}
}

func TestGatewayPurposeMismatch(t *testing.T) {
	f := setupGateway(t)

	// a submit token cannot be spent on the GET endpoint
	rec := f.do(httptest.NewRequest("GET", "/t/"+f.mint(t, PurposeSubmit), nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("GET with submit token: status = %d, want 400", rec.Code)
	}

	// and a click token cannot be POSTed as a submission
	rec = f.do(httptest.NewRequest("POST", "/t/"+f.mint(t, PurposeClick), nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST with click token: status = %d, want 400", rec.Code)
	}

	// the ?p= hint is advisory only; the token decides
	rec = f.do(httptest.NewRequest("GET", "/t/"+f.mint(t, PurposeOpen)+"?p=click", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	target, err := f.db.GetTarget(f.target.Id)
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if target.State != "opened" {
		t.Errorf("target state = %s, want opened (token purpose wins)", target.State)
	}
}

func TestGatewaySubmitDiscardsFormValues(t *testing.T) {
	f := setupGateway(t)

	form := url.Values{"username": {"alice"}, "password": {"hunter2"}}
	req := httptest.NewRequest("POST", "/t/"+f.mint(t, PurposeSubmit), strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := f.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "simulated phishing page") {
		t.Error("expected the debrief page")
	}

	target, err := f.db.GetTarget(f.target.Id)
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if target.State != "submitted" {
		t.Errorf("target state = %s, want submitted", target.State)
	}

	// nothing from the form body may reach the ledger
	events, err := f.db.ListTargetEvents(f.target.Id)
	if err != nil {
		t.Fatalf("ListTargetEvents: %v", err)
	}
	for _, e := range events {
		for _, field := range []string{"alice", "hunter2", "username", "password"} {
			if strings.Contains(e.Nonce+e.IPHash+e.UserAgent+e.Purpose, field) {
				t.Errorf("form value %q leaked into event %+v", field, e)
			}
		}
	}
}

func TestGatewayReport(t *testing.T) {
	f := setupGateway(t)

	// any valid token authorizes a report, whatever purpose it was minted for
	rec := f.do(httptest.NewRequest("POST", "/r/"+f.mint(t, PurposeOpen), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Well spotted") {
		t.Error("expected the report acknowledgment page")
	}

	target, err := f.db.GetTarget(f.target.Id)
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if !target.Reported {
		t.Error("target not marked reported")
	}
	if target.State != "pending" {
		t.Errorf("report moved the state machine: %s", target.State)
	}
}

func TestGatewayIPNotStoredRaw(t *testing.T) {
	f := setupGateway(t)

	req := httptest.NewRequest("GET", "/t/"+f.mint(t, PurposeOpen), nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.23")
	if rec := f.do(req); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	events, err := f.db.ListTargetEvents(f.target.Id)
	if err != nil {
		t.Fatalf("ListTargetEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("ledger has %d events, want 1", len(events))
	}
	if events[0].IPHash == "" || strings.Contains(events[0].IPHash, "198.51.100.23") {
		t.Errorf("ip hash = %q, want a salted digest", events[0].IPHash)
	}
}

// A dead store answers 500, never the 410 ended page reserved for
// validly signed tokens over records that genuinely do not exist.
func TestGatewayStorageFault(t *testing.T) {
	f := setupGateway(t)
	token := f.mint(t, PurposeClick)

	f.db.Close()

	rec := f.do(httptest.NewRequest("GET", "/t/"+token, nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status with failed store = %d, want 500", rec.Code)
	}
}

func TestGatewayHealth(t *testing.T) {
	f := setupGateway(t)
	rec := f.do(httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
