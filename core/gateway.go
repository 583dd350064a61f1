package core

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/gorilla/mux"
	"github.com/spearlab/phishtrack/log"
)

// 1x1 transparent GIF served for open-tracking pixels.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

const endedPage = `<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
<h1>This simulation has ended</h1>
<p>The security awareness exercise this link belongs to is no longer running.</p>
</body></html>`

const inactivePage = `<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
<h1>Campaign not active</h1>
<p>This link belongs to a security awareness exercise that is not currently running.</p>
</body></html>`

const submitAckPage = `<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
<h1>This was a simulated phishing page</h1>
<p>No data you entered was stored. Watch for the follow-up training material in your inbox.</p>
</body></html>`

const reportAckPage = `<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
<h1>Well spotted!</h1>
<p>You correctly reported a simulated phishing email. Thank you for keeping the organization safe.</p>
</body></html>`

// Gateway is the only network-facing entry point of the tracker. It
// decodes tokens, hands events to the engine and answers with whatever
// the purpose calls for: a pixel, a redirect or an acknowledgment page.
type Gateway struct {
	cfg     *Config
	codec   *TokenCodec
	engine  *TrackEngine
	router  *mux.Router
	server  *http.Server
	running bool
	mtx     sync.Mutex
}

func NewGateway(cfg *Config, codec *TokenCodec, engine *TrackEngine) *Gateway {
	gw := &Gateway{
		cfg:    cfg,
		codec:  codec,
		engine: engine,
		router: mux.NewRouter(),
	}
	gw.setupRoutes()
	return gw
}

func (gw *Gateway) setupRoutes() {
	gw.router.HandleFunc("/t/{token}", gw.handleTrack).Methods("GET")
	gw.router.HandleFunc("/t/{token}", gw.handleSubmit).Methods("POST")
	gw.router.HandleFunc("/r/{token}", gw.handleReport).Methods("POST")
	gw.router.HandleFunc("/healthz", gw.handleHealth).Methods("GET")
}

func (gw *Gateway) Router() http.Handler {
	return gw.router
}

// TrackURL builds the public tracking link for a minted token.
func (gw *Gateway) TrackURL(token string, purpose Purpose) string {
	return fmt.Sprintf("%s/t/%s?p=%s", gw.cfg.GetBaseURL(), token, purpose)
}

func (gw *Gateway) ReportURL(token string) string {
	return fmt.Sprintf("%s/r/%s", gw.cfg.GetBaseURL(), token)
}

func (gw *Gateway) handleTrack(w http.ResponseWriter, req *http.Request) {
	pt, ok := gw.decodeRequest(w, req)
	if !ok {
		return
	}

	if pt.Purpose != PurposeOpen && pt.Purpose != PurposeClick {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	res, err := gw.engine.HandleEvent(pt, gw.eventMeta(req))
	if err != nil {
		gw.respondError(w, err)
		return
	}
	if res.AuditOnly {
		gw.respondInactive(w)
		return
	}

	switch pt.Purpose {
	case PurposeOpen:
		gw.servePixel(w)
	case PurposeClick:
		landing := res.Campaign.LandingURL
		if landing == "" {
			landing = gw.cfg.GetBaseURL()
		}
		http.Redirect(w, req, landing, http.StatusFound)
	}
}

// handleSubmit accepts the harvested form POST from the simulated landing
// page. Submitted values are parsed and dropped on the floor: the ledger
// only ever learns that a submission happened.
func (gw *Gateway) handleSubmit(w http.ResponseWriter, req *http.Request) {
	pt, ok := gw.decodeRequest(w, req)
	if !ok {
		return
	}

	if pt.Purpose != PurposeSubmit {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	req.ParseForm()
	field_count := len(req.PostForm)
	req.PostForm = nil
	req.Form = nil

	res, err := gw.engine.HandleEvent(pt, gw.eventMeta(req))
	if err != nil {
		gw.respondError(w, err)
		return
	}
	if res.AuditOnly {
		gw.respondInactive(w)
		return
	}

	log.Debug("gateway: submit from target %d (%d fields discarded)", pt.TargetId, field_count)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(submitAckPage))
}

// handleReport marks the target as having flagged the email. Any valid
// token for the target authorizes a report, whatever its purpose.
func (gw *Gateway) handleReport(w http.ResponseWriter, req *http.Request) {
	pt, ok := gw.decodeRequest(w, req)
	if !ok {
		return
	}

	report := *pt
	report.Purpose = PurposeReport

	res, err := gw.engine.HandleEvent(&report, gw.eventMeta(req))
	if err != nil {
		gw.respondError(w, err)
		return
	}
	if res.AuditOnly {
		gw.respondInactive(w)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(reportAckPage))
}

func (gw *Gateway) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (gw *Gateway) decodeRequest(w http.ResponseWriter, req *http.Request) (*TokenPayload, bool) {
	token := mux.Vars(req)["token"]

	pt, err := gw.codec.Decode(token)
	if err != nil {
		gw.respondError(w, err)
		return nil, false
	}

	if p := req.URL.Query().Get("p"); p != "" && p != string(pt.Purpose) {
		log.Debug("gateway: purpose hint '%s' disagrees with token purpose '%s'", p, pt.Purpose)
	}
	return pt, true
}

func (gw *Gateway) eventMeta(req *http.Request) EventMeta {
	return EventMeta{
		RemoteAddr: GetRealIP(req),
		UserAgent:  req.UserAgent(),
	}
}

func (gw *Gateway) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidToken):
		http.Error(w, "invalid request", http.StatusBadRequest)
	case errors.Is(err, ErrExpiredToken):
		gw.respondEnded(w)
	case errors.Is(err, ErrUnknownCampaign), errors.Is(err, ErrUnknownTarget):
		// valid signature over data we no longer hold - retention mismatch
		log.Error("gateway: %v", err)
		gw.respondEnded(w)
	case errors.Is(err, ErrLedgerWrite):
		log.Error("gateway: %v", err)
		http.Error(w, "temporary failure, try again", http.StatusInternalServerError)
	default:
		log.Error("gateway: %v", err)
		http.Error(w, "temporary failure, try again", http.StatusInternalServerError)
	}
}

func (gw *Gateway) respondEnded(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusGone)
	w.Write([]byte(endedPage))
}

func (gw *Gateway) respondInactive(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(inactivePage))
}

func (gw *Gateway) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Write(pixelGIF)
}

func (gw *Gateway) Start() error {
	gw.mtx.Lock()
	defer gw.mtx.Unlock()

	if gw.running {
		return fmt.Errorf("gateway already running")
	}

	addr := fmt.Sprintf("%s:%d", gw.cfg.GetServerBindIP(), gw.cfg.GetHttpsPort())
	gw.server = &http.Server{
		Addr:         addr,
		Handler:      gw.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var listener net.Listener
	var err error
	if gw.cfg.IsAutocertEnabled() && gw.cfg.GetBaseDomain() != "" {
		listener, err = certmagic.Listen([]string{gw.cfg.GetBaseDomain()})
		if err != nil {
			return fmt.Errorf("autocert listener: %v", err)
		}
		log.Info("gateway: serving https for %s", gw.cfg.GetBaseDomain())
	} else {
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to bind gateway to %s: %v", addr, err)
		}
		log.Warning("gateway: serving plain http on %s", addr)
	}

	go func() {
		if err := gw.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("gateway: %v", err)
		}
	}()

	gw.running = true
	log.Important("tracking gateway started on %s", addr)
	return nil
}

func (gw *Gateway) Stop() {
	gw.mtx.Lock()
	defer gw.mtx.Unlock()

	if gw.server != nil && gw.running {
		gw.server.Close()
		gw.running = false
		log.Info("tracking gateway stopped")
	}
}
