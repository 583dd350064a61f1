package core

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/spearlab/phishtrack/database"
	"github.com/spearlab/phishtrack/log"
)

// InternalAPI is the provisioning surface for the dashboard and delivery
// collaborators. It binds ONLY to localhost and speaks plain HTTP; the
// public internet never sees it.
type InternalAPI struct {
	server  *http.Server
	router  *mux.Router
	cfg     *Config
	db      *database.Database
	codec   *TokenCodec
	engine  *TrackEngine
	gateway *Gateway
	port    int
	running bool
	mtx     sync.Mutex
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type TrackingLinks struct {
	TargetId  int    `json:"target_id"`
	OpenURL   string `json:"open_url"`
	ClickURL  string `json:"click_url"`
	SubmitURL string `json:"submit_url"`
	ReportURL string `json:"report_url"`
}

type CampaignStats struct {
	CampaignId     int     `json:"campaign_id"`
	Status         string  `json:"status"`
	TotalTargets   int     `json:"total_targets"`
	Delivered      int     `json:"delivered"`
	Opened         int     `json:"opened"`
	Clicked        int     `json:"clicked"`
	Submitted      int     `json:"submitted"`
	Reported       int     `json:"reported"`
	ClickRate      float64 `json:"click_rate"`
	SubmissionRate float64 `json:"submission_rate"`
	TrainingSent   int     `json:"training_sent"`
	TrainingDone   int     `json:"training_done"`
}

func NewInternalAPI(cfg *Config, db *database.Database, codec *TokenCodec, engine *TrackEngine, gateway *Gateway) *InternalAPI {
	api := &InternalAPI{
		port:    cfg.GetInternalAPIPort(),
		cfg:     cfg,
		db:      db,
		codec:   codec,
		engine:  engine,
		gateway: gateway,
		router:  mux.NewRouter(),
	}
	api.setupRoutes()
	return api
}

func (api *InternalAPI) setupRoutes() {
	api.router.HandleFunc("/_health", api.handleHealth).Methods("GET")

	api.router.HandleFunc("/_campaigns", api.handleCampaigns).Methods("GET", "POST")
	api.router.HandleFunc("/_campaigns/{id}/status", api.handleCampaignStatus).Methods("POST")
	api.router.HandleFunc("/_campaigns/{id}/stats", api.handleCampaignStats).Methods("GET")
	api.router.HandleFunc("/_campaigns/{id}/targets", api.handleTargets).Methods("GET", "POST")
	api.router.HandleFunc("/_campaigns/{id}/events", api.handleEvents).Methods("GET")
	api.router.HandleFunc("/_campaigns/{id}/training", api.handleTraining).Methods("GET")

	api.router.HandleFunc("/_targets/{id}/delivered", api.handleDelivered).Methods("POST")
	api.router.HandleFunc("/_targets/{id}/links", api.handleLinks).Methods("GET")

	api.router.HandleFunc("/_training/{id}/complete", api.handleTrainingComplete).Methods("POST")

	api.router.HandleFunc("/_keys/rotate", api.handleKeyRotate).Methods("POST")

	api.router.PathPrefix("/").HandlerFunc(api.handleNotFound)
}

func (api *InternalAPI) handleHealth(w http.ResponseWriter, req *http.Request) {
	api.respond(w, http.StatusOK, APIResponse{Success: true, Message: "ok", Data: map[string]string{"version": VERSION}})
}

func (api *InternalAPI) handleCampaigns(w http.ResponseWriter, req *http.Request) {
	if req.Method == "GET" {
		campaigns, err := api.db.ListCampaigns()
		if err != nil {
			api.respondError(w, http.StatusInternalServerError, err)
			return
		}
		api.respond(w, http.StatusOK, APIResponse{Success: true, Data: campaigns})
		return
	}

	var body struct {
		Name       string `json:"name"`
		Scenario   string `json:"scenario"`
		LandingURL string `json:"landing_url"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Name == "" {
		api.respondError(w, http.StatusBadRequest, fmt.Errorf("campaign name is required"))
		return
	}

	c, err := api.db.CreateCampaign(body.Name, body.Scenario, body.LandingURL)
	if err != nil {
		api.respondError(w, http.StatusInternalServerError, err)
		return
	}
	log.Info("campaign created: [%d] %s (%s)", c.Id, c.Name, c.Scenario)
	api.respond(w, http.StatusCreated, APIResponse{Success: true, Data: c})
}

func (api *InternalAPI) handleCampaignStatus(w http.ResponseWriter, req *http.Request) {
	id, ok := api.pathId(w, req)
	if !ok {
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		api.respondError(w, http.StatusBadRequest, err)
		return
	}

	c, err := api.db.SetCampaignStatus(id, body.Status)
	if err != nil {
		api.respondError(w, http.StatusBadRequest, err)
		return
	}
	log.Info("campaign [%d] is now %s", c.Id, c.Status)
	api.respond(w, http.StatusOK, APIResponse{Success: true, Data: c})
}

func (api *InternalAPI) handleCampaignStats(w http.ResponseWriter, req *http.Request) {
	id, ok := api.pathId(w, req)
	if !ok {
		return
	}

	campaign, err := api.db.GetCampaign(id)
	if err != nil {
		api.respondError(w, http.StatusNotFound, err)
		return
	}
	targets, err := api.db.ListTargets(id)
	if err != nil {
		api.respondError(w, http.StatusInternalServerError, err)
		return
	}
	training, err := api.db.ListTraining(id)
	if err != nil {
		api.respondError(w, http.StatusInternalServerError, err)
		return
	}

	stats := &CampaignStats{CampaignId: id, Status: campaign.Status, TotalTargets: len(targets)}
	for _, t := range targets {
		state, _ := ParseState(t.State)
		if state >= StateDelivered {
			stats.Delivered++
		}
		if state >= StateOpened {
			stats.Opened++
		}
		if state >= StateClicked {
			stats.Clicked++
		}
		if state >= StateSubmitted {
			stats.Submitted++
		}
		if t.Reported {
			stats.Reported++
		}
	}
	if stats.TotalTargets > 0 {
		stats.ClickRate = float64(stats.Clicked) / float64(stats.TotalTargets) * 100
		stats.SubmissionRate = float64(stats.Submitted) / float64(stats.TotalTargets) * 100
	}
	for _, a := range training {
		stats.TrainingSent++
		if a.CompletedAt != 0 {
			stats.TrainingDone++
		}
	}

	api.respond(w, http.StatusOK, APIResponse{Success: true, Data: stats})
}

func (api *InternalAPI) handleTargets(w http.ResponseWriter, req *http.Request) {
	id, ok := api.pathId(w, req)
	if !ok {
		return
	}

	if req.Method == "GET" {
		targets, err := api.db.ListTargets(id)
		if err != nil {
			api.respondError(w, http.StatusInternalServerError, err)
			return
		}
		api.respond(w, http.StatusOK, APIResponse{Success: true, Data: targets})
		return
	}

	campaign, err := api.db.GetCampaign(id)
	if err != nil {
		api.respondError(w, http.StatusNotFound, err)
		return
	}
	if campaign.Status != database.CampaignStatusDraft {
		api.respondError(w, http.StatusBadRequest, fmt.Errorf("targets can only be added to a draft campaign"))
		return
	}

	var body struct {
		Recipients []string `json:"recipients"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || len(body.Recipients) == 0 {
		api.respondError(w, http.StatusBadRequest, fmt.Errorf("recipients list is required"))
		return
	}

	created := []*database.Target{}
	for _, r := range body.Recipients {
		t, err := api.db.CreateTarget(id, r)
		if err != nil {
			api.respondError(w, http.StatusInternalServerError, err)
			return
		}
		created = append(created, t)
	}
	log.Info("added %d targets to campaign [%d]", len(created), id)
	api.respond(w, http.StatusCreated, APIResponse{Success: true, Data: created})
}

func (api *InternalAPI) handleEvents(w http.ResponseWriter, req *http.Request) {
	id, ok := api.pathId(w, req)
	if !ok {
		return
	}
	events, err := api.db.ListEvents(id)
	if err != nil {
		api.respondError(w, http.StatusInternalServerError, err)
		return
	}
	api.respond(w, http.StatusOK, APIResponse{Success: true, Data: events})
}

func (api *InternalAPI) handleTraining(w http.ResponseWriter, req *http.Request) {
	id, ok := api.pathId(w, req)
	if !ok {
		return
	}
	assignments, err := api.db.ListTraining(id)
	if err != nil {
		api.respondError(w, http.StatusInternalServerError, err)
		return
	}
	api.respond(w, http.StatusOK, APIResponse{Success: true, Data: assignments})
}

func (api *InternalAPI) handleDelivered(w http.ResponseWriter, req *http.Request) {
	id, ok := api.pathId(w, req)
	if !ok {
		return
	}
	t, err := api.engine.MarkDelivered(id)
	if err != nil {
		api.respondError(w, http.StatusNotFound, err)
		return
	}
	api.respond(w, http.StatusOK, APIResponse{Success: true, Data: t})
}

// handleLinks mints the tracking URLs the delivery collaborator embeds
// into the simulated phishing email. Minting is side-effect-free, so
// calling this twice for the same target is harmless.
func (api *InternalAPI) handleLinks(w http.ResponseWriter, req *http.Request) {
	id, ok := api.pathId(w, req)
	if !ok {
		return
	}

	target, err := api.db.GetTarget(id)
	if err != nil {
		api.respondError(w, http.StatusNotFound, err)
		return
	}

	now := time.Now()
	links := &TrackingLinks{TargetId: target.Id}
	for _, p := range []Purpose{PurposeOpen, PurposeClick, PurposeSubmit} {
		token, err := api.codec.Mint(target.CampaignId, target.Id, p, now)
		if err != nil {
			api.respondError(w, http.StatusInternalServerError, err)
			return
		}
		switch p {
		case PurposeOpen:
			links.OpenURL = api.gateway.TrackURL(token, p)
		case PurposeClick:
			links.ClickURL = api.gateway.TrackURL(token, p)
		case PurposeSubmit:
			links.SubmitURL = api.gateway.TrackURL(token, p)
			links.ReportURL = api.gateway.ReportURL(token)
		}
	}
	api.respond(w, http.StatusOK, APIResponse{Success: true, Data: links})
}

func (api *InternalAPI) handleTrainingComplete(w http.ResponseWriter, req *http.Request) {
	id, ok := api.pathId(w, req)
	if !ok {
		return
	}
	a, err := api.db.CompleteTraining(id)
	if err != nil {
		api.respondError(w, http.StatusNotFound, err)
		return
	}
	log.Info("training assignment [%d] completed by target %d", a.Id, a.TargetId)
	api.respond(w, http.StatusOK, APIResponse{Success: true, Data: a})
}

func (api *InternalAPI) handleKeyRotate(w http.ResponseWriter, req *http.Request) {
	k := api.cfg.AddSigningKey()
	if err := api.codec.AddKey(k.Version, []byte(k.Secret)); err != nil {
		api.respondError(w, http.StatusInternalServerError, err)
		return
	}
	api.respond(w, http.StatusOK, APIResponse{Success: true, Data: map[string]int{"active_version": k.Version}})
}

func (api *InternalAPI) handleNotFound(w http.ResponseWriter, req *http.Request) {
	api.respondError(w, http.StatusNotFound, fmt.Errorf("unknown endpoint: %s", req.URL.Path))
}

func (api *InternalAPI) pathId(w http.ResponseWriter, req *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(req)["id"])
	if err != nil {
		api.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return 0, false
	}
	return id, true
}

func (api *InternalAPI) respond(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func (api *InternalAPI) respondError(w http.ResponseWriter, status int, err error) {
	api.respond(w, status, APIResponse{Success: false, Error: err.Error()})
}

func (api *InternalAPI) Router() http.Handler {
	return api.router
}

// Start starts the internal API server, bound to localhost only.
func (api *InternalAPI) Start() error {
	api.mtx.Lock()
	defer api.mtx.Unlock()

	if api.running {
		return fmt.Errorf("internal API server already running")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", api.port)
	api.server = &http.Server{
		Addr:         addr,
		Handler:      api.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind internal API to %s: %v", addr, err)
	}

	go func() {
		if err := api.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("internal API: %v", err)
		}
	}()

	api.running = true
	log.Important("internal API started on http://%s (localhost only)", addr)
	return nil
}

func (api *InternalAPI) Stop() {
	api.mtx.Lock()
	defer api.mtx.Unlock()

	if api.server != nil && api.running {
		api.server.Close()
		api.running = false
		log.Info("internal API stopped")
	}
}
