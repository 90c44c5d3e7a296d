package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"veridia.org/internal/auth"
	"veridia.org/internal/catalog"
	"veridia.org/internal/compliance"
	"veridia.org/internal/obs"
	"veridia.org/internal/stream"
)

const serviceName = "veridia-api"

// ReadyProbe checks that the backing store answers.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the compliance graph.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	svc      compliance.Service
	cat      *catalog.Catalog
	verifier *auth.Verifier
	events   *stream.Stream

	rateBurst  int
	ratePerSec int
}

// Config carries the collaborators the API needs.
type Config struct {
	Ready    ReadyProbe
	Version  string
	Service  compliance.Service
	Catalog  *catalog.Catalog
	Verifier *auth.Verifier
	Events   *stream.Stream

	// Zero values fall back to the defaults below.
	RateBurst  int
	RatePerSec int
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: cfg.Ready,
		version:    cfg.Version,
		svc:        cfg.Service,
		cat:        cfg.Catalog,
		verifier:   cfg.Verifier,
		events:     cfg.Events,
		rateBurst:  cfg.RateBurst,
		ratePerSec: cfg.RatePerSec,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 50
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 25
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// compliance graph
	a.mux.HandleFunc("/v1/frameworks", a.handleFrameworkTemplates)
	a.mux.HandleFunc("/v1/adoptions", a.handleAdoptionsCollection)
	a.mux.HandleFunc("/v1/adoptions/", a.handleAdoptionResource)
	a.mux.HandleFunc("/v1/requirements/", a.handleRequirementResource)
	a.mux.HandleFunc("/v1/controls/", a.handleControlResource)
	a.mux.HandleFunc("/v1/artifacts", a.handleArtifactsCollection)
	a.mux.HandleFunc("/v1/artifacts/", a.handleArtifactResource)
	a.mux.HandleFunc("/v1/org/stats", a.handleOrgStats)
	a.mux.HandleFunc("/v1/org/repair", a.handleOrgRepair)
	a.mux.HandleFunc("/v1/events", a.handleEvents)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withOrg(a.mux)
	h = RequestID(h)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- Infrastructure handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, v any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// writeServiceError maps domain errors onto HTTP responses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, compliance.ErrAlreadyAdopted):
		writeError(w, http.StatusConflict, "framework already adopted")
	case errors.Is(err, compliance.ErrTemplateNotFound):
		writeError(w, http.StatusNotFound, "unknown template")
	case errors.Is(err, compliance.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, compliance.ErrConflict):
		writeError(w, http.StatusConflict, "resource conflict")
	case errors.Is(err, compliance.ErrInvalidInput), errors.Is(err, compliance.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, compliance.ErrTransactionFailed):
		writeError(w, http.StatusServiceUnavailable, "could not complete setup, try again")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
