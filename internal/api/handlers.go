package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"domainwatch/internal/checker"
	"domainwatch/internal/models"
	"domainwatch/internal/notify"
	"domainwatch/internal/storage"
	"domainwatch/internal/urlutil"
)

const maxBodyBytes = 1 << 20

// Store is the part of storage.Storer the handlers read and write.
type Store interface {
	storage.EndpointStore
	ListChecks(ctx context.Context, params storage.ListChecksParams) ([]models.Check, error)
	CreateWebhook(ctx context.Context, webhook *models.Webhook) (*models.Webhook, error)
	GetWebhook(ctx context.Context, id string) (*models.Webhook, error)
	ListDeliveryAttempts(ctx context.Context, webhookID string, limit int) ([]models.DeliveryAttempt, error)
}

// UptimeReader serves the aggregated views.
type UptimeReader interface {
	AllStats(ctx context.Context, heartbeats int) ([]models.EndpointUptimeState, error)
	AllBucketedHeartbeats(ctx context.Context, buckets int, lookback time.Duration) ([]models.EndpointBuckets, error)
}

// EndpointChecker runs a manual probe of one endpoint.
type EndpointChecker interface {
	CheckEndpoint(ctx context.Context, endpoint models.Endpoint) (*models.Check, error)
}

// SchedulerControl drives the monitoring loop.
type SchedulerControl interface {
	RunNow(ctx context.Context) (models.PassSummary, error)
	Restart(ctx context.Context) error
	Status(ctx context.Context) (models.SchedulerStatus, error)
}

// Deps are the collaborators of Handlers.
type Deps struct {
	Store     Store
	Uptime    UptimeReader
	Checker   EndpointChecker
	Scheduler SchedulerControl
	Guard     notify.TargetGuard
	Log       *zap.Logger
}

// Handlers holds dependencies for the API handlers.
type Handlers struct {
	store     Store
	uptime    UptimeReader
	checker   EndpointChecker
	scheduler SchedulerControl
	guard     notify.TargetGuard
	log       *zap.Logger
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		store:     d.Store,
		uptime:    d.Uptime,
		checker:   d.Checker,
		scheduler: d.Scheduler,
		guard:     d.Guard,
		log:       d.Log,
	}
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func items[T any](v []T) listResponse[T] {
	if v == nil {
		v = []T{}
	}
	return listResponse[T]{Items: v}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handlers) internalError(w http.ResponseWriter, msg string, err error) {
	h.log.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

// intParam reads a bounded integer query parameter. Missing, malformed and
// out-of-range values all yield the default.
func intParam(r *http.Request, name string, def, minimum, maximum int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < minimum || v > maximum {
		return def
	}
	return v
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// endpoint loads the {id} path endpoint, answering 404 or 500 itself.
func (h *Handlers) endpoint(w http.ResponseWriter, r *http.Request) (*models.Endpoint, bool) {
	e, err := h.store.GetEndpoint(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "domain not found")
		return nil, false
	}
	if err != nil {
		h.internalError(w, "get endpoint error", err)
		return nil, false
	}
	return e, true
}

// Healthz is a simple health check endpoint.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// UptimeStats returns the uptime state of every endpoint.
func (h *Handlers) UptimeStats(w http.ResponseWriter, r *http.Request) {
	n := intParam(r, "heartbeats", 30, 1, 90)
	stats, err := h.uptime.AllStats(r.Context(), n)
	if err != nil {
		h.internalError(w, "uptime stats error", err)
		return
	}
	writeJSON(w, http.StatusOK, items(stats))
}

// Heartbeats returns the bucketed history of every endpoint.
func (h *Handlers) Heartbeats(w http.ResponseWriter, r *http.Request) {
	buckets := intParam(r, "buckets", 24, 1, 90)
	hours := intParam(r, "hours", 24, 1, 168)
	series, err := h.uptime.AllBucketedHeartbeats(r.Context(), buckets, time.Duration(hours)*time.Hour)
	if err != nil {
		h.internalError(w, "heartbeats error", err)
		return
	}
	writeJSON(w, http.StatusOK, items(series))
}

// History lists the raw checks of one endpoint, newest first.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	e, ok := h.endpoint(w, r)
	if !ok {
		return
	}
	params := storage.ListChecksParams{
		EndpointID: e.ID,
		Limit:      intParam(r, "limit", 100, 1, 1000),
	}
	if s := r.URL.Query().Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			utc := t.UTC()
			params.Since = &utc
		}
	}
	checks, err := h.store.ListChecks(r.Context(), params)
	if err != nil {
		h.internalError(w, "list checks error", err)
		return
	}
	writeJSON(w, http.StatusOK, items(checks))
}

// CheckDomain probes one endpoint right away.
func (h *Handlers) CheckDomain(w http.ResponseWriter, r *http.Request) {
	e, ok := h.endpoint(w, r)
	if !ok {
		return
	}
	check, err := h.checker.CheckEndpoint(r.Context(), *e)
	if errors.Is(err, checker.ErrCheckInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.internalError(w, "manual check error", err)
		return
	}
	writeJSON(w, http.StatusCreated, check)
}

// CheckAll runs a forced pass over every endpoint.
func (h *Handlers) CheckAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scheduler.RunNow(r.Context())
	if err != nil {
		h.internalError(w, "forced pass error", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Restart re-arms the scheduler with the current settings.
func (h *Handlers) Restart(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Restart(r.Context()); err != nil {
		h.internalError(w, "scheduler restart error", err)
		return
	}
	h.SchedulerStatus(w, r)
}

// SchedulerStatus reports whether monitoring is armed.
func (h *Handlers) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.scheduler.Status(r.Context())
	if err != nil {
		h.internalError(w, "scheduler status error", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// CreateDomain registers an endpoint. Registering a known hostname again
// returns the existing row with 200.
func (h *Handlers) CreateDomain(w http.ResponseWriter, r *http.Request) {
	var reqBody struct {
		Hostname string `json:"hostname"`
	}
	if !decode(w, r, &reqBody) {
		return
	}
	host, err := urlutil.NormalizeHostname(reqBody.Hostname)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.store.CreateEndpoint(r.Context(), &models.Endpoint{
		Hostname:  host,
		CreatedAt: time.Now().UTC(),
	})
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		writeJSON(w, http.StatusOK, created)
	case err != nil:
		h.internalError(w, "create endpoint error", err)
	default:
		writeJSON(w, http.StatusCreated, created)
	}
}

// ListDomains lists every registered endpoint.
func (h *Handlers) ListDomains(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.store.ListEndpoints(r.Context())
	if err != nil {
		h.internalError(w, "list endpoints error", err)
		return
	}
	writeJSON(w, http.StatusOK, items(endpoints))
}

// createdWebhook is the only response that carries the signing secret.
type createdWebhook struct {
	*models.Webhook
	Secret string `json:"secret"`
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// CreateWebhook validates and stores a subscription.
func (h *Handlers) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	var reqBody struct {
		URL     string   `json:"url"`
		Secret  string   `json:"secret"`
		Events  []string `json:"events"`
		Enabled *bool    `json:"enabled"`
	}
	if !decode(w, r, &reqBody) {
		return
	}

	target, err := urlutil.ParseWebhookURL(reqBody.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.guard.Check(r.Context(), target); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(reqBody.Events) == 0 {
		writeError(w, http.StatusBadRequest, "at least one event type is required")
		return
	}
	for _, ev := range reqBody.Events {
		if !notify.ValidEventType(ev) {
			writeError(w, http.StatusBadRequest, "unknown event type "+strconv.Quote(ev))
			return
		}
	}

	secret := reqBody.Secret
	if secret == "" {
		if secret, err = generateSecret(); err != nil {
			h.internalError(w, "generate secret error", err)
			return
		}
	}
	enabled := true
	if reqBody.Enabled != nil {
		enabled = *reqBody.Enabled
	}

	created, err := h.store.CreateWebhook(r.Context(), &models.Webhook{
		URL:       target.String(),
		Secret:    secret,
		Events:    reqBody.Events,
		Enabled:   enabled,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		h.internalError(w, "create webhook error", err)
		return
	}
	h.log.Info("webhook created", zap.String("webhook_id", created.ID), zap.String("url", redact(target)))
	writeJSON(w, http.StatusCreated, createdWebhook{Webhook: created, Secret: created.Secret})
}

func redact(u *url.URL) string {
	c := *u
	c.User = nil
	c.RawQuery = ""
	return c.String()
}

// ListDeliveries lists the delivery log of one subscription, newest first.
func (h *Handlers) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	wh, err := h.store.GetWebhook(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}
	if err != nil {
		h.internalError(w, "get webhook error", err)
		return
	}
	attempts, err := h.store.ListDeliveryAttempts(r.Context(), wh.ID, intParam(r, "limit", 100, 1, 1000))
	if err != nil {
		h.internalError(w, "list deliveries error", err)
		return
	}
	writeJSON(w, http.StatusOK, items(attempts))
}
