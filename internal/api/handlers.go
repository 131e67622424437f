package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nmslite/clapictl/internal/audit"
	"github.com/nmslite/clapictl/internal/auth"
	"github.com/nmslite/clapictl/internal/clapi"
	"github.com/nmslite/clapictl/internal/snmpcheck"
)

// CLAPI is the set of operations exposed over HTTP
type CLAPI interface {
	ApplyTemplate(ctx context.Context, hostname string) error
	AddTemplate(ctx context.Context, hostname, template string) error
	SetSNMP(ctx context.Context, hostname, community string) error
	ConfigGenerate(ctx context.Context, poller string) error
	ConfigMove(ctx context.Context, poller string) error
	ConfigReload(ctx context.Context, poller string) error
	ConfigApply(ctx context.Context, poller string) error
	SetHostgroups(ctx context.Context, hostname, hostgroups string) error
	ExcludeServices(ctx context.Context, hostname string, services []string) error
	CreateHost(ctx context.Context, host clapi.Host) error
}

// Prober checks an SNMP community against a device
type Prober interface {
	Probe(ctx context.Context, target, community string) (*snmpcheck.Result, error)
}

// InvocationLister reads the audit log
type InvocationLister interface {
	List(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Authenticator issues tokens for the login endpoint
type Authenticator interface {
	Login(username, password string) (*auth.LoginResponse, error)
}

// Handler serves the gateway endpoints. Mutating calls are serialized so
// that two requests never interleave their CLAPI invocations.
type Handler struct {
	clapi  CLAPI
	prober Prober
	audit  InvocationLister
	auth   Authenticator
	logger *slog.Logger

	mu sync.Mutex
}

type templateRequest struct {
	Template string `json:"template" validate:"required,excludes=;"`
}

type snmpRequest struct {
	Community     string `json:"community" validate:"required,excludes=;"`
	VerifyAddress string `json:"verify_address,omitempty" validate:"omitempty,ip|hostname_rfc1123"`
}

type hostgroupsRequest struct {
	Hostgroups string `json:"hostgroups" validate:"required,excludes=;"`
}

type excludeServicesRequest struct {
	Services []string `json:"services" validate:"min=1,dive,required,excludes=;"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Health handles GET /health (liveness probe)
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	})
}

// Login handles POST /api/v1/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[auth.LoginRequest](w, r)
	if !ok {
		return
	}

	response, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		sendError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials", nil)
		return
	}

	sendJSON(w, http.StatusOK, response)
}

// fieldParam reads a URL parameter that ends up in a CLAPI payload
func fieldParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil {
		sendError(w, r, http.StatusBadRequest, "INVALID_PARAM", "Invalid "+name, nil)
		return "", false
	}
	if err := clapi.ValidateField(name, value); err != nil {
		sendValidationError(w, r, err)
		return "", false
	}
	return value, true
}

func hostnameParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	return fieldParam(w, r, "hostname")
}

// CreateHost handles POST /api/v1/hosts
func (h *Handler) CreateHost(w http.ResponseWriter, r *http.Request) {
	host, ok := decodeJSON[clapi.Host](w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if handleCLAPIError(w, r, h.clapi.CreateHost(r.Context(), host)) {
		return
	}
	sendOK(w)
}

// AddTemplate handles POST /api/v1/hosts/{hostname}/templates
func (h *Handler) AddTemplate(w http.ResponseWriter, r *http.Request) {
	hostname, ok := hostnameParam(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[templateRequest](w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if handleCLAPIError(w, r, h.clapi.AddTemplate(r.Context(), hostname, req.Template)) {
		return
	}
	sendOK(w)
}

// ApplyTemplate handles POST /api/v1/hosts/{hostname}/templates/apply
func (h *Handler) ApplyTemplate(w http.ResponseWriter, r *http.Request) {
	hostname, ok := hostnameParam(w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if handleCLAPIError(w, r, h.clapi.ApplyTemplate(r.Context(), hostname)) {
		return
	}
	sendOK(w)
}

// SetSNMP handles PUT /api/v1/hosts/{hostname}/snmp
func (h *Handler) SetSNMP(w http.ResponseWriter, r *http.Request) {
	hostname, ok := hostnameParam(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[snmpRequest](w, r)
	if !ok {
		return
	}

	if req.VerifyAddress != "" {
		if h.prober == nil {
			sendError(w, r, http.StatusBadRequest, "VERIFY_UNAVAILABLE", "SNMP verification is not configured", nil)
			return
		}
		res, err := h.prober.Probe(r.Context(), req.VerifyAddress, req.Community)
		if err != nil {
			sendError(w, r, http.StatusUnprocessableEntity, "SNMP_VERIFY_FAILED", "Device did not answer with this community", err.Error())
			return
		}
		h.logger.Info("SNMP community verified",
			"hostname", hostname,
			"address", req.VerifyAddress,
			"sys_descr", res.SysDescr,
		)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if handleCLAPIError(w, r, h.clapi.SetSNMP(r.Context(), hostname, req.Community)) {
		return
	}
	sendOK(w)
}

// SetHostgroups handles PUT /api/v1/hosts/{hostname}/hostgroups
func (h *Handler) SetHostgroups(w http.ResponseWriter, r *http.Request) {
	hostname, ok := hostnameParam(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[hostgroupsRequest](w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if handleCLAPIError(w, r, h.clapi.SetHostgroups(r.Context(), hostname, req.Hostgroups)) {
		return
	}
	sendOK(w)
}

// ExcludeServices handles POST /api/v1/hosts/{hostname}/services/exclude
func (h *Handler) ExcludeServices(w http.ResponseWriter, r *http.Request) {
	hostname, ok := hostnameParam(w, r)
	if !ok {
		return
	}
	req, ok := decodeJSON[excludeServicesRequest](w, r)
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if handleCLAPIError(w, r, h.clapi.ExcludeServices(r.Context(), hostname, req.Services)) {
		return
	}
	sendOK(w)
}

// PollerStep handles POST /api/v1/pollers/{poller}/{step}
func (h *Handler) PollerStep(w http.ResponseWriter, r *http.Request) {
	poller, ok := fieldParam(w, r, "poller")
	if !ok {
		return
	}

	var op func(context.Context, string) error
	switch step := chi.URLParam(r, "step"); step {
	case "generate":
		op = h.clapi.ConfigGenerate
	case "move":
		op = h.clapi.ConfigMove
	case "reload":
		op = h.clapi.ConfigReload
	case "apply":
		op = h.clapi.ConfigApply
	default:
		sendError(w, r, http.StatusNotFound, "UNKNOWN_STEP", "Unknown poller step "+strconv.Quote(step), nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if handleCLAPIError(w, r, op(r.Context(), poller)) {
		return
	}
	sendOK(w)
}

// ListInvocations handles GET /api/v1/invocations
func (h *Handler) ListInvocations(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		sendError(w, r, http.StatusNotFound, "AUDIT_DISABLED", "Invocation audit is not enabled", nil)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			sendError(w, r, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	entries, err := h.audit.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list invocations", "error", err)
		sendError(w, r, http.StatusInternalServerError, "DB_ERROR", "Database error", nil)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"data":  entries,
		"total": len(entries),
	})
}
