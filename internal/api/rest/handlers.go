package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/davidleathers/outreach-analytics-backend/internal/domain/analytics"
	apperrors "github.com/davidleathers/outreach-analytics-backend/internal/domain/errors"
	analyticssvc "github.com/davidleathers/outreach-analytics-backend/internal/service/analytics"
)

const maxBodyBytes = 1 << 20

// additionalPrefix marks query parameters forwarded as additional filters
const additionalPrefix = "filter."

// Services are the analytics services exposed over HTTP
type Services struct {
	Coordinator *analyticssvc.Coordinator
	Campaigns   *analyticssvc.CampaignService
	Domains     *analyticssvc.SendingDomainService
	Mailboxes   *analyticssvc.MailboxService
	Billing     *analyticssvc.BillingService
}

// Handler serves the analytics API
type Handler struct {
	svc    Services
	logger *zap.Logger
}

func NewHandler(svc Services, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK[T any](w http.ResponseWriter, data T) {
	writeJSON(w, http.StatusOK, analytics.Ok(data))
}

func writeFailure(w http.ResponseWriter, status int, message, code, errType string) {
	writeJSON(w, status, analytics.Fail[struct{}](message, code, errType))
}

// writeError renders err as a failed ActionResult with the status of its type
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.GetStatusCode(err)
	message := "An internal error occurred"

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Type != apperrors.ErrorTypeInternal {
		message = appErr.Message
	}

	if status >= 500 {
		h.logger.Error("analytics request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err))
	}

	if apperrors.IsType(err, apperrors.ErrorTypeRateLimited) {
		w.Header().Set("Retry-After", "1")
	}
	writeFailure(w, status, message, apperrors.CodeOf(err), string(apperrors.TypeOf(err)))
}

// scope forces the caller's company onto the filters. Without authentication
// the client-supplied company is kept.
func scope(r *http.Request, f *analytics.Filters) {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		f.CompanyID = p.CompanyID
	}
}

func splitIDs(params ...[]string) []string {
	var ids []string
	for _, values := range params {
		for _, v := range values {
			for _, id := range strings.Split(v, ",") {
				if id = strings.TrimSpace(id); id != "" {
					ids = append(ids, id)
				}
			}
		}
	}
	return ids
}

// filtersFromQuery reads start, end, ids, company and filter.* parameters
func filtersFromQuery(q url.Values) (analytics.Filters, error) {
	var f analytics.Filters

	start, err := analytics.ParseTime(q.Get("start"))
	if err != nil {
		return f, err
	}
	end, err := analytics.ParseEndTime(q.Get("end"))
	if err != nil {
		return f, err
	}
	if start.IsZero() != end.IsZero() {
		return f, apperrors.NewValidationError("INVALID_TIME_RANGE", "start and end must be given together")
	}
	f.DateRange = analytics.DateRange{Start: start, End: end}

	f.EntityIDs = splitIDs(q["ids"], q["id"])
	f.CompanyID = strings.TrimSpace(q.Get("company"))

	for key, values := range q {
		if name, ok := strings.CutPrefix(key, additionalPrefix); ok && name != "" && len(values) > 0 {
			if f.Additional == nil {
				f.Additional = make(map[string]string)
			}
			f.Additional[name] = values[0]
		}
	}
	return f, nil
}

func (h *Handler) requestFilters(r *http.Request) (analytics.Filters, error) {
	f, err := filtersFromQuery(r.URL.Query())
	if err != nil {
		return f, err
	}
	scope(r, &f)
	return f, nil
}

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	f, err := h.requestFilters(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	overview, err := h.svc.Coordinator.GetOverviewMetrics(r.Context(), &f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, overview)
}

func (h *Handler) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	f, err := h.requestFilters(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.svc.Campaigns.GetCampaignPerformance(r.Context(), f.EntityIDs, &f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, result)
}

func (h *Handler) handleCampaignTimeSeries(w http.ResponseWriter, r *http.Request) {
	f, err := h.requestFilters(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	granularity, err := analytics.ParseGranularity(r.URL.Query().Get("granularity"))
	if err != nil {
		h.writeError(w, r, apperrors.NewValidationError("INVALID_GRANULARITY", err.Error()))
		return
	}

	points, err := h.svc.Campaigns.GetCampaignTimeSeries(r.Context(), f.EntityIDs, &f, granularity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, points)
}

func (h *Handler) handleDomains(w http.ResponseWriter, r *http.Request) {
	f, err := h.requestFilters(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.svc.Domains.GetDomainPerformance(r.Context(), f.EntityIDs, &f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, result)
}

func (h *Handler) handleMailboxes(w http.ResponseWriter, r *http.Request) {
	f, err := h.requestFilters(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.svc.Mailboxes.GetMailboxPerformance(r.Context(), f.EntityIDs, &f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, result)
}

func (h *Handler) handleBillingUsage(w http.ResponseWriter, r *http.Request) {
	f, err := h.requestFilters(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	usage, err := h.svc.Billing.GetUsage(r.Context(), &f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, usage)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.NewValidationError("PAYLOAD_TOO_LARGE", "request body too large")
		}
		return nil, apperrors.NewValidationError("INVALID_BODY", "unable to read request body").WithCause(err)
	}
	return body, nil
}

// handleQuery accepts any known filter payload shape for one domain
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	domain, err := analytics.ParseDomain(r.PathValue("domain"))
	if err != nil {
		h.writeError(w, r, apperrors.NewValidationError("UNKNOWN_DOMAIN", err.Error()))
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f, err := analytics.DecodeFilters(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	scope(r, &f)

	ctx := r.Context()
	switch domain {
	case analytics.DomainCampaigns:
		result, err := h.svc.Campaigns.GetCampaignPerformance(ctx, f.EntityIDs, &f)
		h.respond(w, r, result, err)
	case analytics.DomainDomains:
		result, err := h.svc.Domains.GetDomainPerformance(ctx, f.EntityIDs, &f)
		h.respond(w, r, result, err)
	case analytics.DomainMailboxes:
		result, err := h.svc.Mailboxes.GetMailboxPerformance(ctx, f.EntityIDs, &f)
		h.respond(w, r, result, err)
	case analytics.DomainBilling:
		result, err := h.svc.Billing.GetUsage(ctx, &f)
		h.respond(w, r, result, err)
	}
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, data interface{}, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOK(w, data)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.svc.Coordinator.HealthCheck(r.Context()))
}

func (h *Handler) handleResetHealth(w http.ResponseWriter, r *http.Request) {
	h.svc.Coordinator.ResetHealth()
	writeOK(w, h.svc.Coordinator.DomainHealth())
}

type invalidateRequest struct {
	Domain    string   `json:"domain"`
	EntityIDs []string `json:"entityIds"`
}

type invalidateResponse struct {
	Deleted int64 `json:"deleted"`
}

func (h *Handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req invalidateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, r, apperrors.NewValidationError("INVALID_BODY", "malformed invalidation request").WithCause(err))
		return
	}
	domain, err := analytics.ParseDomain(req.Domain)
	if err != nil {
		h.writeError(w, r, apperrors.NewValidationError("UNKNOWN_DOMAIN", err.Error()))
		return
	}

	// Keys carry no tenant, so a domain-wide drop reaches every tenant's entries
	ids := splitIDs(req.EntityIDs)
	if p, ok := PrincipalFromContext(r.Context()); ok && len(ids) == 0 && !p.IsAdmin() {
		writeFailure(w, http.StatusForbidden, "Invalidating a whole domain requires admin", "FORBIDDEN", "unauthorized")
		return
	}

	deleted, err := h.svc.Coordinator.InvalidateCache(r.Context(), domain, ids)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("analytics cache invalidated",
		zap.String("domain", string(domain)),
		zap.Int("entities", len(ids)),
		zap.Int64("deleted", deleted))
	writeOK(w, invalidateResponse{Deleted: deleted})
}

func (h *Handler) handleInvalidateAll(w http.ResponseWriter, r *http.Request) {
	writeOK(w, invalidateResponse{Deleted: h.svc.Coordinator.InvalidateAll(r.Context())})
}

func (h *Handler) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.svc.Coordinator.CacheStats(r.Context()))
}
