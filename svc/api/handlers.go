package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
	"github.com/dmitrymomot/clinicbilling/pkg/logger"
)

// handleWebhook acknowledges every verified delivery with 200, including
// ignored and dropped events. Only processor failures answer 5xx so the
// processor redelivers.
func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, a.log, ErrBodyTooLarge)
			return
		}
		writeError(w, r, a.log, errors.Join(billing.ErrMalformedEvent, err))
		return
	}

	out, err := a.webhooks.HandleWebhook(r.Context(), payload, r.Header.Get(billing.SignatureHeader))
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}

	if out != nil && len(out.Intents) > 0 && a.notifier != nil {
		ctx := logger.WithEventID(r.Context(), out.EventID)
		a.notifier.Notify(ctx, out.Intents)
	}
	writeData(w, map[string]bool{"received": true})
}

func (a *API) handlePlan(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	summary, err := a.gate.UsageSummary(r.Context(), id.TenantID)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	writeData(w, summary)
}

type changePlanRequest struct {
	Plan string `json:"plan"`
}

func (a *API) handleChangePlan(w http.ResponseWriter, r *http.Request) {
	var req changePlanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, a.log, err)
		return
	}
	plan := strings.TrimSpace(req.Plan)
	if plan == "" {
		writeError(w, r, a.log, fmt.Errorf("%w: plan is required", ErrInvalidBody))
		return
	}

	id, _ := IdentityFrom(r.Context())
	res, err := a.changer.ChangePlan(r.Context(), id.TenantID, billing.PlanTier(plan))
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	a.log.InfoContext(r.Context(), "plan change requested",
		slog.String("target", plan),
		slog.String("mode", string(res.Mode)),
	)
	writeData(w, res)
}

func (a *API) handlePortalSession(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	link, err := a.changer.PortalSession(r.Context(), id.TenantID)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	writeData(w, link)
}

type quotaCheckRequest struct {
	Resource string `json:"resource"`
	Feature  string `json:"feature,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Count    int64  `json:"count,omitempty"`
}

// handleQuotaCheck answers 200 with the decision whether or not it allows the
// action, so callers can render the limits without parsing errors.
func (a *API) handleQuotaCheck(w http.ResponseWriter, r *http.Request) {
	var req quotaCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, a.log, err)
		return
	}
	if req.Size < 0 || req.Count < 0 {
		writeError(w, r, a.log, fmt.Errorf("%w: size and count must not be negative", ErrInvalidBody))
		return
	}

	id, _ := IdentityFrom(r.Context())
	var (
		d   billing.Decision
		err error
	)
	switch res := billing.Resource(strings.TrimSpace(req.Resource)); {
	case req.Feature != "":
		d, err = a.gate.CheckFeature(r.Context(), id.TenantID, billing.Feature(req.Feature))
	case res == billing.ResourcePatients:
		n := req.Count
		if n == 0 {
			n = 1
		}
		d, err = a.gate.CheckQuota(r.Context(), id.TenantID, res, n)
	default:
		d, err = a.gate.CheckQuota(r.Context(), id.TenantID, res, req.Size)
	}
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	writeData(w, d)
}

const (
	defaultEventsLimit = 20
	maxEventsLimit     = 100
)

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, a.log, fmt.Errorf("%w: limit must be a positive integer", ErrInvalidBody))
			return
		}
		limit = min(n, maxEventsLimit)
	}

	id, _ := IdentityFrom(r.Context())
	entries, err := a.events.Recent(r.Context(), id.TenantID, limit)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	if entries == nil {
		entries = []billing.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, Envelope{Data: entries, Meta: map[string]any{"limit": limit}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ErrBodyTooLarge
		}
		return fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return nil
}
