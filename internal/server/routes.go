package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/hellomira/aviationstack-gateway/internal/breaker"
	"github.com/hellomira/aviationstack-gateway/internal/gatewayerr"
	"github.com/hellomira/aviationstack-gateway/internal/metrics"
	"github.com/hellomira/aviationstack-gateway/internal/params"
	"github.com/hellomira/aviationstack-gateway/internal/quota"
	"github.com/hellomira/aviationstack-gateway/internal/store"
	"github.com/hellomira/aviationstack-gateway/internal/upstream"
)

var dateFormat = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

const defaultLimit = 100
const maxLimit = 100

// Gateway wires the composed middleware stack into HTTP handlers.
type Gateway struct {
	Caller  *upstream.Caller
	Ledger  *quota.Ledger
	Breaker *breaker.Breaker
	Metrics *metrics.Metrics
	Store   *store.Store
	Logger  *slog.Logger
}

// Mount registers every route the gateway serves.
func (g *Gateway) Mount(r chi.Router) {
	r.Get("/", g.handleRoot)
	r.Get("/airports", g.handleAirports)
	r.Get("/flights", g.handleFlights)
	r.Get("/health", g.handleHealth)
	r.Get("/stats", g.handleStats)
	r.Get("/usage", g.handleUsage)
	r.Handle("/metrics", g.Metrics.Handler())
}

func (g *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "aviationstack-gateway"})
}

func (g *Gateway) handleAirports(w http.ResponseWriter, r *http.Request) {
	values, err := validateAirportParams(r.URL.Query())
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.proxy(w, r, "airports", "/airports", values)
}

func (g *Gateway) handleFlights(w http.ResponseWriter, r *http.Request) {
	values, err := validateFlightParams(r.URL.Query())
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.proxy(w, r, "flights", "/flights", values)
}

// proxy hands the validated query to the composed caller, writes the
// upstream payload through on success, and records the quota snapshot
// for the response-header middleware.
func (g *Gateway) proxy(w http.ResponseWriter, r *http.Request, endpoint, path string, values url.Values) {
	ctx := r.Context()

	payload, err := g.Caller.Call(ctx, endpoint, path, values)
	AddLogField(ctx, "cache_key", params.CacheKey(endpoint, values))
	AddLogField(ctx, "breaker_state", g.Breaker.Stats().State.String())
	if err != nil {
		AddError(ctx, err)
		g.writeError(w, r, err)
		return
	}

	if endpoint == "flights" {
		g.recordFlightHistory(ctx, payload)
	}

	if snap, snapErr := g.Ledger.Usage(ctx); snapErr == nil {
		*r = *r.WithContext(SetQuotaInfo(ctx, &QuotaInfo{
			Limit:     snap.Limit,
			Remaining: snap.Remaining,
			ResetDate: snap.ResetDate.Format(time.RFC3339),
		}))
		g.Metrics.SetRateLimit(snap.Used, snap.Remaining)
		AddLogField(ctx, "quota_used", strconv.FormatInt(snap.Used, 10))
		AddLogField(ctx, "quota_remaining", strconv.FormatInt(snap.Remaining, 10))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// recordFlightHistory upserts each flight record in an aviationstack
// /flights response into the history collection, keyed by
// (flight_iata, flight_date). Records missing either field are skipped.
func (g *Gateway) recordFlightHistory(ctx context.Context, payload []byte) {
	if g.Store == nil {
		return
	}
	var envelope struct {
		Data []bson.M `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return
	}
	for _, rec := range envelope.Data {
		flightDate, _ := rec["flight_date"].(string)
		flight, _ := rec["flight"].(map[string]any)
		if flight == nil || flightDate == "" {
			continue
		}
		flightIATA, _ := flight["iata"].(string)
		if flightIATA == "" {
			continue
		}
		if err := g.Store.HistoryUpsert(ctx, flightIATA, flightDate, rec); err != nil {
			g.Logger.Warn("flight history upsert failed", slog.String("flight_iata", flightIATA), slog.Any("error", err))
		}
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := g.Ledger.Usage(ctx)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	stats := g.Breaker.Stats()
	g.Metrics.SetRateLimit(snap.Used, snap.Remaining)
	g.Metrics.SetBreakerState(int(stats.State))

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"rate_limit": map[string]any{
			"month":     snap.Month,
			"used":      snap.Used,
			"limit":     snap.Limit,
			"remaining": snap.Remaining,
		},
		"cache":           true,
		"circuit_breaker": stats.State.String(),
	})
}

func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snap, err := g.Ledger.Usage(ctx)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	stats := g.Breaker.Stats()
	g.Metrics.SetRateLimit(snap.Used, snap.Remaining)
	g.Metrics.SetBreakerState(int(stats.State))

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"rate_limit": map[string]any{
			"month":      snap.Month,
			"used":       snap.Used,
			"limit":      snap.Limit,
			"remaining":  snap.Remaining,
			"percentage": snap.Percentage(),
			"reset_date": snap.ResetDate.Format(time.RFC3339),
		},
		"cache": map[string]any{
			"enabled": true,
		},
		"circuit_breaker": map[string]any{
			"state":             stats.State.String(),
			"consecutive_fails": stats.ConsecutiveFails,
			"probes_admitted":   stats.ProbesAdmitted,
			"probes_completed":  stats.ProbesCompleted,
		},
	})
}

func (g *Gateway) handleUsage(w http.ResponseWriter, r *http.Request) {
	snap, err := g.Ledger.Usage(r.Context())
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.Metrics.SetRateLimit(snap.Used, snap.Remaining)
	writeJSON(w, http.StatusOK, map[string]any{
		"month":      snap.Month,
		"used":       snap.Used,
		"limit":      snap.Limit,
		"remaining":  snap.Remaining,
		"percentage": snap.Percentage(),
		"reset_date": snap.ResetDate.Format(time.RFC3339),
	})
}

// writeError translates a *gatewayerr.Error to its HTTP representation.
// UpstreamClientError forwards the upstream's own body and status
// verbatim; every other kind gets the gateway's JSON error envelope.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ge, ok := gatewayerr.As(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal", "detail": err.Error()})
		return
	}

	if ge.Kind == gatewayerr.UpstreamClientError && ge.Body != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(ge.HTTPStatus())
		w.Write(ge.Body)
		return
	}

	body := map[string]string{"error": string(ge.Kind), "detail": ge.Detail}
	if ge.RetryAfter != "" {
		body["retry_after"] = ge.RetryAfter
	}
	writeJSON(w, ge.HTTPStatus(), body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// validateAirportParams applies /airports' structural validation:
// limit clamped to [1, 100], IATA codes uppercased.
func validateAirportParams(q url.Values) (url.Values, error) {
	out := url.Values{}
	if v := strings.TrimSpace(q.Get("iata_code")); v != "" {
		out.Set("iata_code", strings.ToUpper(v))
	}
	if v := strings.TrimSpace(q.Get("search")); v != "" {
		out.Set("search", v)
	}
	if v := strings.TrimSpace(q.Get("country_iso2")); v != "" {
		out.Set("country_iso2", strings.ToUpper(v))
	}
	limit, err := clampLimit(q.Get("limit"))
	if err != nil {
		return nil, err
	}
	out.Set("limit", strconv.Itoa(limit))
	return out, nil
}

// validateFlightParams applies /flights' structural validation:
// limit clamped, IATA codes uppercased, flight_date checked against
// YYYY-MM-DD.
func validateFlightParams(q url.Values) (url.Values, error) {
	out := url.Values{}
	for _, field := range []string{"flight_iata", "dep_iata", "arr_iata", "airline_iata"} {
		if v := strings.TrimSpace(q.Get(field)); v != "" {
			out.Set(field, strings.ToUpper(v))
		}
	}
	if v := strings.TrimSpace(q.Get("flight_status")); v != "" {
		out.Set("flight_status", strings.ToLower(v))
	}
	if v := strings.TrimSpace(q.Get("flight_date")); v != "" {
		if !dateFormat.MatchString(v) {
			return nil, gatewayerr.New(gatewayerr.ParameterValidation, "flight_date must be YYYY-MM-DD")
		}
		out.Set("flight_date", v)
	}
	limit, err := clampLimit(q.Get("limit"))
	if err != nil {
		return nil, err
	}
	out.Set("limit", strconv.Itoa(limit))
	return out, nil
}

func clampLimit(raw string) (int, error) {
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, gatewayerr.New(gatewayerr.ParameterValidation, "limit must be an integer")
	}
	if n < 1 {
		n = 1
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}
