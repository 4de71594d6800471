package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"passkit/analytics"
	"passkit/core"
	"passkit/engine"
	"passkit/pass"
	"passkit/rewards"
)

// UserView is the wire form of a user. Amounts are decimal strings so
// clients never lose precision.
type UserView struct {
	UserID   core.UserID      `json:"user_id"`
	PassID   string           `json:"pass_id"`
	Points   string           `json:"points"`
	Currency string           `json:"currency"`
	Tier     int              `json:"tier"`
	Pending  map[string][]int `json:"pending,omitempty"`
	Updated  time.Time        `json:"updated"`
}

func viewOf(u core.User) UserView {
	v := UserView{
		UserID:   u.ID,
		PassID:   u.PassID,
		Points:   core.FormatAmount(u.Points),
		Currency: core.FormatAmount(u.Currency),
		Tier:     u.Tier,
		Updated:  u.Updated,
	}
	if len(u.Pending) > 0 {
		v.Pending = make(map[string][]int, len(u.Pending))
		for passID, set := range u.Pending {
			tiers := make([]int, 0, len(set))
			for t := range set {
				tiers = append(tiers, t)
			}
			sort.Ints(tiers)
			v.Pending[passID] = tiers
		}
	}
	return v
}

type enrollRequest struct {
	PassID string `json:"pass_id" validate:"required,max=64"`
}

type balanceRequest struct {
	Op     string `json:"op" validate:"required,oneof=add remove set ADD REMOVE SET"`
	Amount string `json:"amount" validate:"required,max=128"`
}

type eventRequest struct {
	core.Event
	Type   core.EventType `json:"type" validate:"required"`
	UserID core.UserID    `json:"user_id" validate:"required"`
}

type claimResponse struct {
	Tier    int                  `json:"tier"`
	Rewards []rewards.Definition `json:"rewards"`
}

type leaderboardEntry struct {
	Rank   int         `json:"rank"`
	User   core.UserID `json:"user_id"`
	Tier   int         `json:"tier"`
	Points string      `json:"points"`
}

// healthCheck verifies storage answers; a missing probe user still counts as healthy.
func (a *api) healthCheck(w http.ResponseWriter, r *http.Request) {
	_, err := a.svc.GetUser(r.Context(), core.UserID("healthcheck_probe"))
	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{"storage": "ok"},
	}
	code := http.StatusOK
	if err != nil && !errors.Is(err, core.ErrUserNotFound) {
		code = http.StatusServiceUnavailable
		status["status"] = "unhealthy"
		status["checks"] = map[string]any{"storage": "failed"}
	}
	writeJSONStatus(w, code, status)
}

func (a *api) listPasses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"passes": a.svc.PassTypes()})
}

func (a *api) getUser(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	u, err := a.svc.GetUser(r.Context(), user)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, viewOf(u))
}

func (a *api) enroll(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	var req enrollRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	u, err := a.svc.Enroll(r.Context(), user, req.PassID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, viewOf(u))
}

func (a *api) getQuests(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	qs, err := a.svc.GetQuests(r.Context(), user)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	out := make([]core.QuestState, 0, len(qs))
	for _, st := range qs {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestID < out[j].QuestID })
	writeJSON(w, map[string]any{"quests": out})
}

func (a *api) addPoints(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	delta, err := strconv.ParseInt(r.URL.Query().Get("delta"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_delta", "delta must be an integer", nil)
		return
	}
	u, err := a.svc.AddPoints(r.Context(), user, delta)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, viewOf(u))
}

func (a *api) adjustBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	var req balanceRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	u, err := a.svc.AdjustBalance(r.Context(), user, req.Op, req.Amount)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, viewOf(u))
}

func (a *api) tierItem(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	tier, ok := tierParam(w, r)
	if !ok {
		return
	}
	passID := r.URL.Query().Get("pass")
	if passID == "" {
		u, err := a.svc.GetUser(r.Context(), user)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		passID = u.PassID
	}
	item, err := a.svc.TierItem(r.Context(), user, passID, tier)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, struct {
		Tier int `json:"tier"`
		pass.Item
	}{tier, item})
}

func (a *api) claimTier(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	tier, ok := tierParam(w, r)
	if !ok {
		return
	}
	defs, err := a.svc.ClaimTier(r.Context(), user, tier)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if defs == nil {
		defs = []rewards.Definition{}
	}
	writeJSON(w, claimResponse{Tier: tier, Rewards: defs})
}

// ingestEvent submits a host event to the bus, where quest handlers pick it
// up. Engine event types are refused; 202 means the event was queued.
func (a *api) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	user, err := core.NormalizeUserID(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
		return
	}
	ev := req.Event
	ev.Type = req.Type
	ev.UserID = user
	ev = ev.Ensure()
	if err := a.svc.Submit(r.Context(), ev); err != nil {
		if errors.Is(err, engine.ErrEngineEvent) {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
			return
		}
		writeError(w, http.StatusServiceUnavailable, "unavailable", "event not accepted, retry later", nil)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]any{"id": ev.ID})
}

func (a *api) placeholder(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	writeJSON(w, map[string]any{"name": name, "value": a.opts.Placeholders.Resolve(r.Context(), user, name)})
}

func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	n := 10
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "n must be between 1 and 1000", nil)
			return
		}
		n = v
	}
	passID := chi.URLParam(r, "pass")
	out := []leaderboardEntry{}
	if board, ok := a.opts.Leaderboard.Board(passID); ok {
		for i, e := range board.TopN(n) {
			out = append(out, leaderboardEntry{Rank: i + 1, User: e.User, Tier: e.Tier, Points: core.FormatAmount(e.Points)})
		}
	}
	writeJSON(w, map[string]any{"pass_id": passID, "entries": out})
}

func (a *api) hooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"hooks": a.opts.Hooks.Hooks()})
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.opts.Stats.Snapshot())
}

func (a *api) statsPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := analytics.ParsePeriod(chi.URLParam(r, "period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	writeJSON(w, map[string]any{"period": period, "summaries": a.opts.Stats.Aggregated(period)})
}

func userParam(w http.ResponseWriter, r *http.Request) (core.UserID, bool) {
	user, err := core.NormalizeUserID(core.UserID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user", err.Error(), nil)
		return "", false
	}
	return user, true
}

func tierParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	tier, err := strconv.Atoi(chi.URLParam(r, "tier"))
	if err != nil || tier < 1 {
		writeError(w, http.StatusBadRequest, "invalid_tier", "tier must be a positive integer", nil)
		return 0, false
	}
	return tier, true
}

// writeServiceError maps engine sentinels to HTTP statuses.
func (a *api) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", err.Error(), nil)
	case errors.Is(err, core.ErrUserExists):
		writeError(w, http.StatusConflict, "user_exists", err.Error(), nil)
	case errors.Is(err, core.ErrTierNotReached):
		writeError(w, http.StatusConflict, "tier_not_reached", err.Error(), nil)
	case errors.Is(err, core.ErrTierNotPending):
		writeError(w, http.StatusConflict, "tier_not_pending", err.Error(), nil)
	case errors.Is(err, core.ErrUnknownPass), errors.Is(err, core.ErrUnknownTier):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, core.ErrInvalidAmount), errors.Is(err, engine.ErrUnknownBalanceOp):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	default:
		a.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSONStatus(w, status, apiError{Code: code, Message: msg, Details: details})
}
