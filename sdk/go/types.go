package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"
)

// User mirrors the public JSON surface of a pass user. Amounts are decimal
// strings of arbitrary size.
type User struct {
	UserID   string           `json:"user_id"`
	PassID   string           `json:"pass_id"`
	Points   string           `json:"points"`
	Currency string           `json:"currency"`
	Tier     int              `json:"tier"`
	Pending  map[string][]int `json:"pending,omitempty"`
	Updated  time.Time        `json:"updated"`
}

// PointsInt parses Points.
func (u User) PointsInt() (*big.Int, bool) { return new(big.Int).SetString(u.Points, 10) }

// CurrencyInt parses Currency.
func (u User) CurrencyInt() (*big.Int, bool) { return new(big.Int).SetString(u.Currency, 10) }

// Quest is a user's progress on one quest.
type Quest struct {
	QuestID   string    `json:"quest_id"`
	Type      string    `json:"type"`
	Target    int64     `json:"target"`
	Progress  int64     `json:"progress"`
	Completed bool      `json:"completed"`
	Updated   time.Time `json:"updated"`
}

// TierItem is the display item of a tier for a user.
type TierItem struct {
	Tier     int      `json:"tier"`
	Material string   `json:"material"`
	Name     string   `json:"name,omitempty"`
	Amount   int      `json:"amount,omitempty"`
	Lore     []string `json:"lore,omitempty"`
}

type Reward struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	LoreAddon []string       `json:"lore_addon,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ClaimResult lists the rewards granted by a claim.
type ClaimResult struct {
	Tier    int      `json:"tier"`
	Rewards []Reward `json:"rewards"`
}

type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	Tier   int    `json:"tier"`
	Points string `json:"points"`
}

// Hook is the state of an optional integration.
type Hook struct {
	Name     string  `json:"name"`
	State    string  `json:"state"`
	Attempts int     `json:"attempts"`
	Version  float64 `json:"version,omitempty"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed: status %d", e.Status)
	}
	return fmt.Sprintf("request failed: status %d: %s: %s", e.Status, e.Code, e.Message)
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyUserID is returned when user id is empty.
var ErrEmptyUserID = errors.New("user id is required")
