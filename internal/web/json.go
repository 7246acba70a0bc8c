package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sweeney/mailbox-node/internal/logic"
)

// SnapshotMessage is pushed to live feed subscribers after each resolved report.
type SnapshotMessage struct {
	Timestamp     string `json:"timestamp"`
	IRS           string `json:"irs"`
	Previous      string `json:"previous"`
	Outcome       string `json:"outcome"`
	FailureStreak int    `json:"failure_streak"`
}

// NewSnapshotMessage builds a live feed message.
func NewSnapshotMessage(ts time.Time, current, previous logic.Snapshot, outcome logic.Outcome, streak int) SnapshotMessage {
	return SnapshotMessage{
		Timestamp:     ts.UTC().Format(time.RFC3339),
		IRS:           current.Code(),
		Previous:      previous.Code(),
		Outcome:       outcome.String(),
		FailureStreak: streak,
	}
}

// HelloResponse answers the provisioning liveness check.
type HelloResponse struct {
	Message string `json:"message"`
}

// ToggleRequest carries a 4-state output command, e.g. {"irs":"1010"}.
type ToggleRequest struct {
	IRS string `json:"irs"`
}

// JoinRequest carries the network the operator wants the node to join.
type JoinRequest struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

// ErrorResponse is returned with any 4xx/5xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AcceptedResponse acknowledges a request that completes asynchronously.
type AcceptedResponse struct {
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}
