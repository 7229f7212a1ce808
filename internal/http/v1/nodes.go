package v1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/skiffworks/skiff/internal/security/enroll"
)

type enrollTokenReq struct {
	Node string `json:"node"`
	TTL  string `json:"ttl"` // Go duration, e.g. "15m"
}

type enrollTokenResp struct {
	Token     string    `json:"token"`
	Node      string    `json:"node"`
	ExpiresAt time.Time `json:"expires_at"`
}

// createEnrollToken handles POST /nodes/enroll/token. The token carries
// the node id as its subject and is presented by the agent on Register.
func (h *Handlers) createEnrollToken(w http.ResponseWriter, r *http.Request) {
	if len(h.EnrollSecret) == 0 {
		http.Error(w, "enrollment disabled: no enroll secret configured", http.StatusForbidden)
		return
	}
	var req enrollTokenReq
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Node == "" {
		req.Node = uuid.NewString()
	}
	ttl := 15 * time.Minute
	if req.TTL != "" {
		if d, err := time.ParseDuration(req.TTL); err == nil {
			ttl = d
		}
	}
	tok, err := enroll.IssueToken(h.EnrollSecret, req.Node, ttl)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to issue token: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, enrollTokenResp{Token: tok, Node: req.Node, ExpiresAt: time.Now().Add(ttl)})
}
