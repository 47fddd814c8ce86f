package client

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/panyam/shopauth"
)

// recordingNotifier keeps every notification it receives
type recordingNotifier struct {
	mu  sync.Mutex
	got []shopauth.Notification
}

func (r *recordingNotifier) Notify(n shopauth.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recordingNotifier) all() []shopauth.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]shopauth.Notification(nil), r.got...)
}

func (r *recordingNotifier) count(kind shopauth.NotificationKind) int {
	n := 0
	for _, got := range r.all() {
		if got.Kind == kind {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func tokenResponse(token string, expiresIn int) map[string]any {
	return map[string]any{
		"success": true,
		"data": map[string]any{
			"access_token": token,
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		},
	}
}
