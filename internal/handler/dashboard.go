package handler

import (
	"net/http"
	"time"

	"github.com/lumenapp/lumen/internal/ctxkeys"
)

type dashboardHandler struct{}

func NewDashboardHandler() *dashboardHandler {
	return &dashboardHandler{}
}

// Dashboard returns the signed-in user's account summary.
func (h *dashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	respondJSON(w, http.StatusOK, map[string]any{
		"user":          user.Public(),
		"memberSince":   user.CreatedAt.Format(time.RFC3339),
		"emailVerified": user.IsVerified(),
	})
}
