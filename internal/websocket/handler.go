package websocket

import (
	"net/http"

	"github.com/dukerupert/medreminder/internal/auth"

	ws "github.com/coder/websocket"
)

// HandleWebSocket returns an HTTP handler that upgrades authenticated
// connections and runs them as Hub clients of the caller.
func HandleWebSocket(hub *Hub, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := auth.UserID(r.Context())
		if ownerID == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			hub.logger.Warn("accept", "owner_id", ownerID, "error", err)
			return
		}

		NewClient(hub, conn, ownerID).Run(r.Context())
	}
}
