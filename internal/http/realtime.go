package httpx

import (
	"net/http"
	"time"

	"github.com/splax/feed/internal/ws"
)

const (
	sseHeartbeatInterval = 15 * time.Second
	sseRetryHint         = 3 * time.Second
)

func (r *Router) handlePostsWS(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	verdict := verdictFromContext(req.Context())
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Subscribe(client)
	r.logger.Info("websocket subscriber connected", "authenticated", verdict.Authenticated, "user_id", verdict.UserID)
	go func() {
		defer r.hub.Unsubscribe(client)
		client.ReadUntilClosed()
	}()
}

func (r *Router) handlePostsSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	client, err := ws.OpenSSE(w, sseRetryHint)
	if err != nil {
		r.logger.Error("sse stream open failed", "error", err)
		return
	}
	r.hub.Subscribe(client)
	// Close after unsubscribing so no queued write lands once the handler returns.
	defer func() {
		r.hub.Unsubscribe(client)
		client.Close()
	}()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				r.logger.Debug("sse heartbeat failed", "error", err)
				return
			}
		}
	}
}
