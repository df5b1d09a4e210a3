package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"roomcast/internal/app/chat"
	"roomcast/internal/app/session"
	"roomcast/internal/pkg/auth/jwt"
	"roomcast/internal/pkg/errs"
	"roomcast/internal/pkg/limiter"
	"roomcast/internal/pkg/logx"
	"roomcast/internal/pkg/resp"
)

// HandleWebSocket authenticates the caller, upgrades the connection, admits it and
// serves it until it closes. Refused callers get a plain HTTP error and never reach
// the registry.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rateLimiter.Allow(r) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", logx.AnonymizeIP(limiter.ClientIP(r)))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		identity, err := deps.Auth.Authenticate(r.Context(), jwt.ExtractToken(r))
		if err != nil {
			reason, _ := session.ReasonOf(err)
			logx.Info("WebSocket connection refused.", "reason", string(reason))
			resp.RespondError(w, r, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// the upgrader already wrote the HTTP error
			logx.Warn("Failed to upgrade connection to WebSocket", "identity", identity, "error", err.Error())
			return
		}

		client := chat.NewClient(conn, identity)
		deps.Engine.Admit(client)

		client.Run(r.Context(), deps.Engine)
	}
}
