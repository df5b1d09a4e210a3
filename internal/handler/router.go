/*
Package handler provides the HTTP handlers and routing setup for the roomcast server.

This file defines the main Router, applying necessary middleware like logging, CORS,
and IP-based rate limiting before delegating requests to the WebSocket endpoint and
the room-scoped REST endpoints.
*/
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"roomcast/internal/pkg/auth/jwt"
	"roomcast/internal/pkg/errs"
	"roomcast/internal/pkg/limiter"
	"roomcast/internal/pkg/logx"
	"roomcast/internal/pkg/resp"
)

const (
	HealthPingTimeout = 2 * time.Second

	ConnectRate  = 0.5
	ConnectBurst = 5
	UploadRate   = 1
	UploadBurst  = 10
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// The limiter janitors stop when ctx is cancelled.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	connectLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(ConnectRate), ConnectBurst)
	uploadLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(UploadRate), UploadBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// echoed back when the token travels in Sec-WebSocket-Protocol
		Subprotocols: []string{"bearer"},
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", HandleHealth(deps))

	r.Get("/ws", HandleWebSocket(deps, wsUpgrader, connectLimiter))

	r.Route("/api/rooms/{roomId}", func(room chi.Router) {
		room.Use(jwt.RequireIdentity(deps.Auth))

		room.Get("/presence", HandleRoomPresence(deps))
		room.With(uploadLimiter.Middleware).Post("/uploads", HandlePresignUpload(deps))
		room.Get("/files", HandlePresignDownload(deps))
	})

	return r
}

// HandleHealth reports liveness, the online connection count and database readiness.
// An unreachable database turns the answer into 503.
func HandleHealth(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := map[string]any{
			"status":   "ok",
			"service":  "roomcast",
			"online":   deps.Engine.OnlineCount(),
			"database": "ok",
		}

		if deps.Database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), HealthPingTimeout)
			defer cancel()

			if err := deps.Database.Ping(ctx); err != nil {
				logx.Error(err, "Health check: database unreachable")
				data["status"] = "degraded"
				data["database"] = "unavailable"
				resp.RespondJSON(w, r, http.StatusServiceUnavailable, resp.JSONResponse{
					Code:    errs.ErrUnknown,
					Message: "database unavailable",
					Data:    data,
				})
				return
			}
		}

		resp.RespondSuccess(w, r, data)
	}
}
