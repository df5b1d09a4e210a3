package handler

import (
	"context"

	"roomcast/internal/app/chat"
	"roomcast/internal/app/storage"
	"roomcast/internal/configs"
	"roomcast/internal/pkg/auth/jwt"
)

// MembershipStore answers room membership questions for the HTTP endpoints.
type MembershipStore interface {
	GetMembership(ctx context.Context, identity string, roomID int64) (chat.Membership, bool, error)
}

// Pinger reports whether the durable store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AppDeps holds everything the HTTP surface needs. StorageService is nil when
// no blob store is configured; Database is optional.
type AppDeps struct {
	Config         *configs.AppConfig
	Engine         *chat.Engine
	Auth           jwt.Authenticator
	Members        MembershipStore
	Database       Pinger
	StorageService storage.StorageService
}
