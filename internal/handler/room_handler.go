package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"roomcast/internal/pkg/auth/jwt"
	"roomcast/internal/pkg/errs"
	"roomcast/internal/pkg/logx"
	"roomcast/internal/pkg/resp"
)

// RoomPresenceOutput is the response of the presence endpoint.
type RoomPresenceOutput struct {
	RoomID  int64    `json:"roomId"`
	Members []string `json:"members"`
}

// HandleRoomPresence lists the identities present in a room. Only durable members may ask.
func HandleRoomPresence(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, roomID, ok := requireMember(w, r, deps)
		if !ok {
			return
		}

		resp.RespondSuccess(w, r, RoomPresenceOutput{
			RoomID:  roomID,
			Members: deps.Engine.PresentMembers(roomID),
		})
	}
}

// requireMember resolves the {roomId} path parameter and checks that the
// authenticated identity is a member. It writes the error response itself.
func requireMember(w http.ResponseWriter, r *http.Request, deps *AppDeps) (string, int64, bool) {
	identity, ok := jwt.IdentityFromContext(r.Context())
	if !ok {
		resp.RespondError(w, r, errs.NewError(errs.ErrNoToken))
		return "", 0, false
	}

	roomID, err := strconv.ParseInt(chi.URLParam(r, "roomId"), 10, 64)
	if err != nil || roomID <= 0 {
		resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
		return "", 0, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), deps.Config.StoreTimeout)
	defer cancel()

	_, found, err := deps.Members.GetMembership(ctx, identity, roomID)
	if err != nil {
		logx.Error(err, "Membership lookup failed", "room_id", roomID)
		resp.RespondError(w, r, errs.Wrap(errs.ErrUnknown, err))
		return "", 0, false
	}
	if !found {
		resp.RespondError(w, r, errs.NewError(errs.ErrNotAMember))
		return "", 0, false
	}

	return identity, roomID, true
}
