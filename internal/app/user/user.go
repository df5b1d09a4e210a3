/*
Package user contains the public profile representation of an identity.

Profiles are read from the durable store on demand and embedded in room events. The
real-time core keeps the profile of an identity only while it is present in some room,
so departures can be announced without a store round trip.
*/
package user

// Profile represents the public identity information of a chat participant.
type Profile struct {

	// ID is the stable external identity (identity-provider user id).
	ID string `json:"id"`

	// DisplayName is the name shown to other room members.
	DisplayName string `json:"displayName"`

	// AvatarURL is the URL of the user's avatar, if any.
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Fallback returns a profile that only carries the identity, used when the store cannot
// produce one in time.
func Fallback(identity string) Profile {
	return Profile{ID: identity, DisplayName: identity}
}

// Name returns the display name, falling back to the identity.
func (p Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}
