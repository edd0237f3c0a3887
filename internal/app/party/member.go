/*
Package party contains the core logic for live party presence: ad hoc
multi-user sessions in which participants continuously share their GPS
position over a broadcast transport.

This file defines Member, one entry in a party's deduplicated member set.
*/
package party

import "time"

// Member is the latest known position and identity of one party participant.
// The member set is keyed by UserID; a newer update replaces the previous
// entry for the same id, it never appends.
type Member struct {
	// UserID matches profile.User.ID.
	UserID string `json:"userId"`

	// Lat and Lon are the last reported position in degrees.
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`

	// AvatarURL is taken from the wire message, falling back to the
	// cached profile when the message carries none.
	AvatarURL string `json:"avatarUrl,omitempty"`

	// UserName is backfilled from the profile cache; it is never carried
	// on the wire.
	UserName string `json:"userName,omitempty"`

	// LastUpdate records when the last presence message for this member
	// was processed locally. Arrival order decides freshness; the wire
	// format carries no timestamp.
	LastUpdate time.Time `json:"lastUpdate"`

	// Stale flags a member whose LastUpdate exceeded the staleness
	// threshold under the "mark" policy.
	Stale bool `json:"stale,omitempty"`
}
