/*
Package profile contains user profile resolution for party presence.

A profile is the lightweight identity (display name, avatar) attached to a
party member. Profiles are fetched from an external store and shared across
parties through a single mutex-guarded cache.
*/
package profile

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Store when no profile exists for the id.
var ErrNotFound = errors.New("profile: user not found")

// User is the immutable profile record for one user. Cache entries are
// never mutated in place; a fresh fetch replaces the entry wholesale.
type User struct {
	// ID is the globally unique, stable user identifier.
	ID string `json:"id"`

	// DisplayName is the user's display name, empty when unset.
	DisplayName string `json:"displayName,omitempty"`

	// AvatarURL is the user's avatar location, empty when unset.
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Store abstracts the external profile store, queried by exact id match.
type Store interface {
	// GetUser returns the profile for id, or ErrNotFound when absent.
	GetUser(ctx context.Context, id string) (User, error)
}
