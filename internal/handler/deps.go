package handler

import (
	"slopelink/internal/app/party"
	"slopelink/internal/app/profile"
	"slopelink/internal/app/storage"
	"slopelink/internal/configs"
)

// AppDeps bundles the shared dependencies handed to every handler.
type AppDeps struct {
	Manager *party.Manager
	Config  *configs.AppConfig
	Cache   *profile.Cache
	Avatars storage.AvatarStorage
}
