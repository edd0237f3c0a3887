/*
Package handler provides HTTP handler functions for profile lookups and
avatar uploads.
*/
package handler

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"slopelink/internal/app/storage"
	"slopelink/internal/pkg/errs"
	"slopelink/internal/pkg/req"
	"slopelink/internal/pkg/resp"
)

const (
	// MaxAvatarSize caps avatar uploads at 2 MB.
	MaxAvatarSize = 2 * 1024 * 1024
)

// allowedAvatarMIMETypes maps permitted avatar content types to their
// canonical file extension.
var allowedAvatarMIMETypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// HandleGetProfile resolves a user profile through the shared cache. Tracker
// clients use this endpoint as their profile store.
func HandleGetProfile(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		if userID == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		user, ok := deps.Cache.Lookup(r.Context(), userID)
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrProfileNotFound))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"user": user,
		})
	}
}

type PresignAvatarInput struct {
	UserID   string `json:"userId"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	FileSize int64  `json:"fileSize"`
}

// HandlePresignAvatar validates the avatar metadata and returns a presigned
// upload URL plus the object key the client should store as its avatar.
func HandlePresignAvatar(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input PresignAvatarInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if input.UserID == "" || input.FileName == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		if input.FileSize <= 0 || input.FileSize > MaxAvatarSize {
			resp.RespondError(w, r, errs.NewError(errs.ErrAvatarTypeInvalid))
			return
		}

		mimeType := strings.ToLower(input.MimeType)
		expectedExt, ok := allowedAvatarMIMETypes[mimeType]
		if !ok {
			resp.RespondError(w, r, errs.NewError(errs.ErrAvatarTypeInvalid))
			return
		}

		ext := strings.ToLower(filepath.Ext(input.FileName))
		if ext == ".jpeg" {
			ext = ".jpg"
		}
		if ext != expectedExt {
			resp.RespondError(w, r, errs.NewError(errs.ErrAvatarTypeInvalid))
			return
		}

		key := fmt.Sprintf("avatars/%s/%s%s", input.UserID, uuid.New().String(), ext)

		uploadURL, err := deps.Avatars.PresignUpload(
			r.Context(),
			key,
			mimeType,
			input.FileSize,
			storage.PresignedAvatarURLDuration,
		)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"uploadUrl": uploadURL,
			"key":       key,
		})
	}
}
