/*
Package storage provides avatar file storage on S3-compatible object stores.

Clients upload avatars directly through presigned URLs; the service only
brokers URL generation and object cleanup.
*/
package storage

import (
	"context"
	"time"
)

// PresignedAvatarURLDuration is how long an avatar upload URL stays valid.
const PresignedAvatarURLDuration = 5 * time.Minute

// ServiceConfig holds the configuration for the storage backend.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// AvatarStorage is the public interface for avatar object storage.
type AvatarStorage interface {
	// PresignUpload generates a presigned URL for uploading an avatar.
	PresignUpload(
		ctx context.Context,
		key string,
		mimeType string,
		fileSize int64,
		duration time.Duration,
	) (string, error)

	// PresignDownload generates a presigned URL for reading an avatar.
	PresignDownload(ctx context.Context, key string, duration time.Duration) (string, error)

	// Delete removes the avatar object at key.
	Delete(ctx context.Context, key string) error
}

// NewAvatarStorage initializes the S3-backed AvatarStorage implementation.
func NewAvatarStorage(cfg ServiceConfig) (AvatarStorage, error) {
	return newS3Client(cfg)
}
