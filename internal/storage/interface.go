package storage

import "context"

// MediaStore stores message attachments and returns their public URL
type MediaStore interface {
	UploadMedia(ctx context.Context, data []byte, contentType, kind, conversationID, originalFilename string) (*UploadResult, error)
	DeleteFile(ctx context.Context, key string) error
}

// Ensure S3Uploader implements MediaStore
var _ MediaStore = (*S3Uploader)(nil)
