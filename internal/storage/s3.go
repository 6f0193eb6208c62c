package storage

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// objectAPI is the part of the S3 client the uploader calls
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Uploader handles message media uploads to AWS S3
type S3Uploader struct {
	client  objectAPI
	bucket  string
	region  string
	baseURL string
	now     func() time.Time
}

// UploadResult contains the result of an S3 upload
type UploadResult struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Bucket      string `json:"bucket"`
	Region      string `json:"region"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// NewS3Uploader creates a new S3 uploader
func NewS3Uploader(ctx context.Context, region, bucket, baseURL string) (*S3Uploader, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newS3Uploader(s3.NewFromConfig(cfg), region, bucket, baseURL), nil
}

func newS3Uploader(client objectAPI, region, bucket, baseURL string) *S3Uploader {
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return &S3Uploader{
		client:  client,
		bucket:  bucket,
		region:  region,
		baseURL: baseURL,
		now:     time.Now,
	}
}

// UploadMedia uploads a message attachment.
// Keys are laid out as friend-messages/{kind}/{year}/{month}/{conversationID}/{fileID}{ext}.
func (u *S3Uploader) UploadMedia(ctx context.Context, data []byte, contentType, kind, conversationID, originalFilename string) (*UploadResult, error) {
	now := u.now().UTC()
	key := mediaKey(now, kind, conversationID, uuid.New().String(), extensionFor(originalFilename, contentType))

	putObjectInput := &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),

		// Attachments are immutable once sent
		CacheControl: aws.String("max-age=31536000, immutable"),

		Metadata: map[string]string{
			"conversation-id":   conversationID,
			"original-filename": originalFilename,
			"upload-timestamp":  now.Format(time.RFC3339),
			"file-type":         kind,
		},
	}

	if _, err := u.client.PutObject(ctx, putObjectInput); err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &UploadResult{
		Key:         key,
		URL:         fmt.Sprintf("%s/%s", strings.TrimSuffix(u.baseURL, "/"), key),
		Bucket:      u.bucket,
		Region:      u.region,
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

// DeleteFile deletes a file from S3
func (u *S3Uploader) DeleteFile(ctx context.Context, key string) error {
	_, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}

	return nil
}

// CheckBucketAccess verifies that we can access the S3 bucket
func (u *S3Uploader) CheckBucketAccess(ctx context.Context) error {
	_, err := u.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(u.bucket),
	})
	if err != nil {
		return fmt.Errorf("cannot access S3 bucket %s: %w", u.bucket, err)
	}

	return nil
}

func mediaKey(now time.Time, kind, conversationID, fileID, extension string) string {
	return fmt.Sprintf("friend-messages/%s/%d/%02d/%s/%s%s",
		kind, now.Year(), now.Month(), conversationID, fileID, extension)
}

// extensionFor keeps the client's extension, falling back to one derived from the MIME type
func extensionFor(filename, contentType string) string {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		return ext
	}
	return getExtension(contentType)
}

// getExtension returns the file extension for a media MIME type
func getExtension(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm", "audio/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4":
		return ".m4a"
	case "audio/wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".bin"
	}
}
