package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/jwalitptl/telehealth-api/internal/config"
	"github.com/jwalitptl/telehealth-api/internal/model"
)

// Storage holds intake photos. Objects are uploaded by the client directly
// through a presigned URL; the API only ever stores their keys.
type Storage interface {
	PresignUpload(ctx context.Context, patientID uuid.UUID, contentType string) (*model.PhotoUpload, error)
	Exists(ctx context.Context, key string) (bool, error)
	// OwnsKey reports whether key lives under the patient's upload prefix
	OwnsKey(patientID uuid.UUID, key string) bool
	Enabled() bool
}

var ErrDisabled = errors.New("photo storage is not configured")

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/heic": ".heic",
}

type keyspace struct {
	prefix string
}

func (k keyspace) patientPrefix(patientID uuid.UUID) string {
	return path.Join(k.prefix, patientID.String()) + "/"
}

func (k keyspace) OwnsKey(patientID uuid.UUID, key string) bool {
	if strings.Contains(key, "..") {
		return false
	}
	prefix := k.patientPrefix(patientID)
	return strings.HasPrefix(key, prefix) && len(key) > len(prefix)
}

func (k keyspace) newKey(patientID uuid.UUID, contentType string) string {
	return k.patientPrefix(patientID) + uuid.NewString() + extensions[contentType]
}

type S3Storage struct {
	keyspace
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
}

// New returns an S3 backed store, or a disabled one when no bucket is configured
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	if cfg.Bucket == "" {
		return NewDisabled(cfg.KeyPrefix), nil
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3Storage(client, cfg), nil
}

func NewS3Storage(client *s3.Client, cfg config.StorageConfig) *S3Storage {
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &S3Storage{
		keyspace: keyspace{prefix: cfg.KeyPrefix},
		client:   client,
		presign:  s3.NewPresignClient(client),
		bucket:   cfg.Bucket,
		ttl:      ttl,
	}
}

func (s *S3Storage) Enabled() bool { return true }

func (s *S3Storage) PresignUpload(ctx context.Context, patientID uuid.UUID, contentType string) (*model.PhotoUpload, error) {
	if _, ok := extensions[contentType]; !ok {
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}

	key := s.newKey(patientID, contentType)
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}

	return &model.PhotoUpload{
		Key:       key,
		UploadURL: req.URL,
		ExpiresAt: time.Now().UTC().Add(s.ttl),
	}, nil
}

func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object %s: %w", key, err)
	}
	return true, nil
}

// Disabled accepts well-formed keys without checking them and refuses to
// issue upload URLs.
type Disabled struct {
	keyspace
}

func NewDisabled(prefix string) *Disabled {
	return &Disabled{keyspace: keyspace{prefix: prefix}}
}

func (d *Disabled) Enabled() bool { return false }

func (d *Disabled) PresignUpload(context.Context, uuid.UUID, string) (*model.PhotoUpload, error) {
	return nil, ErrDisabled
}

func (d *Disabled) Exists(context.Context, string) (bool, error) {
	return true, nil
}
