package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/telehealth-api/internal/config"
)

func newTestStorage(t *testing.T, endpoint string) *S3Storage {
	t.Helper()
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("AKIDTEST", "secret", ""),
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true,
	})
	return NewS3Storage(client, config.StorageConfig{
		Bucket:     "intake",
		KeyPrefix:  "intake-photos",
		PresignTTL: 5 * time.Minute,
	})
}

func TestPresignUploadKeyUnderPatientPrefix(t *testing.T) {
	s := newTestStorage(t, "http://localhost:9000")
	patientID := uuid.New()

	upload, err := s.PresignUpload(context.Background(), patientID, "image/png")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(upload.Key, "intake-photos/"+patientID.String()+"/"))
	assert.True(t, strings.HasSuffix(upload.Key, ".png"))
	assert.True(t, s.OwnsKey(patientID, upload.Key))
	assert.Contains(t, upload.UploadURL, "/intake/"+upload.Key)
	assert.Contains(t, upload.UploadURL, "X-Amz-Signature=")
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), upload.ExpiresAt, time.Minute)
}

func TestPresignUploadRejectsUnknownType(t *testing.T) {
	s := newTestStorage(t, "http://localhost:9000")

	_, err := s.PresignUpload(context.Background(), uuid.New(), "application/pdf")
	assert.Error(t, err)
}

func TestOwnsKey(t *testing.T) {
	k := keyspace{prefix: "intake-photos"}
	me, other := uuid.New(), uuid.New()

	assert.True(t, k.OwnsKey(me, "intake-photos/"+me.String()+"/a.jpg"))
	assert.False(t, k.OwnsKey(me, "intake-photos/"+other.String()+"/a.jpg"))
	assert.False(t, k.OwnsKey(me, "intake-photos/"+me.String()+"/"))
	assert.False(t, k.OwnsKey(me, "intake-photos/"+me.String()+"/../"+other.String()+"/a.jpg"))
	assert.False(t, k.OwnsKey(me, "a.jpg"))
}

func TestExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		if strings.HasSuffix(r.URL.Path, "/present.jpg") {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := newTestStorage(t, srv.URL)

	ok, err := s.Exists(context.Background(), "intake-photos/p/present.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(context.Background(), "intake-photos/p/missing.jpg")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDisabledStorage(t *testing.T) {
	d := NewDisabled("intake-photos")
	patientID := uuid.New()

	assert.False(t, d.Enabled())
	_, err := d.PresignUpload(context.Background(), patientID, "image/png")
	assert.ErrorIs(t, err, ErrDisabled)

	ok, err := d.Exists(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, d.OwnsKey(patientID, "intake-photos/"+patientID.String()+"/x.png"))
}

func TestNewWithoutBucketIsDisabled(t *testing.T) {
	s, err := New(context.Background(), config.StorageConfig{KeyPrefix: "p"})
	require.NoError(t, err)
	assert.False(t, s.Enabled())
}
