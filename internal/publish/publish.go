// Package publish uploads a packed staging prefix to an S3-compatible
// object store.
package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"

	"github.com/sfml-ci/sfboot/internal/archive"
)

// Config locates the bucket artifacts are uploaded to.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return eris.New("endpoint is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return eris.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return eris.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return eris.New("access key and secret key must be set together")
	}
	return nil
}

// Store is the subset of *minio.Client used for uploads.
type Store interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

var _ Store = (*minio.Client)(nil)

// NewMinIOClient returns a client for cfg. Empty keys mean anonymous access.
func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Object describes an uploaded artifact.
type Object struct {
	Bucket string
	Key    string
	Size   int64
	Sha256 string
}

// Publisher packs and uploads staging dirs.
type Publisher struct {
	store Store
	cfg   Config
}

func New(store Store, cfg Config) *Publisher {
	return &Publisher{store: store, cfg: cfg}
}

// Key returns the object key a run's archive is stored under.
func (p *Publisher) Key(runID string) string {
	return path.Join(p.cfg.Prefix, runID, "staging.tar.gz")
}

// Publish packs stagingDir into a tar.gz and uploads it under Key(runID).
// The bucket must already exist.
func (p *Publisher) Publish(ctx context.Context, stagingDir, runID string) (Object, error) {
	exists, err := p.store.BucketExists(ctx, p.cfg.Bucket)
	if err != nil {
		return Object{}, eris.Wrapf(err, "bucket %s", p.cfg.Bucket)
	}
	if !exists {
		return Object{}, eris.Errorf("bucket missing: %s", p.cfg.Bucket)
	}

	tmp, err := os.CreateTemp("", "sfboot-staging-*.tar.gz")
	if err != nil {
		return Object{}, eris.Wrap(err, "failed to create temporary archive")
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	hasher := sha256.New()
	if err := archive.Pack(io.MultiWriter(tmp, hasher), stagingDir); err != nil {
		return Object{}, err
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return Object{}, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return Object{}, err
	}

	obj := Object{
		Bucket: p.cfg.Bucket,
		Key:    p.Key(runID),
		Size:   size,
		Sha256: hex.EncodeToString(hasher.Sum(nil)),
	}
	_, err = p.store.PutObject(ctx, obj.Bucket, obj.Key, tmp, size, minio.PutObjectOptions{
		ContentType:  "application/gzip",
		UserMetadata: map[string]string{"sha256": obj.Sha256, "run-id": runID},
	})
	if err != nil {
		return Object{}, eris.Wrapf(err, "failed to upload %s", obj.Key)
	}
	return obj, nil
}
