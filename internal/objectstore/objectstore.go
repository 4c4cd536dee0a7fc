// Package objectstore publishes local input files to S3-compatible storage so
// web workers, which only see URLs, can fetch them.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"github.com/seantiz/anvil/internal/model"
	"github.com/seantiz/anvil/internal/resource"
	"github.com/seantiz/anvil/internal/transport"
)

const (
	keyPrefix  = "inputs"
	defaultTTL = time.Hour
)

// Config locates the bucket and credentials.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	URLTTL    time.Duration
}

// Validate checks the fields needed to reach the bucket.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return errors.New("access key and secret key must be set together")
	}
	return nil
}

// objectAPI is the part of *minio.Client the publisher uses.
type objectAPI interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// Publisher uploads local resources and gives them presigned GET URLs.
type Publisher struct {
	client objectAPI
	bucket string
	ttl    time.Duration
	newID  model.IDSource
	logger *slog.Logger
}

// NewPublisher connects to the object store described by cfg.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("object store config: %w", err)
	}
	opts := &minio.Options{
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: transport.New(),
	}
	if cfg.AccessKey != "" {
		opts.Creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		opts.Creds = credentials.NewEnvAWS()
	}
	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return newPublisher(client, cfg, logger), nil
}

func newPublisher(client objectAPI, cfg Config, logger *slog.Logger) *Publisher {
	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Publisher{
		client: client,
		bucket: cfg.Bucket,
		ttl:    ttl,
		newID:  model.NewID,
		logger: logger,
	}
}

// Publish uploads r if it only exists locally and sets its URL to a
// presigned download link. Resources that already have a URL are left alone.
func (p *Publisher) Publish(ctx context.Context, r *resource.Resource) error {
	if r == nil || r.PathURL != "" {
		return nil
	}
	if r.PathLocal == "" {
		return errors.New("resource has neither a local path nor a URL")
	}

	f, err := os.Open(r.PathLocal)
	if err != nil {
		return fmt.Errorf("open %s: %w", r.PathLocal, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", r.PathLocal, err)
	}

	name := filepath.Base(r.PathLocal)
	key := path.Join(keyPrefix, strings.ToLower(p.newID()), name)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	start := time.Now()
	if _, err := p.client.PutObject(ctx, p.bucket, key, f, info.Size(), minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("upload %s to %s/%s: %w", r.PathLocal, p.bucket, key, err)
	}
	u, err := p.client.PresignedGetObject(ctx, p.bucket, key, p.ttl, nil)
	if err != nil {
		return fmt.Errorf("presign %s/%s: %w", p.bucket, key, err)
	}

	p.logger.Info("published input",
		"path", r.PathLocal,
		"bucket", p.bucket,
		"key", key,
		"size", info.Size(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	r.PathURL = u.String()
	return nil
}

// PublishAll publishes every non-nil resource concurrently.
func (p *Publisher) PublishAll(ctx context.Context, resources []*resource.Resource) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range resources {
		g.Go(func() error { return p.Publish(gctx, r) })
	}
	return g.Wait()
}
