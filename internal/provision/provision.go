// Package provision prepares the local storage emulators: it creates the test
// bucket on the S3 emulator and, optionally, a blob container on Azurite.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"dwpipe/internal/config"
	"dwpipe/internal/logger"
)

// BucketAPI is the subset of *minio.Client used for provisioning.
type BucketAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// ContainerEnsurer creates a blob container if it does not exist yet.
// *storage.AzureStorage implements it.
type ContainerEnsurer interface {
	Container() string
	EnsureContainer(ctx context.Context) error
}

// Options tunes a Provisioner. Zero values fall back to the emulator defaults.
type Options struct {
	Bucket string
	Region string
	// Wait is slept before the first call so a freshly started emulator can boot.
	Wait time.Duration
	// MaxAttempts bounds readiness retries of the first bucket call.
	MaxAttempts  int
	RetryInitial time.Duration
	Container    ContainerEnsurer
	Logger       *slog.Logger
	Sleep        func(ctx context.Context, d time.Duration) error
}

// Result describes what Provision found or changed.
type Result struct {
	Bucket    string `json:"bucket"`
	Created   bool   `json:"created"`
	Objects   int    `json:"objects"`
	Container string `json:"container,omitempty"`
}

// Provisioner is idempotent: running it against a prepared emulator changes nothing.
type Provisioner struct {
	api  BucketAPI
	opts Options
}

// New wraps api with opts.
func New(api BucketAPI, opts Options) *Provisioner {
	if opts.Bucket == "" {
		opts.Bucket = "test-bucket"
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	return &Provisioner{api: api, opts: opts}
}

// NewMinIO builds a minio client for the S3 emulator described by cfg.
// The region is pinned so the client never asks the emulator for a bucket location.
func NewMinIO(cfg config.EmulatorConfig) (*minio.Client, error) {
	if cfg.S3Endpoint == "" {
		return nil, errors.New("emulator endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("emulator credentials are required")
	}

	cli, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return cli, nil
}

// Provision waits, ensures the bucket exists, then checks that it can be listed.
func (p *Provisioner) Provision(ctx context.Context) (Result, error) {
	res := Result{Bucket: p.opts.Bucket}
	log := p.opts.Logger.With("bucket", p.opts.Bucket)

	if p.opts.Wait > 0 {
		log.Info("provision_waiting", "wait_ms", p.opts.Wait.Milliseconds())
		if err := p.opts.Sleep(ctx, p.opts.Wait); err != nil {
			return res, err
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.RetryInitial
	exists, err := backoff.Retry(ctx, func() (bool, error) {
		return p.api.BucketExists(ctx, p.opts.Bucket)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn("provision_emulator_not_ready", "error", err.Error(), "wait_ms", wait.Milliseconds())
		}),
	)
	if err != nil {
		return res, fmt.Errorf("check bucket existence: %w", err)
	}

	if !exists {
		err := p.api.MakeBucket(ctx, p.opts.Bucket, minio.MakeBucketOptions{Region: p.opts.Region})
		if err != nil && !alreadyOwned(err) {
			return res, fmt.Errorf("create bucket: %w", err)
		}
		res.Created = err == nil
		if res.Created {
			log.Info("provision_bucket_created")
		}
	}

	n, err := p.count(ctx)
	if err != nil {
		return res, fmt.Errorf("list bucket: %w", err)
	}
	res.Objects = n

	if p.opts.Container != nil {
		if err := p.opts.Container.EnsureContainer(ctx); err != nil {
			return res, fmt.Errorf("create container: %w", err)
		}
		res.Container = p.opts.Container.Container()
		log.Info("provision_container_ready", "container", res.Container)
	}

	log.Info("provision_done", "created", res.Created, "objects", res.Objects)
	return res, nil
}

func (p *Provisioner) count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n := 0
	for obj := range p.api.ListObjects(ctx, p.opts.Bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return n, obj.Err
		}
		n++
	}
	return n, nil
}

// alreadyOwned treats a concurrent creation of our own bucket as success.
func alreadyOwned(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
