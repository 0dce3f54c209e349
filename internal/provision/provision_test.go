package provision

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dwpipe/internal/config"
)

type fakeBuckets struct {
	mu         sync.Mutex
	buckets    map[string][]string
	existsErrs []error
	makeErr    error
	listErr    error
	makeCalls  int
	region     string
}

func newFakeBuckets() *fakeBuckets {
	return &fakeBuckets{buckets: map[string][]string{}}
}

func (f *fakeBuckets) BucketExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.existsErrs) > 0 {
		err := f.existsErrs[0]
		f.existsErrs = f.existsErrs[1:]
		return false, err
	}
	_, ok := f.buckets[name]
	return ok, nil
}

func (f *fakeBuckets) MakeBucket(_ context.Context, name string, opts minio.MakeBucketOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.makeCalls++
	f.region = opts.Region
	if f.makeErr != nil {
		return f.makeErr
	}
	f.buckets[name] = nil
	return nil
}

func (f *fakeBuckets) ListObjects(_ context.Context, name string, _ minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan minio.ObjectInfo, len(f.buckets[name])+1)
	if f.listErr != nil {
		ch <- minio.ObjectInfo{Err: f.listErr}
	} else {
		for _, k := range f.buckets[name] {
			ch <- minio.ObjectInfo{Key: k}
		}
	}
	close(ch)
	return ch
}

type fakeContainer struct {
	name  string
	calls int
	err   error
}

func (c *fakeContainer) Container() string { return c.name }

func (c *fakeContainer) EnsureContainer(context.Context) error {
	c.calls++
	return c.err
}

func noSleep(slept *time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*slept += d
		return nil
	}
}

func TestProvision_CreatesBucket(t *testing.T) {
	api := newFakeBuckets()
	var slept time.Duration

	res, err := New(api, Options{Wait: 5 * time.Second, Sleep: noSleep(&slept)}).Provision(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Result{Bucket: "test-bucket", Created: true}, res)
	assert.Equal(t, 5*time.Second, slept)
	assert.Equal(t, "us-east-1", api.region)
	assert.Contains(t, api.buckets, "test-bucket")
}

func TestProvision_Idempotent(t *testing.T) {
	api := newFakeBuckets()
	api.buckets["test-bucket"] = []string{"a.json", "b.json"}

	p := New(api, Options{Sleep: noSleep(new(time.Duration))})
	for i := 0; i < 2; i++ {
		res, err := p.Provision(context.Background())
		require.NoError(t, err)
		assert.False(t, res.Created)
		assert.Equal(t, 2, res.Objects)
	}
	assert.Zero(t, api.makeCalls)
}

func TestProvision_RetriesUntilEmulatorIsUp(t *testing.T) {
	api := newFakeBuckets()
	api.existsErrs = []error{errors.New("connection refused"), errors.New("connection refused")}

	res, err := New(api, Options{
		Bucket:       "landing",
		MaxAttempts:  3,
		RetryInitial: time.Millisecond,
	}).Provision(context.Background())

	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "landing", res.Bucket)
}

func TestProvision_GivesUp(t *testing.T) {
	api := newFakeBuckets()
	api.existsErrs = []error{errors.New("refused"), errors.New("refused")}

	_, err := New(api, Options{MaxAttempts: 2, RetryInitial: time.Millisecond}).Provision(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "check bucket existence")
	assert.Zero(t, api.makeCalls)
}

func TestProvision_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeBuckets)
		wantErr string
	}{
		{
			name:    "make bucket fails",
			setup:   func(f *fakeBuckets) { f.makeErr = errors.New("access denied") },
			wantErr: "create bucket: access denied",
		},
		{
			name: "list fails",
			setup: func(f *fakeBuckets) {
				f.buckets["test-bucket"] = nil
				f.listErr = errors.New("not listable")
			},
			wantErr: "list bucket: not listable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeBuckets()
			tt.setup(api)

			_, err := New(api, Options{}).Provision(context.Background())
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestProvision_RaceOnCreateIsSuccess(t *testing.T) {
	api := newFakeBuckets()
	api.makeErr = minio.ErrorResponse{Code: "BucketAlreadyOwnedByYou", StatusCode: http.StatusConflict}

	res, err := New(api, Options{}).Provision(context.Background())

	require.NoError(t, err)
	assert.False(t, res.Created)
}

func TestProvision_WaitHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(newFakeBuckets(), Options{Wait: time.Hour}).Provision(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProvision_AzureContainer(t *testing.T) {
	c := &fakeContainer{name: "airflow-datawarehouse"}

	res, err := New(newFakeBuckets(), Options{Container: c}).Provision(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "airflow-datawarehouse", res.Container)
	assert.Equal(t, 1, c.calls)

	c.err = errors.New("azurite down")
	_, err = New(newFakeBuckets(), Options{Container: c}).Provision(context.Background())
	assert.EqualError(t, err, "create container: azurite down")
}

func TestNewMinIO_Validation(t *testing.T) {
	_, err := NewMinIO(config.EmulatorConfig{})
	assert.EqualError(t, err, "emulator endpoint is required")

	_, err = NewMinIO(config.EmulatorConfig{S3Endpoint: "localhost:4566"})
	assert.EqualError(t, err, "emulator credentials are required")
}

// s3Emulator speaks just enough of the S3 API for bucket provisioning.
func s3Emulator(t *testing.T) (*httptest.Server, func() bool) {
	t.Helper()
	var (
		mu      sync.Mutex
		created bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Authorization"), "Credential=test/")
		if strings.Trim(r.URL.Path, "/") != "test-bucket" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodHead:
			if !created {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			created = true
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			if !created {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
				`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">` +
				`<Name>test-bucket</Name><Prefix></Prefix><KeyCount>0</KeyCount>` +
				`<MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated></ListBucketResult>`))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	return srv, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return created
	}
}

func TestProvision_AgainstS3Emulator(t *testing.T) {
	srv, created := s3Emulator(t)

	cli, err := NewMinIO(config.EmulatorConfig{
		S3Endpoint: strings.TrimPrefix(srv.URL, "http://"),
		AccessKey:  "test",
		SecretKey:  "test",
		Region:     "us-east-1",
	})
	require.NoError(t, err)

	p := New(cli, Options{MaxAttempts: 1})
	res, err := p.Provision(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, created())

	res, err = p.Provision(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Zero(t, res.Objects)
}
