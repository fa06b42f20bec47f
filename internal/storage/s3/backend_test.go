package s3

import (
	"bytes"
	"context"
	stderr "errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/farmsight/farmsight/internal/config"
	"github.com/farmsight/farmsight/pkg/errors"
)

// fakeS3 implements API over an in-memory key space with list
// pagination and injectable failures.
type fakeS3 struct {
	objects map[string][]byte

	headBucketErr error
	listErr       error
	getErr        error
	getFailures   int32 // remaining GetObject failures before success

	pageSize  int
	listCalls int32
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headBucketErr != nil {
		return nil, f.headBucketErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if atomic.AddInt32(&f.getFailures, -1) >= 0 {
		return nil, fmt.Errorf("connection reset by peer")
	}
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	atomic.AddInt32(&f.listCalls, 1)
	if f.listErr != nil {
		return nil, f.listErr
	}

	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	var matched []string
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}
	sort.Strings(matched)

	var contents []string
	prefixSet := map[string]bool{}
	for _, key := range matched {
		rest := strings.TrimPrefix(key, prefix)
		if delim != "" {
			if idx := strings.Index(rest, delim); idx >= 0 {
				prefixSet[prefix+rest[:idx+1]] = true
				continue
			}
		}
		contents = append(contents, key)
	}

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(aws.ToString(in.ContinuationToken))
	}
	end := len(contents)
	var next *string
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
		next = aws.String(strconv.Itoa(end))
	}
	if in.MaxKeys != nil && int(*in.MaxKeys) < end-start {
		end = start + int(*in.MaxKeys)
		next = nil
	}

	out := &s3.ListObjectsV2Output{NextContinuationToken: next}
	for _, key := range contents[start:end] {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(key)})
	}
	var commons []string
	for p := range prefixSet {
		commons = append(commons, p)
	}
	sort.Strings(commons)
	for _, p := range commons {
		out.CommonPrefixes = append(out.CommonPrefixes, s3types.CommonPrefix{Prefix: aws.String(p)})
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents)))
	return out, nil
}

func testConfig() *config.Configuration {
	cfg := config.NewDefault()
	cfg.Storage.Mode = config.StorageModeS3
	cfg.Storage.S3.Bucket = "farm-imagery"
	cfg.Network.RequestTimeout = time.Second
	cfg.Network.InitialBackoff = time.Millisecond
	cfg.Network.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func testBackend(t *testing.T, fake *fakeS3) *Backend {
	t.Helper()
	b, err := NewWithClient(context.Background(), fake, testConfig(), slog.Default())
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	return b
}

func datasetFake() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{
		"farm_dataset/0/placeholder.png":             {0},
		"farm_dataset/alpha/2024/Mar_2024_05.png":    {1},
		"farm_dataset/alpha/2025/2025_6_10.png":      {2},
		"farm_dataset/alpha/raw/notes.txt":           {3},
		"farm_dataset/beta/2024/june_2024.tif":       {4},
		"farm_dataset/beta/2024/deep/nest/scan.tiff": {5},
	}}
}

func TestNewWithClientValidatesBucket(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode errors.ErrorCode
	}{
		{"bucket absent", &s3types.NotFound{}, errors.ErrCodeBucketNotFound},
		{"no such bucket", &s3types.NoSuchBucket{}, errors.ErrCodeBucketNotFound},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, errors.ErrCodeAccessDenied},
		{"credentials missing", fmt.Errorf("failed to retrieve credentials"), errors.ErrCodeCredentialsMissing},
		{"unreachable", fmt.Errorf("dial tcp: connection refused"), errors.ErrCodeConnectionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeS3{headBucketErr: tt.err}
			_, err := NewWithClient(context.Background(), fake, testConfig(), slog.Default())
			var fe *errors.Error
			if !stderr.As(err, &fe) || fe.Code != tt.wantCode {
				t.Errorf("error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestListFarms(t *testing.T) {
	b := testBackend(t, datasetFake())
	farms, err := b.ListFarms(context.Background())
	if err != nil {
		t.Fatalf("ListFarms() error = %v", err)
	}
	if want := []string{"alpha", "beta"}; !reflect.DeepEqual(farms, want) {
		t.Errorf("ListFarms() = %v, want %v (sentinel excluded, sorted)", farms, want)
	}
}

func TestListFarmsDegradesOnFailure(t *testing.T) {
	fake := datasetFake()
	b := testBackend(t, fake)
	fake.listErr = fmt.Errorf("throttled")

	farms, err := b.ListFarms(context.Background())
	if err != nil {
		t.Fatalf("ListFarms() error = %v, want degrade to empty", err)
	}
	if len(farms) != 0 {
		t.Errorf("ListFarms() = %v, want empty", farms)
	}
}

func TestListImages(t *testing.T) {
	b := testBackend(t, datasetFake())
	keys, err := b.ListImages(context.Background(), "beta")
	if err != nil {
		t.Fatalf("ListImages() error = %v", err)
	}
	want := []string{"2024/deep/nest/scan.tiff", "2024/june_2024.tif"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("ListImages() = %v, want %v", keys, want)
	}
}

func TestListImagesPaginates(t *testing.T) {
	fake := datasetFake()
	fake.pageSize = 1
	b := testBackend(t, fake)

	keys, err := b.ListImages(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("ListImages() error = %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("ListImages() = %v, want 2 image keys across pages", keys)
	}
	if atomic.LoadInt32(&fake.listCalls) < 2 {
		t.Errorf("list called %d times, want pagination", fake.listCalls)
	}
}

func TestGetImage(t *testing.T) {
	b := testBackend(t, datasetFake())
	data, err := b.GetImage(context.Background(), "alpha", "2024/Mar_2024_05.png")
	if err != nil {
		t.Fatalf("GetImage() error = %v", err)
	}
	if !bytes.Equal(data, []byte{1}) {
		t.Errorf("GetImage() = %v, want [1]", data)
	}
}

func TestGetImageNotFound(t *testing.T) {
	b := testBackend(t, datasetFake())
	_, err := b.GetImage(context.Background(), "alpha", "missing.png")
	var fe *errors.Error
	if !stderr.As(err, &fe) || fe.Code != errors.ErrCodeObjectNotFound {
		t.Errorf("error = %v, want code %s", err, errors.ErrCodeObjectNotFound)
	}
}

func TestGetImageRetriesTransient(t *testing.T) {
	fake := datasetFake()
	b := testBackend(t, fake)
	atomic.StoreInt32(&fake.getFailures, 2)

	data, err := b.GetImage(context.Background(), "alpha", "2025/2025_6_10.png")
	if err != nil {
		t.Fatalf("GetImage() error = %v, want success after retries", err)
	}
	if !bytes.Equal(data, []byte{2}) {
		t.Errorf("GetImage() = %v, want [2]", data)
	}
}

func TestGetImageRetryExhaustion(t *testing.T) {
	fake := datasetFake()
	b := testBackend(t, fake)
	atomic.StoreInt32(&fake.getFailures, 100)

	_, err := b.GetImage(context.Background(), "alpha", "2025/2025_6_10.png")
	var fe *errors.Error
	if !stderr.As(err, &fe) || fe.Code != errors.ErrCodeRetryExhausted {
		t.Errorf("error = %v, want code %s", err, errors.ErrCodeRetryExhausted)
	}
}

func TestFarmExists(t *testing.T) {
	b := testBackend(t, datasetFake())
	tests := []struct {
		farmID string
		want   bool
	}{
		{"alpha", true},
		{"ghost", false},
		{"0", false},
		{"", false},
	}
	for _, tt := range tests {
		got, err := b.FarmExists(context.Background(), tt.farmID)
		if err != nil {
			t.Fatalf("FarmExists(%q) error = %v", tt.farmID, err)
		}
		if got != tt.want {
			t.Errorf("FarmExists(%q) = %v, want %v", tt.farmID, got, tt.want)
		}
	}
}

func TestImageExists(t *testing.T) {
	b := testBackend(t, datasetFake())
	ok, err := b.ImageExists(context.Background(), "alpha", "2024/Mar_2024_05.png")
	if err != nil || !ok {
		t.Errorf("ImageExists() = %v, %v, want true", ok, err)
	}
	ok, err = b.ImageExists(context.Background(), "alpha", "2024/ghost.png")
	if err != nil || ok {
		t.Errorf("ImageExists() = %v, %v, want false", ok, err)
	}
}

func TestHealthCheck(t *testing.T) {
	fake := datasetFake()
	b := testBackend(t, fake)
	if err := b.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	fake.headBucketErr = &s3types.NotFound{}
	if err := b.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() = nil after bucket loss, want error")
	}
}

func TestNormalizePrefix(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"farm_dataset", "farm_dataset/"},
		{"farm_dataset/", "farm_dataset/"},
		{"/farm_dataset/", "farm_dataset/"},
	}
	for _, tt := range tests {
		if got := normalizePrefix(tt.in); got != tt.want {
			t.Errorf("normalizePrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewRequiresBucket(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.S3.Bucket = ""
	_, err := New(context.Background(), cfg, slog.Default())
	var fe *errors.Error
	if !stderr.As(err, &fe) || fe.Code != errors.ErrCodeMissingConfig {
		t.Errorf("error = %v, want code %s", err, errors.ErrCodeMissingConfig)
	}
}
