package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/policy"
	"github.com/minio/minio-go/v7/pkg/set"

	"student-tracker/internal/config"
)

const (
	backendMinio  = "minio"
	policyVersion = "2012-10-17"
)

var (
	_ Store = (*MinioStore)(nil)
	_ Store = (*CloudinaryStore)(nil)
)

// MinioStore implements Store on an S3-compatible bucket. Namespaces are
// key prefixes, tags are object tags, and public access is a bucket policy
// on the tagged prefix.
type MinioStore struct {
	client *minio.Client
	bucket string

	mu       sync.RWMutex
	defaults map[string]DeliveryParams
}

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	// host:port without a scheme is treated as plain HTTP (local MinIO).
	return raw, false, nil
}

// NewMinioStore connects to the bucket and checks that it exists.
func NewMinioStore(ctx context.Context, cfg config.MinioConfig) (*MinioStore, error) {
	if !cfg.Complete() {
		return nil, ErrNotConfigured
	}

	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("minio bucket does not exist: %s", cfg.Bucket)
	}

	return &MinioStore{client: client, bucket: cfg.Bucket, defaults: make(map[string]DeliveryParams)}, nil
}

// classifyMinio maps S3 error codes onto the package sentinels.
func classifyMinio(op string, err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		err = fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return &OpError{Backend: backendMinio, Op: op, Err: err}
}

// CreateNamespace writes a zero-byte folder marker; rewriting it is harmless.
func (s *MinioStore) CreateNamespace(ctx context.Context, name string) error {
	key := strings.TrimSuffix(name, "/") + "/"
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(nil), 0, minio.PutObjectOptions{})
	return classifyMinio("create_namespace", err)
}

func (s *MinioStore) Resource(ctx context.Context, id string) (Resource, error) {
	info, err := s.client.StatObject(ctx, s.bucket, id, minio.StatObjectOptions{})
	if err != nil {
		return Resource{}, classifyMinio("stat", err)
	}
	return Resource{PublicID: id, SecureURL: s.objectURL(id), Format: formatFromContentType(info.ContentType)}, nil
}

func (s *MinioStore) Upload(ctx context.Context, dataURI string, opts UploadOptions) (Resource, error) {
	contentType, data, err := DecodeDataURI(dataURI)
	if err != nil {
		return Resource{}, &OpError{Backend: backendMinio, Op: "upload", Err: err}
	}

	key := opts.ID()
	if !opts.Overwrite {
		_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
		if err == nil {
			return Resource{}, &OpError{Backend: backendMinio, Op: "upload", Err: ErrAlreadyExists}
		}
		if cerr := classifyMinio("stat", err); !errors.Is(cerr, ErrNotFound) {
			return Resource{}, cerr
		}
	}

	putOpts := minio.PutObjectOptions{ContentType: contentType}
	if len(opts.Tags) > 0 {
		putOpts.UserTags = make(map[string]string, len(opts.Tags))
		for _, t := range opts.Tags {
			putOpts.UserTags[t] = "true"
		}
	}
	if kind := opts.deliveryKind(contentType); kind != "" {
		s.mu.RLock()
		p, ok := s.defaults[kind]
		s.mu.RUnlock()
		if ok && p.Flags == "attachment" {
			putOpts.ContentDisposition = "attachment"
		}
	}

	if _, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), putOpts); err != nil {
		return Resource{}, classifyMinio("upload", err)
	}
	return Resource{PublicID: key, SecureURL: s.objectURL(key), Format: formatFromContentType(contentType)}, nil
}

// SetAccessMode grants or revokes anonymous reads on the namespace named by
// tag. Only the statement for that namespace changes; the rest of the
// bucket policy is kept. S3 policies cannot select by resource kind, so
// kind is not used.
func (s *MinioStore) SetAccessMode(ctx context.Context, mode AccessMode, tag string, _ ResourceKind) error {
	current, err := s.client.GetBucketPolicy(ctx, s.bucket)
	if err != nil {
		return classifyMinio("get_bucket_policy", err)
	}
	merged, err := mergePublicRead(current, s.bucket, tag, mode == AccessPublic)
	if err != nil {
		return &OpError{Backend: backendMinio, Op: "get_bucket_policy", Err: err}
	}
	if merged == "" && current == "" {
		return nil
	}
	return classifyMinio("set_bucket_policy", s.client.SetBucketPolicy(ctx, s.bucket, merged))
}

func (s *MinioStore) SetDefaultDelivery(_ context.Context, kind string, params DeliveryParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[kind] = params
	return nil
}

func (s *MinioStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return classifyMinio("bucket_exists", err)
	}
	if !exists {
		return &OpError{Backend: backendMinio, Op: "bucket_exists", Err: ErrNotFound}
	}
	return nil
}

func (s *MinioStore) objectURL(key string) string {
	u := *s.client.EndpointURL()
	u.Path = "/" + s.bucket + "/" + key
	return u.String()
}

// publicReadSid names the statement SetAccessMode owns for prefix. Sids
// are limited to ASCII letters and digits.
func publicReadSid(prefix string) string {
	return "PublicRead" + strings.Map(func(r rune) rune {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			return r
		}
		return -1
	}, prefix)
}

func publicReadStatement(bucket, prefix string) policy.Statement {
	prefix = strings.Trim(prefix, "/")
	return policy.Statement{
		Sid:       publicReadSid(prefix),
		Effect:    "Allow",
		Principal: policy.User{AWS: set.CreateStringSet("*")},
		Actions:   set.CreateStringSet("s3:GetObject"),
		Resources: set.CreateStringSet("arn:aws:s3:::" + bucket + "/" + prefix + "/*"),
	}
}

// bucketPolicyDoc keeps statements raw so ones written by other tools
// survive a rewrite unchanged.
type bucketPolicyDoc struct {
	Version   string            `json:"Version"`
	Statement []json.RawMessage `json:"Statement"`
}

// mergePublicRead returns current with the public read statement for prefix
// added or removed. An empty result means the bucket needs no policy.
func mergePublicRead(current, bucket, prefix string, public bool) (string, error) {
	doc := bucketPolicyDoc{Version: policyVersion}
	if strings.TrimSpace(current) != "" {
		if err := json.Unmarshal([]byte(current), &doc); err != nil {
			return "", fmt.Errorf("parse bucket policy: %w", err)
		}
	}

	ours := publicReadStatement(bucket, prefix)
	kept := make([]json.RawMessage, 0, len(doc.Statement)+1)
	for _, raw := range doc.Statement {
		var st struct{ Sid string }
		if json.Unmarshal(raw, &st) == nil && st.Sid == ours.Sid {
			continue
		}
		kept = append(kept, raw)
	}
	if public {
		raw, err := json.Marshal(ours)
		if err != nil {
			return "", err
		}
		kept = append(kept, raw)
	}
	if len(kept) == 0 {
		return "", nil
	}

	doc.Statement = kept
	if doc.Version == "" {
		doc.Version = policyVersion
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func formatFromContentType(ct string) string {
	_, sub, ok := strings.Cut(ct, "/")
	if !ok {
		return ""
	}
	sub, _, _ = strings.Cut(sub, ";")
	sub, _, _ = strings.Cut(sub, "+")
	return sub
}
