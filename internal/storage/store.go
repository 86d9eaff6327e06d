// Package storage talks to the remote asset store (Cloudinary or an
// S3-compatible MinIO bucket), provisions the resources the service expects
// at startup, and builds the URLs the frontend uses to display assets.
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when a resource lookup finds nothing.
	ErrNotFound = errors.New("storage: resource not found")
	// ErrAlreadyExists is returned when creating something that is already there.
	ErrAlreadyExists = errors.New("storage: already exists")
	// ErrNotConfigured is returned when a backend is missing credentials.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// ResourceKind is the delivery category of a stored asset.
type ResourceKind string

const (
	KindImage ResourceKind = "image"
	KindRaw   ResourceKind = "raw"
)

// AccessMode controls who can read delivered assets.
type AccessMode string

const (
	AccessPublic        AccessMode = "public"
	AccessAuthenticated AccessMode = "authenticated"
)

// Resource describes an asset held by the store.
type Resource struct {
	PublicID  string
	SecureURL string
	Format    string
}

// UploadOptions controls where and how an upload is stored.
type UploadOptions struct {
	Namespace string
	PublicID  string
	Overwrite bool
	Tags      []string
	Kind      ResourceKind
	// DeliveryKind selects default delivery parameters registered with
	// SetDefaultDelivery, e.g. "pdf". Empty means derive it from the
	// payload MIME type.
	DeliveryKind string
}

// ID returns the full identifier the upload is stored under.
func (o UploadOptions) ID() string {
	if o.Namespace == "" {
		return o.PublicID
	}
	return path.Join(o.Namespace, o.PublicID)
}

// DeliveryParams are applied to every future upload of a delivery kind.
type DeliveryParams struct {
	Flags   string
	Format  string
	Quality string
}

// Transformation renders the params in Cloudinary transformation syntax.
func (p DeliveryParams) Transformation() string {
	var parts []string
	if p.Flags != "" {
		parts = append(parts, "fl_"+p.Flags)
	}
	if p.Format != "" {
		parts = append(parts, "f_"+p.Format)
	}
	if p.Quality != "" {
		parts = append(parts, "q_"+p.Quality)
	}
	return strings.Join(parts, ",")
}

// DeliveryKindFor maps a MIME type to the delivery kind used for defaults.
func DeliveryKindFor(mimeType string) string {
	if mimeType == MimePDF {
		return "pdf"
	}
	return ""
}

// deliveryKind is the kind an upload is delivered as: the one the caller
// asked for, or the one implied by the payload MIME type.
func (o UploadOptions) deliveryKind(mimeType string) string {
	if o.DeliveryKind != "" {
		return o.DeliveryKind
	}
	return DeliveryKindFor(mimeType)
}

// dataURIMimeType returns the MIME type of a data URI without decoding the
// payload.
func dataURIMimeType(uri string) string {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return ""
	}
	meta, _, _ := strings.Cut(rest, ",")
	mimeType, _, _ := strings.Cut(meta, ";")
	return mimeType
}

// Store is the remote object-storage API the backend depends on. Adapters
// translate their wire-level failures into ErrNotFound / ErrAlreadyExists
// or an *OpError so callers never inspect backend-specific error shapes.
type Store interface {
	CreateNamespace(ctx context.Context, name string) error
	Resource(ctx context.Context, id string) (Resource, error)
	Upload(ctx context.Context, dataURI string, opts UploadOptions) (Resource, error)
	SetAccessMode(ctx context.Context, mode AccessMode, tag string, kind ResourceKind) error
	SetDefaultDelivery(ctx context.Context, kind string, params DeliveryParams) error
	Ping(ctx context.Context) error
}

// OpError records a failed store operation.
type OpError struct {
	Backend string
	Op      string
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// EncodeDataURI returns data as a base64 data URI of the given MIME type.
func EncodeDataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI parses a base64 data URI produced by EncodeDataURI.
func DecodeDataURI(uri string) (mimeType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, errors.New("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errors.New("data URI missing payload")
	}
	mimeType, ok = strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, errors.New("only base64 data URIs are supported")
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URI: %w", err)
	}
	return mimeType, data, nil
}
