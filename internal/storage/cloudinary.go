package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/admin"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"student-tracker/internal/config"
)

const (
	backendCloudinary = "cloudinary"
	// accessModePageSize is the largest page the tag listing returns.
	accessModePageSize = 500
)

// CloudinaryStore implements Store on top of the Cloudinary Admin and
// Upload APIs.
type CloudinaryStore struct {
	cld *cloudinary.Cloudinary

	mu       sync.RWMutex
	defaults map[string]DeliveryParams
}

// NewCloudinaryStore builds a client from account credentials.
func NewCloudinaryStore(cfg config.CloudinaryConfig) (*CloudinaryStore, error) {
	if !cfg.Complete() {
		return nil, ErrNotConfigured
	}
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("cloudinary client: %w", err)
	}
	return &CloudinaryStore{cld: cld, defaults: make(map[string]DeliveryParams)}, nil
}

// classifyCloudinary turns the message of an API error response into one of
// the package sentinels. Cloudinary reports failures in the response body
// rather than as Go errors, so this is the only place that reads them.
func classifyCloudinary(op, message string) error {
	if message == "" {
		return nil
	}
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "not found"):
		return &OpError{Backend: backendCloudinary, Op: op, Err: fmt.Errorf("%w: %s", ErrNotFound, message)}
	case strings.Contains(lower, "already exists"):
		return &OpError{Backend: backendCloudinary, Op: op, Err: fmt.Errorf("%w: %s", ErrAlreadyExists, message)}
	default:
		return &OpError{Backend: backendCloudinary, Op: op, Err: errors.New(message)}
	}
}

func cloudinaryErr(op string, err error) error {
	return &OpError{Backend: backendCloudinary, Op: op, Err: err}
}

func (s *CloudinaryStore) CreateNamespace(ctx context.Context, name string) error {
	res, err := s.cld.Admin.CreateFolder(ctx, admin.CreateFolderParams{Folder: name})
	if err != nil {
		return cloudinaryErr("create_folder", err)
	}
	return classifyCloudinary("create_folder", res.Error.Message)
}

func (s *CloudinaryStore) Resource(ctx context.Context, id string) (Resource, error) {
	res, err := s.cld.Admin.Asset(ctx, admin.AssetParams{PublicID: id})
	if err != nil {
		return Resource{}, cloudinaryErr("asset", err)
	}
	if err := classifyCloudinary("asset", res.Error.Message); err != nil {
		return Resource{}, err
	}
	return Resource{PublicID: res.PublicID, SecureURL: res.SecureURL, Format: res.Format}, nil
}

func (s *CloudinaryStore) Upload(ctx context.Context, dataURI string, opts UploadOptions) (Resource, error) {
	overwrite := opts.Overwrite
	params := uploader.UploadParams{
		PublicID:  opts.PublicID,
		Folder:    opts.Namespace,
		Overwrite: &overwrite,
		Tags:      opts.Tags,
	}
	if opts.Kind != "" {
		params.ResourceType = string(opts.Kind)
	}
	if kind := opts.deliveryKind(dataURIMimeType(dataURI)); kind != "" {
		s.mu.RLock()
		p, ok := s.defaults[kind]
		s.mu.RUnlock()
		if ok {
			params.Transformation = p.Transformation()
		}
	}

	res, err := s.cld.Upload.Upload(ctx, dataURI, params)
	if err != nil {
		return Resource{}, cloudinaryErr("upload", err)
	}
	if err := classifyCloudinary("upload", res.Error.Message); err != nil {
		return Resource{}, err
	}
	return Resource{PublicID: res.PublicID, SecureURL: res.SecureURL, Format: res.Format}, nil
}

// SetAccessMode applies an access control rule to every asset of kind
// carrying tag, one page of the tag listing at a time.
func (s *CloudinaryStore) SetAccessMode(ctx context.Context, mode AccessMode, tag string, kind ResourceKind) error {
	rule := api.AccessControl{{AccessType: api.Token}}
	if mode == AccessPublic {
		rule = api.AccessControl{{AccessType: api.Anonymous}}
	}
	assetType := api.AssetType(kind)

	cursor := ""
	for {
		page, err := s.cld.Admin.AssetsByTag(ctx, admin.AssetsByTagParams{
			AssetType:  assetType,
			Tag:        tag,
			NextCursor: cursor,
			MaxResults: accessModePageSize,
		})
		if err != nil {
			return cloudinaryErr("assets_by_tag", err)
		}
		if err := classifyCloudinary("assets_by_tag", page.Error.Message); err != nil {
			return err
		}

		for _, a := range page.Assets {
			res, err := s.cld.Admin.UpdateAsset(ctx, admin.UpdateAssetParams{
				AssetType:     assetType,
				DeliveryType:  api.DeliveryType(a.Type),
				PublicID:      a.PublicID,
				AccessControl: rule,
			})
			if err != nil {
				return cloudinaryErr("update_asset", err)
			}
			if err := classifyCloudinary("update_asset", res.Error.Message); err != nil {
				return err
			}
		}

		if page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}

// SetDefaultDelivery keeps params locally; the SDK has no account-wide
// default, so Upload applies them as an incoming transformation.
func (s *CloudinaryStore) SetDefaultDelivery(_ context.Context, kind string, params DeliveryParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[kind] = params
	return nil
}

func (s *CloudinaryStore) Ping(ctx context.Context) error {
	res, err := s.cld.Admin.Ping(ctx)
	if err != nil {
		return cloudinaryErr("ping", err)
	}
	return classifyCloudinary("ping", res.Error.Message)
}
