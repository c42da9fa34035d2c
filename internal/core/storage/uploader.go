package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"capture/internal/config"
	"capture/internal/logger"
)

// ErrNotConfigured is returned when an upload is requested but no object
// storage provider has credentials. Checked lazily at upload time, not at
// startup, so a capture-only deployment needs no storage at all.
var ErrNotConfigured = errors.New("no object storage provider configured: set SPACES_ENDPOINT/SPACES_KEY/SPACES_SECRET or AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY")

// UploadError carries the remote backend's response so callers see exactly
// why the store rejected the object.
type UploadError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s upload failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

type UploadInput struct {
	Bucket      string
	Path        string
	Filename    string
	ContentType string
	ACL         string
}

type UploadResult struct {
	URL      string `json:"url"`
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	Size     int    `json:"size"`
	Provider string `json:"provider"`
}

type provider struct {
	name      string
	endpoint  string // host without scheme, empty for classic S3
	region    string
	accessKey string
	secretKey string
	bucket    string
	publicURL string
}

// Uploader PUTs artifacts to an S3-compatible bucket with hand-signed
// requests. Provider precedence: endpoint-based provider first, classic S3
// second.
type Uploader struct {
	log        *logger.Logger
	httpClient *http.Client
	primary    *provider
	secondary  *provider
	now        func() time.Time
}

func New(cfg config.Config) *Uploader {
	u := &Uploader{
		log:        logger.New("StorageUploader"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		now:        time.Now,
	}
	if cfg.SpacesEndpoint != "" && cfg.SpacesKey != "" && cfg.SpacesSecret != "" {
		u.primary = &provider{
			name:      "spaces",
			endpoint:  strings.TrimPrefix(strings.TrimPrefix(cfg.SpacesEndpoint, "https://"), "http://"),
			region:    cfg.SpacesRegion,
			accessKey: cfg.SpacesKey,
			secretKey: cfg.SpacesSecret,
			bucket:    cfg.SpacesBucket,
			publicURL: cfg.SpacesPublicURL,
		}
	}
	if cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" {
		u.secondary = &provider{
			name:      "s3",
			region:    cfg.AWSRegion,
			accessKey: cfg.AWSAccessKey,
			secretKey: cfg.AWSSecretKey,
			bucket:    cfg.AWSBucket,
		}
	}
	return u
}

// Configured reports whether any provider has credentials.
func (u *Uploader) Configured() bool { return u.primary != nil || u.secondary != nil }

func (u *Uploader) pick() (*provider, error) {
	if u.primary != nil {
		return u.primary, nil
	}
	if u.secondary != nil {
		return u.secondary, nil
	}
	return nil, ErrNotConfigured
}

// Upload PUTs data and returns the object's addressable URL. No internal
// retries: callers retry the whole capture operation.
func (u *Uploader) Upload(ctx context.Context, data []byte, in UploadInput) (*UploadResult, error) {
	p, err := u.pick()
	if err != nil {
		return nil, err
	}

	bucket := in.Bucket
	if bucket == "" {
		bucket = p.bucket
	}
	if bucket == "" {
		return nil, fmt.Errorf("no bucket configured for provider %s", p.name)
	}

	key := objectKey(in, u.now())
	endpoint := p.objectURL(bucket, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	payloadHash := hexSHA256(data)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	if in.ACL != "" {
		req.Header.Set("x-amz-acl", in.ACL)
	}
	signV4(req, payloadHash, p.accessKey, p.secretKey, p.region, "s3", u.now())

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload to %s: %w", p.name, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UploadError{Provider: p.name, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	u.log.LogInfof("uploaded %d bytes to %s/%s via %s", len(data), bucket, key, p.name)
	return &UploadResult{
		URL:      p.resolveURL(bucket, key),
		Bucket:   bucket,
		Key:      key,
		Size:     len(data),
		Provider: p.name,
	}, nil
}

func (p *provider) objectURL(bucket, key string) string {
	if p.endpoint != "" {
		return "https://" + bucket + "." + p.endpoint + "/" + key
	}
	return "https://" + bucket + ".s3." + p.region + ".amazonaws.com/" + key
}

func (p *provider) resolveURL(bucket, key string) string {
	if p.publicURL != "" {
		return strings.TrimRight(p.publicURL, "/") + "/" + key
	}
	return p.objectURL(bucket, key)
}

// objectKey builds {path}/{filename-or-generated}.{ext}. Generated names are
// a timestamp plus a random hex suffix; the extension comes from the content
// type.
func objectKey(in UploadInput, now time.Time) string {
	base := strings.Trim(in.Path, "/")
	if base == "" {
		base = "captures"
	}
	name := in.Filename
	if name == "" {
		suffix := make([]byte, 4)
		_, _ = rand.Read(suffix)
		name = now.UTC().Format("20060102T150405") + "_" + hex.EncodeToString(suffix)
	}
	return base + "/" + name + "." + extensionFor(in.ContentType)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "application/pdf":
		return "pdf"
	default:
		return "png"
	}
}
