package utils

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/compute/metadata"
	"cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iamcredentials/v1"
	"google.golang.org/api/option"
)

const imageCacheControl = "public, max-age=86400"

// ImageContentTypes lists the product image types we accept, with their file extension.
var ImageContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
}

type SignedUpload struct {
	UploadURL string            `json:"uploadUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ObjectKey string            `json:"objectKey"`
	AccessURL string            `json:"accessUrl"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// urlSigner holds either a private key or a remote SignBlob call.
type urlSigner struct {
	accessID   string
	privateKey []byte
	signBytes  func([]byte) ([]byte, error)
}

func (s *urlSigner) apply(opts *storage.SignedURLOptions) {
	opts.GoogleAccessID = s.accessID
	if len(s.privateKey) > 0 {
		opts.PrivateKey = s.privateKey
		return
	}
	opts.SignBytes = s.signBytes
}

var (
	signerMu     sync.Mutex
	cachedSigner *urlSigner
)

// resolveSigner keeps the first signer that resolves; failures are retried on the next call.
func resolveSigner(ctx context.Context) (*urlSigner, error) {
	signerMu.Lock()
	defer signerMu.Unlock()
	if cachedSigner != nil {
		return cachedSigner, nil
	}

	s, err := keySignerFromEnv()
	if err != nil {
		return nil, err
	}
	if s == nil {
		if s, err = iamBlobSigner(ctx); err != nil {
			return nil, err
		}
	}
	cachedSigner = s
	return s, nil
}

// SignUpload returns a V4 PUT URL so the admin browser can upload a product image directly.
func SignUpload(ctx context.Context, objectKey, contentType string, expires time.Duration) (*SignedUpload, error) {
	if provider := GetStorageProvider(); provider != StorageProviderGCS {
		return nil, fmt.Errorf("storage provider %q is not supported for signed uploads", provider)
	}
	if _, ok := ImageContentTypes[contentType]; !ok {
		return nil, fmt.Errorf("unsupported image type %q", contentType)
	}
	bucket := GetStorageBucket()
	if bucket == "" {
		return nil, errors.New("GCS_BUCKET is required")
	}

	signer, err := resolveSigner(ctx)
	if err != nil {
		return nil, err
	}
	opts := &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      "PUT",
		Expires:     time.Now().Add(expires),
		ContentType: contentType,
		Headers:     []string{"Cache-Control:" + imageCacheControl},
	}
	signer.apply(opts)

	uploadURL, err := storage.SignedURL(bucket, objectKey, opts)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", objectKey, err)
	}
	return &SignedUpload{
		UploadURL: uploadURL,
		Method:    opts.Method,
		Headers:   map[string]string{"Content-Type": contentType, "Cache-Control": imageCacheControl},
		ObjectKey: objectKey,
		AccessURL: BuildObjectAccessURL(objectKey),
		ExpiresAt: opts.Expires,
	}, nil
}

// keySignerFromEnv reads a service account key from GCS_CREDENTIALS_JSON or the
// GCS_SIGNER_EMAIL/GCS_SIGNER_PRIVATE_KEY pair. nil, nil means neither is set.
func keySignerFromEnv() (*urlSigner, error) {
	if raw := strings.TrimSpace(os.Getenv("GCS_CREDENTIALS_JSON")); raw != "" {
		var key struct {
			ClientEmail string `json:"client_email"`
			PrivateKey  string `json:"private_key"`
		}
		if err := json.Unmarshal([]byte(raw), &key); err != nil {
			return nil, fmt.Errorf("invalid GCS_CREDENTIALS_JSON: %w", err)
		}
		if key.ClientEmail == "" || key.PrivateKey == "" {
			return nil, errors.New("GCS_CREDENTIALS_JSON missing client_email or private_key")
		}
		return &urlSigner{accessID: key.ClientEmail, privateKey: pemBytes(key.PrivateKey)}, nil
	}

	email := strings.TrimSpace(os.Getenv("GCS_SIGNER_EMAIL"))
	pem := strings.TrimSpace(os.Getenv("GCS_SIGNER_PRIVATE_KEY"))
	if email == "" || pem == "" {
		return nil, nil
	}
	return &urlSigner{accessID: email, privateKey: pemBytes(pem)}, nil
}

// env vars usually carry the key with escaped newlines
func pemBytes(key string) []byte {
	return []byte(strings.ReplaceAll(key, `\n`, "\n"))
}

func signerEmail() (string, error) {
	if email := strings.TrimSpace(os.Getenv("GCS_SIGNER_EMAIL")); email != "" {
		return email, nil
	}
	if !metadata.OnGCE() {
		return "", errors.New("GCS_SIGNER_EMAIL is required when no private key is provided")
	}
	email, err := metadata.Email("default")
	if err != nil {
		return "", fmt.Errorf("failed to get default service account email: %w", err)
	}
	return email, nil
}

// iamBlobSigner signs through the IAM credentials API with the runtime service account.
func iamBlobSigner(ctx context.Context) (*urlSigner, error) {
	email, err := signerEmail()
	if err != nil {
		return nil, err
	}
	creds, err := google.FindDefaultCredentials(ctx, iamcredentials.CloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("failed to load ADC credentials: %w", err)
	}
	svc, err := iamcredentials.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create iamcredentials service: %w", err)
	}

	name := "projects/-/serviceAccounts/" + email
	return &urlSigner{
		accessID: email,
		signBytes: func(payload []byte) ([]byte, error) {
			resp, err := svc.Projects.ServiceAccounts.SignBlob(name, &iamcredentials.SignBlobRequest{
				Payload: base64.StdEncoding.EncodeToString(payload),
			}).Do()
			if err != nil {
				return nil, err
			}
			return base64.StdEncoding.DecodeString(resp.SignedBlob)
		},
	}, nil
}
