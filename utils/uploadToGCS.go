package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// GCS_CREDENTIALS_JSON is for local runs.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// UploadBytesToGCS writes data to objectName and returns its public URL.
func UploadBytesToGCS(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	bucketName := GetStorageBucket()
	if bucketName == "" {
		return "", errors.New("GCS_BUCKET is required")
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return "", err
	}
	defer client.Close()

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType
	wc.CacheControl = imageCacheControl

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("failed to upload bytes to Google Cloud Storage: %w", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}
	return BuildObjectAccessURL(objectName), nil
}

// DeleteObjectFromGCS removes objectName; a missing object is not an error.
func DeleteObjectFromGCS(ctx context.Context, objectName string) error {
	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	err = client.Bucket(GetStorageBucket()).Object(objectName).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

// ReadObjectFromGCS downloads a (small) object, used to build thumbnails of signed uploads.
func ReadObjectFromGCS(ctx context.Context, objectName string, maxBytes int64) ([]byte, string, error) {
	client, err := getGoogleClient(ctx)
	if err != nil {
		return nil, "", err
	}
	defer client.Close()

	r, err := client.Bucket(GetStorageBucket()).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, "", err
	}
	defer r.Close()
	if r.Attrs.Size > maxBytes {
		return nil, "", fmt.Errorf("object %q exceeds %d bytes", objectName, maxBytes)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes))
	if err != nil {
		return nil, "", err
	}
	return data, r.Attrs.ContentType, nil
}
