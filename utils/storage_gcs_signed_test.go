package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeySignerFromEnv(t *testing.T) {
	t.Setenv("GCS_CREDENTIALS_JSON", `{"client_email":"up@shop.iam.gserviceaccount.com","private_key":"-----BEGIN-----\nabc\n-----END-----"}`)
	s, err := keySignerFromEnv()
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "up@shop.iam.gserviceaccount.com", s.accessID)
	assert.Equal(t, "-----BEGIN-----\nabc\n-----END-----", string(s.privateKey))

	t.Setenv("GCS_CREDENTIALS_JSON", `{"client_email":""}`)
	_, err = keySignerFromEnv()
	assert.Error(t, err)

	t.Setenv("GCS_CREDENTIALS_JSON", "")
	t.Setenv("GCS_SIGNER_EMAIL", "")
	t.Setenv("GCS_SIGNER_PRIVATE_KEY", "")
	s, err = keySignerFromEnv()
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSignUploadRejectsBeforeSigning(t *testing.T) {
	t.Setenv("STORAGE_PROVIDER", "s3")
	_, err := SignUpload(context.Background(), "products/a.jpg", "image/jpeg", time.Minute)
	assert.ErrorContains(t, err, "not supported")

	t.Setenv("STORAGE_PROVIDER", "")
	_, err = SignUpload(context.Background(), "products/a.gif", "image/gif", time.Minute)
	assert.ErrorContains(t, err, "unsupported image type")

	t.Setenv("GCS_BUCKET", "")
	_, err = SignUpload(context.Background(), "products/a.jpg", "image/jpeg", time.Minute)
	assert.ErrorContains(t, err, "GCS_BUCKET")
}
