package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMinioClient(t *testing.T) {
	t.Run("requires endpoint", func(t *testing.T) {
		_, err := NewMinioClient(MinioConfig{Bucket: "planet"})
		assert.Error(t, err)
	})

	t.Run("requires bucket", func(t *testing.T) {
		_, err := NewMinioClient(MinioConfig{Endpoint: "s3.example.org"})
		assert.Error(t, err)
	})

	t.Run("accepts scheme in endpoint", func(t *testing.T) {
		c, err := NewMinioClient(MinioConfig{
			Endpoint:  "https://s3.example.org/",
			AccessKey: "key",
			SecretKey: "secret",
			Bucket:    "planet",
			UseSSL:    true,
		})
		require.NoError(t, err)
		assert.Equal(t, "planet", c.bucket)
		assert.Equal(t, "s3.example.org", c.client.EndpointURL().Host)
	})

	t.Run("anonymous access", func(t *testing.T) {
		_, err := NewMinioClient(MinioConfig{Endpoint: "s3.example.org", Bucket: "planet"})
		assert.NoError(t, err)
	})
}
