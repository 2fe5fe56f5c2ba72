package gcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri    string
		bucket string
		object string
		ok     bool
	}{
		{"gs://bucket/folder/file.pdf", "bucket", "folder/file.pdf", true},
		{"gs://bucket/statements/", "bucket", "statements/", true},
		{"gs://bucket", "bucket", "", true},
		{"gs://", "", "", false},
		{"/tmp/file.pdf", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseURI(tt.uri)
			if !tt.ok {
				require.ErrorIs(t, err, ErrInvalidURI)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.object, object)
		})
	}
}

func TestFilenameFromURI(t *testing.T) {
	assert.Equal(t, "file.pdf", FilenameFromURI("gs://bucket/folder/file.pdf"))
	assert.Equal(t, "file.pdf", FilenameFromURI("gs://bucket/file.pdf"))
	assert.Equal(t, "bucket", FilenameFromURI("gs://bucket"))
	assert.True(t, IsURI("gs://b/o"))
	assert.False(t, IsURI("b/o"))
}
