package provisioner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"webserverprovisioner/errors"
)

// createWebFiles lays out <root>/bucket with the given files and one sub-directory
func createWebFiles(t *testing.T, files ...string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, uploadDir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
	return root
}

func TestBucketProvisioner_Provision(t *testing.T) {
	conflict := errors.New(errors.ErrResourceConflict, "bucket already exists and is owned by you", nil, nil)
	otherOwner := errors.New(errors.ErrRemoteCall, "failed to create bucket", nil, fmt.Errorf("BucketAlreadyExists"))
	uploadErr := errors.New(errors.ErrRemoteCall, "failed to upload object", nil, fmt.Errorf("AccessDenied"))

	tests := []struct {
		name           string
		files          []string
		createErr      error
		failOn         string
		expectSuccess  bool
		expectReused   bool
		expectUploaded []string
		expectKind     errors.ErrorType
	}{
		{
			name:           "new bucket uploads every file",
			files:          []string{"index.html", "logo.png", "style.css"},
			expectSuccess:  true,
			expectUploaded: []string{"index.html", "logo.png", "style.css"},
		},
		{
			name:           "bucket owned by caller is reused",
			files:          []string{"index.html"},
			createErr:      conflict,
			expectSuccess:  true,
			expectReused:   true,
			expectUploaded: []string{"index.html"},
		},
		{
			name:       "bucket owned by another account fails without uploads",
			files:      []string{"index.html"},
			createErr:  otherOwner,
			expectKind: errors.ErrRemoteCall,
		},
		{
			name:           "failed upload stops the remaining uploads",
			files:          []string{"a.html", "b.html", "c.html", "d.html"},
			failOn:         "b.html",
			expectUploaded: []string{"a.html"},
			expectKind:     errors.ErrRemoteCall,
		},
		{
			name:           "empty directory succeeds",
			expectSuccess:  true,
			expectUploaded: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := createWebFiles(t, tt.files...)
			client := new(MockCloudClient)
			client.On("CreateBucket", mock.Anything, "webserver-assignment-bucket-brazill", "eu-west-1").Return(tt.createErr)
			client.On("AllowPublicObjects", mock.Anything, "webserver-assignment-bucket-brazill").Return(nil).Maybe()
			for _, name := range tt.files {
				var err error
				if name == tt.failOn {
					err = uploadErr
				}
				client.On("UploadObject", mock.Anything, "webserver-assignment-bucket-brazill", name,
					filepath.Join(root, uploadDir, name)).Return(err).Maybe()
			}

			p := NewBucketProvisioner(client, zaptest.NewLogger(t))
			result := p.Provision(context.Background(), "webserver-assignment-bucket-brazill", "eu-west-1", root)

			assert.Equal(t, tt.expectSuccess, result.Success())
			assert.Equal(t, tt.expectReused, result.Reused)
			assert.Equal(t, "webserver-assignment-bucket-brazill", result.Bucket)
			if tt.expectUploaded == nil {
				assert.Empty(t, result.Uploaded)
				client.AssertNotCalled(t, "UploadObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			} else {
				assert.Equal(t, tt.expectUploaded, result.Uploaded)
			}
			if tt.expectKind != "" {
				assert.Equal(t, tt.expectKind, errors.KindOf(result.Err))
			}
			if tt.failOn != "" {
				// uploads after the failing file are never attempted
				client.AssertNumberOfCalls(t, "UploadObject", len(tt.expectUploaded)+1)
			}
			client.AssertCalled(t, "CreateBucket", mock.Anything, "webserver-assignment-bucket-brazill", "eu-west-1")
			if tt.createErr == nil || tt.expectReused {
				client.AssertCalled(t, "AllowPublicObjects", mock.Anything, "webserver-assignment-bucket-brazill")
			} else {
				client.AssertNotCalled(t, "AllowPublicObjects", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestBucketProvisioner_MissingSourceDirectory(t *testing.T) {
	client := new(MockCloudClient)
	client.On("CreateBucket", mock.Anything, "site", "eu-west-1").Return(nil)
	client.On("AllowPublicObjects", mock.Anything, "site").Return(nil)

	p := NewBucketProvisioner(client, zaptest.NewLogger(t))
	result := p.Provision(context.Background(), "site", "eu-west-1", filepath.Join(t.TempDir(), "missing"))

	assert.False(t, result.Success())
	assert.True(t, errors.Is(result.Err, errors.ErrLocalIO))
	client.AssertNotCalled(t, "UploadObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBucketProvisioner_PublicAccessRefused(t *testing.T) {
	blocked := errors.New(errors.ErrRemoteCall, "failed to remove public access block", nil, fmt.Errorf("AccessDenied"))

	for _, createErr := range []error{
		nil,
		errors.New(errors.ErrResourceConflict, "bucket already exists and is owned by you", nil, nil),
	} {
		root := createWebFiles(t, "index.html")
		client := new(MockCloudClient)
		client.On("CreateBucket", mock.Anything, "site", "eu-west-1").Return(createErr)
		client.On("AllowPublicObjects", mock.Anything, "site").Return(blocked)

		p := NewBucketProvisioner(client, zaptest.NewLogger(t))
		result := p.Provision(context.Background(), "site", "eu-west-1", root)

		assert.False(t, result.Success())
		assert.Equal(t, blocked, result.Err)
		assert.Empty(t, result.Uploaded)
		client.AssertNotCalled(t, "UploadObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	}
}
