package provisioner

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"webserverprovisioner/errors"
)

// uploadDir is the subdirectory of the web files path whose files are uploaded
const uploadDir = "bucket"

// BucketResult is the outcome of provisioning the bucket
type BucketResult struct {
	Bucket   string
	Reused   bool
	Uploaded []string
	Err      error
}

// Success reports whether the bucket exists and every file was uploaded
func (r BucketResult) Success() bool {
	return r.Err == nil
}

// BucketProvisioner creates the website bucket and fills it with the static files
type BucketProvisioner struct {
	client BucketClient
	logger *zap.Logger
}

func NewBucketProvisioner(client BucketClient, logger *zap.Logger) *BucketProvisioner {
	return &BucketProvisioner{
		client: client,
		logger: logger.With(zap.String("component", "bucket_provisioner")),
	}
}

// Provision creates bucketName in region, or reuses it when the caller already owns it, opens it
// for public-read objects and uploads every file directly under <sourcePath>/bucket as a public-read object.
// Any other creation failure skips the upload.
func (p *BucketProvisioner) Provision(ctx context.Context, bucketName, region, sourcePath string) BucketResult {
	logger := p.logger.With(
		zap.String("function", "Provision"),
		zap.String("bucket", bucketName),
	)
	result := BucketResult{Bucket: bucketName}

	logger.Info("Creating the S3 bucket...",
		zap.String("region", region),
		zap.String("operation", "bucket_create"),
	)
	if err := p.client.CreateBucket(ctx, bucketName, region); err != nil {
		if !errors.Is(err, errors.ErrResourceConflict) {
			logger.Error("Bucket creation failed",
				zap.String("operation", "bucket_create"),
				zap.Error(err),
			)
			result.Err = err
			return result
		}
		logger.Warn("Bucket already exists but belongs to you.",
			zap.String("operation", "bucket_reuse"),
		)
		result.Reused = true
	} else {
		logger.Info("Bucket creation succeeded.",
			zap.String("operation", "bucket_create"),
		)
	}

	// a reused bucket may predate the ownership setting, so both paths reopen it
	if err := p.client.AllowPublicObjects(ctx, bucketName); err != nil {
		logger.Error("Enabling public objects failed",
			zap.String("operation", "bucket_public_access"),
			zap.Error(err),
		)
		result.Err = err
		return result
	}

	result.Uploaded, result.Err = p.fill(ctx, bucketName, sourcePath)
	return result
}

// fill uploads the files in order and stops at the first failure
func (p *BucketProvisioner) fill(ctx context.Context, bucketName, sourcePath string) ([]string, error) {
	logger := p.logger.With(
		zap.String("function", "fill"),
		zap.String("bucket", bucketName),
	)
	dir := filepath.Join(sourcePath, uploadDir)

	logger.Info("Uploading webserver files to S3 Bucket.",
		zap.String("source", dir),
		zap.String("operation", "bucket_upload"),
	)

	entries, err := os.ReadDir(dir)
	if err != nil {
		err = errors.New(errors.ErrLocalIO, "failed to list web files",
			map[string]interface{}{
				"path": dir,
			}, err)
		logger.Error("Uploading failed",
			zap.String("operation", "bucket_upload"),
			zap.Error(err),
		)
		return nil, err
	}

	uploaded := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			logger.Debug("Skipping directory",
				zap.String("name", entry.Name()),
				zap.String("operation", "bucket_upload"),
			)
			continue
		}

		if err := p.client.UploadObject(ctx, bucketName, entry.Name(), filepath.Join(dir, entry.Name())); err != nil {
			logger.Error("Uploading failed",
				zap.String("key", entry.Name()),
				zap.Int("uploaded", len(uploaded)),
				zap.String("operation", "bucket_upload"),
				zap.Error(err),
			)
			return uploaded, err
		}
		uploaded = append(uploaded, entry.Name())
	}

	logger.Info("Uploading complete.",
		zap.Int("objects", len(uploaded)),
		zap.String("operation", "bucket_upload"),
	)
	return uploaded, nil
}
