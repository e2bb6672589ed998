package provisioner

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"webserverprovisioner/profile"
)

// Plan is everything one provisioning run creates
type Plan struct {
	BucketName   string
	Region       string
	WebFilesPath string
	Instance     InstanceRequest
}

// Report collects the outcome of both provisioning units
type Report struct {
	Bucket   BucketResult
	Instance InstanceResult
}

// Success reports whether both the bucket and the instance were provisioned
func (r Report) Success() bool {
	return r.Bucket.Success() && r.Instance.Success()
}

// Service runs the bucket and instance provisioners side by side
type Service struct {
	buckets   *BucketProvisioner
	instances *InstanceProvisioner
	logger    *zap.Logger
}

func NewService(client CloudClient, session Session, prof *profile.Profile, keyDir string, waitTimeout time.Duration, logger *zap.Logger) *Service {
	return &Service{
		buckets:   NewBucketProvisioner(client, logger),
		instances: NewInstanceProvisioner(client, session, prof, keyDir, waitTimeout, logger),
		logger:    logger,
	}
}

// Run provisions the bucket and the instance concurrently and returns once both are done.
// A failure in one unit never stops the other.
func (s *Service) Run(ctx context.Context, plan Plan) Report {
	var report Report
	var g errgroup.Group

	s.logger.Info("Starting provisioning",
		zap.String("bucket", plan.BucketName),
		zap.String("instance_name", plan.Instance.InstanceName),
		zap.String("operation", "provision_start"),
	)

	// no derived context: one unit failing must not cancel the other
	g.Go(func() error {
		report.Instance = s.instances.Provision(ctx, plan.Instance)
		return report.Instance.Err
	})
	g.Go(func() error {
		report.Bucket = s.buckets.Provision(ctx, plan.BucketName, plan.Region, plan.WebFilesPath)
		return report.Bucket.Err
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("A provisioning unit failed",
			zap.String("operation", "provision_wait"),
			zap.Error(err),
		)
	}

	s.logger.Info("Provisioning finished",
		zap.Bool("bucket_ok", report.Bucket.Success()),
		zap.Bool("bucket_reused", report.Bucket.Reused),
		zap.Int("objects_uploaded", len(report.Bucket.Uploaded)),
		zap.Bool("instance_ok", report.Instance.Success()),
		zap.String("instance_id", report.Instance.InstanceID),
		zap.String("operation", "provision_complete"),
	)
	return report
}
