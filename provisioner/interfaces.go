package provisioner

import (
	"context"
	"time"

	"webserverprovisioner/awsd/models"
)

// BucketClient defines the object storage operations used by the bucket provisioner
type BucketClient interface {
	CreateBucket(ctx context.Context, bucketName, region string) error
	AllowPublicObjects(ctx context.Context, bucketName string) error
	UploadObject(ctx context.Context, bucketName, key, path string) error
}

// InstanceClient defines the EC2 operations used by the instance provisioner
type InstanceClient interface {
	CreateKeyPair(ctx context.Context, keyName string, tags []models.Tag) (*models.KeyPair, error)
	CreateSecurityGroup(ctx context.Context, groupName, description string, tags []models.Tag) (*models.SecurityGroup, error)
	AuthorizeIngress(ctx context.Context, groupID string, rule models.IngressRule) error
	RunInstance(ctx context.Context, spec models.LaunchSpec) (string, error)
	WaitUntilRunning(ctx context.Context, instanceID string, maxWait time.Duration) error
	DescribeInstance(ctx context.Context, instanceID string) (*models.AWSInstance, error)
}

// CloudClient is everything a full provisioning run needs; *awsd.AwsClient implements it
type CloudClient interface {
	BucketClient
	InstanceClient
}
