package provisioner

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"webserverprovisioner/awsd/models"
)

// MockCloudClient is a mock implementation of CloudClient
type MockCloudClient struct {
	mock.Mock
}

func (m *MockCloudClient) CreateBucket(ctx context.Context, bucketName, region string) error {
	args := m.Called(ctx, bucketName, region)
	return args.Error(0)
}

func (m *MockCloudClient) AllowPublicObjects(ctx context.Context, bucketName string) error {
	args := m.Called(ctx, bucketName)
	return args.Error(0)
}

func (m *MockCloudClient) UploadObject(ctx context.Context, bucketName, key, path string) error {
	args := m.Called(ctx, bucketName, key, path)
	return args.Error(0)
}

func (m *MockCloudClient) CreateKeyPair(ctx context.Context, keyName string, tags []models.Tag) (*models.KeyPair, error) {
	args := m.Called(ctx, keyName, tags)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.KeyPair), args.Error(1)
}

func (m *MockCloudClient) CreateSecurityGroup(ctx context.Context, groupName, description string, tags []models.Tag) (*models.SecurityGroup, error) {
	args := m.Called(ctx, groupName, description, tags)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SecurityGroup), args.Error(1)
}

func (m *MockCloudClient) AuthorizeIngress(ctx context.Context, groupID string, rule models.IngressRule) error {
	args := m.Called(ctx, groupID, rule)
	return args.Error(0)
}

func (m *MockCloudClient) RunInstance(ctx context.Context, spec models.LaunchSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

func (m *MockCloudClient) WaitUntilRunning(ctx context.Context, instanceID string, maxWait time.Duration) error {
	args := m.Called(ctx, instanceID, maxWait)
	return args.Error(0)
}

func (m *MockCloudClient) DescribeInstance(ctx context.Context, instanceID string) (*models.AWSInstance, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AWSInstance), args.Error(1)
}
