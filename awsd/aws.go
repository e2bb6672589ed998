package awsd

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"webserverprovisioner/awsd/models"
	"webserverprovisioner/configuration"
	"webserverprovisioner/errors"
)

const (
	packageName = "awsd"

	// regionWithoutLocationConstraint rejects an explicit LocationConstraint on CreateBucket
	regionWithoutLocationConstraint = "us-east-1"
)

// EC2API is the subset of the EC2 client used for provisioning
type EC2API interface {
	CreateKeyPair(ctx context.Context, params *ec2.CreateKeyPairInput, optFns ...func(*ec2.Options)) (*ec2.CreateKeyPairOutput, error)
	CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// S3API is the subset of the S3 client used for provisioning
type S3API interface {
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	PutBucketOwnershipControls(ctx context.Context, params *s3.PutBucketOwnershipControlsInput, optFns ...func(*s3.Options)) (*s3.PutBucketOwnershipControlsOutput, error)
	DeletePublicAccessBlock(ctx context.Context, params *s3.DeletePublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.DeletePublicAccessBlockOutput, error)
}

// STSAPI is the subset of the STS client used for provisioning
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

type AwsClient struct {
	ec2 EC2API
	s3  S3API
	sts STSAPI

	// waitMinDelay overrides the waiter's minimum polling delay when non-zero
	waitMinDelay time.Duration
}

func NewAWSClientWithConfig(cfg aws.Config, pathStyle bool) *AwsClient {
	return &AwsClient{
		ec2: ec2.NewFromConfig(cfg),
		s3: s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.UsePathStyle = pathStyle
		}),
		sts: sts.NewFromConfig(cfg),
	}
}

// NewAWSClient creates the EC2, S3 and STS clients for the configured region.
// Static credentials are used when an access key is configured, the default credential chain
// otherwise. A custom endpoint (e.g. LocalStack) switches S3 to path-style addressing.
func NewAWSClient(cfg *configuration.Config) (*AwsClient, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.AWSRegion),
	}
	if cfg.AcessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AcessKeyID, cfg.AccessSecret, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(context.TODO(), opts...)
	if err != nil {
		return nil, errors.New(errors.ErrAWSClient, "failed to load AWS config",
			map[string]interface{}{
				"region": cfg.AWSRegion,
			}, err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}

	return NewAWSClientWithConfig(awsCfg, cfg.EndpointURL != ""), nil
}

func remoteErr(message string, errCtx map[string]interface{}, err error) error {
	return errors.New(errors.ErrRemoteCall, message, errCtx, err)
}

// CallerAccountID returns the AWS account id of the configured credentials
func (c *AwsClient) CallerAccountID(ctx context.Context) (string, error) {
	output, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", remoteErr("failed to get caller identity", nil, err)
	}
	return aws.ToString(output.Account), nil
}

// CreateBucket creates bucketName in region. If the bucket already exists and is owned by the
// caller the returned error is of type errors.ErrResourceConflict.
func (c *AwsClient) CreateBucket(ctx context.Context, bucketName, region string) error {
	input := &s3.CreateBucketInput{
		Bucket:          aws.String(bucketName),
		ObjectOwnership: s3types.ObjectOwnershipObjectWriter,
	}
	if region != "" && region != regionWithoutLocationConstraint {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(region),
		}
	}

	_, err := c.s3.CreateBucket(ctx, input)
	if err != nil {
		errCtx := map[string]interface{}{
			"bucket": bucketName,
			"region": region,
		}
		if isBucketAlreadyOwnedByYou(err) {
			return errors.New(errors.ErrResourceConflict, "bucket already exists and is owned by you", errCtx, err)
		}
		return remoteErr("failed to create bucket", errCtx, err)
	}
	return nil
}

// AllowPublicObjects re-enables object ACLs and removes the bucket's public access block so
// public-read uploads are accepted. New buckets have both disabled by default.
func (c *AwsClient) AllowPublicObjects(ctx context.Context, bucketName string) error {
	errCtx := map[string]interface{}{
		"bucket": bucketName,
	}

	_, err := c.s3.PutBucketOwnershipControls(ctx, &s3.PutBucketOwnershipControlsInput{
		Bucket: aws.String(bucketName),
		OwnershipControls: &s3types.OwnershipControls{
			Rules: []s3types.OwnershipControlsRule{
				{ObjectOwnership: s3types.ObjectOwnershipObjectWriter},
			},
		},
	})
	if err != nil {
		return remoteErr("failed to enable object ACLs", errCtx, err)
	}

	_, err = c.s3.DeletePublicAccessBlock(ctx, &s3.DeletePublicAccessBlockInput{
		Bucket: aws.String(bucketName),
	})
	if err != nil {
		return remoteErr("failed to remove public access block", errCtx, err)
	}

	zap.L().Debug("Bucket opened for public objects",
		zap.String("package", packageName),
		zap.String("bucket", bucketName),
		zap.String("operation", "bucket_public_access"),
	)
	return nil
}

// isBucketAlreadyOwnedByYou reports whether err says the bucket exists under the caller's account.
// BucketAlreadyExists (owned by someone else) is deliberately not matched.
func isBucketAlreadyOwnedByYou(err error) bool {
	if err == nil {
		return false
	}

	var owned *s3types.BucketAlreadyOwnedByYou
	if stderrors.As(err, &owned) {
		return true
	}

	// S3-compatible services may not return the exact SDK error type
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "BucketAlreadyOwnedByYou"
	}

	return false
}

// UploadObject uploads the file at path to bucketName under key as a public-read object
func (c *AwsClient) UploadObject(ctx context.Context, bucketName, key, path string) error {
	errCtx := map[string]interface{}{
		"bucket": bucketName,
		"key":    key,
		"path":   path,
	}

	file, err := os.Open(path)
	if err != nil {
		return errors.New(errors.ErrLocalIO, "failed to open file for upload", errCtx, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return errors.New(errors.ErrLocalIO, "failed to stat file for upload", errCtx, err)
	}

	contentType, err := detectContentType(path)
	if err != nil {
		return errors.New(errors.ErrLocalIO, "failed to detect content type", errCtx, err)
	}

	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucketName),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
		ACL:           s3types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return remoteErr("failed to upload object", errCtx, err)
	}

	zap.L().Debug("Object uploaded",
		zap.String("package", packageName),
		zap.String("bucket", bucketName),
		zap.String("key", key),
		zap.String("content_type", contentType),
		zap.String("operation", "object_upload"),
	)
	return nil
}

// detectContentType prefers the file extension, since text formats such as CSS cannot be
// told apart by content, and sniffs the content otherwise.
func detectContentType(path string) (string, error) {
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt, nil
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return mtype.String(), nil
}

func toEC2Tags(tags []models.Tag) []types.Tag {
	result := make([]types.Tag, 0, len(tags))
	for _, tag := range tags {
		result = append(result, types.Tag{
			Key:   aws.String(tag.Key),
			Value: aws.String(tag.Value),
		})
	}
	return result
}

func tagSpec(resourceType types.ResourceType, tags []models.Tag) []types.TagSpecification {
	return []types.TagSpecification{
		{
			ResourceType: resourceType,
			Tags:         toEC2Tags(tags),
		},
	}
}

// CreateKeyPair creates a key pair and returns it with its private key material
func (c *AwsClient) CreateKeyPair(ctx context.Context, keyName string, tags []models.Tag) (*models.KeyPair, error) {
	output, err := c.ec2.CreateKeyPair(ctx, &ec2.CreateKeyPairInput{
		KeyName:           aws.String(keyName),
		TagSpecifications: tagSpec(types.ResourceTypeKeyPair, tags),
	})
	if err != nil {
		return nil, remoteErr("failed to create key pair",
			map[string]interface{}{
				"key_name": keyName,
			}, err)
	}

	return &models.KeyPair{
		KeyName:     aws.ToString(output.KeyName),
		KeyPairID:   aws.ToString(output.KeyPairId),
		Fingerprint: aws.ToString(output.KeyFingerprint),
		KeyMaterial: aws.ToString(output.KeyMaterial),
	}, nil
}

// CreateSecurityGroup creates an empty security group in the default VPC
func (c *AwsClient) CreateSecurityGroup(ctx context.Context, groupName, description string, tags []models.Tag) (*models.SecurityGroup, error) {
	output, err := c.ec2.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:         aws.String(groupName),
		Description:       aws.String(description),
		TagSpecifications: tagSpec(types.ResourceTypeSecurityGroup, tags),
	})
	if err != nil {
		return nil, remoteErr("failed to create security group",
			map[string]interface{}{
				"group_name": groupName,
			}, err)
	}

	return &models.SecurityGroup{
		GroupId:   aws.ToString(output.GroupId),
		GroupName: groupName,
	}, nil
}

// AuthorizeIngress adds one inbound rule to the security group
func (c *AwsClient) AuthorizeIngress(ctx context.Context, groupID string, rule models.IngressRule) error {
	ipRange := types.IpRange{
		CidrIp: aws.String(rule.CIDR),
	}
	if rule.Description != "" {
		ipRange.Description = aws.String(rule.Description)
	}

	_, err := c.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: aws.String(groupID),
		IpPermissions: []types.IpPermission{
			{
				IpProtocol: aws.String(rule.Protocol),
				FromPort:   aws.Int32(rule.FromPort),
				ToPort:     aws.Int32(rule.ToPort),
				IpRanges:   []types.IpRange{ipRange},
			},
		},
	})
	if err != nil {
		return remoteErr("failed to authorize security group ingress",
			map[string]interface{}{
				"group_id":  groupID,
				"protocol":  rule.Protocol,
				"from_port": rule.FromPort,
				"cidr":      rule.CIDR,
			}, err)
	}
	return nil
}

// RunInstance launches exactly one instance and returns its id
func (c *AwsClient) RunInstance(ctx context.Context, spec models.LaunchSpec) (string, error) {
	errCtx := map[string]interface{}{
		"image_id":      spec.ImageID,
		"instance_type": spec.InstanceType,
	}

	output, err := c.ec2.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageID),
		InstanceType: types.InstanceType(spec.InstanceType),
		KeyName:      aws.String(spec.KeyName),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		Monitoring: &types.RunInstancesMonitoringEnabled{
			Enabled: aws.Bool(spec.Monitoring),
		},
		SecurityGroupIds:                  spec.SecurityGroupIDs,
		UserData:                          aws.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData))),
		DisableApiTermination:             aws.Bool(false),
		EbsOptimized:                      aws.Bool(spec.EbsOptimized),
		InstanceInitiatedShutdownBehavior: types.ShutdownBehavior(spec.ShutdownBehavior),
		TagSpecifications:                 tagSpec(types.ResourceTypeInstance, spec.Tags),
	})
	if err != nil {
		return "", remoteErr("failed to run instance", errCtx, err)
	}
	if len(output.Instances) == 0 || output.Instances[0].InstanceId == nil {
		return "", remoteErr("run instances returned no instance", errCtx, nil)
	}

	return *output.Instances[0].InstanceId, nil
}

// WaitUntilRunning blocks until the instance reaches the running state or maxWait elapses
func (c *AwsClient) WaitUntilRunning(ctx context.Context, instanceID string, maxWait time.Duration) error {
	waiter := ec2.NewInstanceRunningWaiter(c.ec2, func(o *ec2.InstanceRunningWaiterOptions) {
		if c.waitMinDelay > 0 {
			o.MinDelay = c.waitMinDelay
		}
	})

	err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, maxWait)
	if err != nil {
		return remoteErr("instance did not reach the running state",
			map[string]interface{}{
				"instance_id": instanceID,
				"max_wait":    maxWait.String(),
			}, err)
	}
	return nil
}

// DescribeInstance fetches the current attributes of one EC2 instance
func (c *AwsClient) DescribeInstance(ctx context.Context, instanceID string) (*models.AWSInstance, error) {
	errCtx := map[string]interface{}{
		"instance_id": instanceID,
	}

	output, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, remoteErr("failed to describe instance", errCtx, err)
	}

	// Check if the instance exists in the response
	if len(output.Reservations) == 0 || len(output.Reservations[0].Instances) == 0 {
		return nil, remoteErr("no instances found", errCtx, nil)
	}

	i := output.Reservations[0].Instances[0]

	// Map tags
	tags := make(map[string]string)
	for _, tag := range i.Tags {
		if tag.Key != nil {
			tags[*tag.Key] = aws.ToString(tag.Value)
		}
	}

	instance := &models.AWSInstance{
		InstanceID:          aws.ToString(i.InstanceId),
		InstanceType:        string(i.InstanceType),
		AMI:                 aws.ToString(i.ImageId),
		PrivateIP:           aws.ToString(i.PrivateIpAddress),
		PublicIP:            aws.ToString(i.PublicIpAddress),
		PublicDnsName:       aws.ToString(i.PublicDnsName),
		KeyName:             aws.ToString(i.KeyName),
		Tags:                tags,
		PrivateDnsName:      aws.ToString(i.PrivateDnsName),
		BlockDeviceMappings: parseBlockDeviceMappings(i.BlockDeviceMappings),
		SecurityGroups:      parseSecurityGroups(i.SecurityGroups),
		NetworkInterfaces:   parseNetworkInterfaces(i.NetworkInterfaces),
	}
	if i.State != nil {
		instance.State = string(i.State.Name)
	}
	if i.LaunchTime != nil {
		instance.LaunchTime = i.LaunchTime.String()
	}

	return instance, nil
}

// Helper function to parse block device mappings
func parseBlockDeviceMappings(mappings []types.InstanceBlockDeviceMapping) []models.BlockDeviceMapping {
	result := make([]models.BlockDeviceMapping, 0)
	for _, mapping := range mappings {
		bdm := models.BlockDeviceMapping{
			DeviceName: aws.ToString(mapping.DeviceName),
		}
		if mapping.Ebs != nil {
			bdm.VolumeId = aws.ToString(mapping.Ebs.VolumeId)
		}
		result = append(result, bdm)
	}
	return result
}

// Helper function to parse security groups
func parseSecurityGroups(groups []types.GroupIdentifier) []models.SecurityGroup {
	result := make([]models.SecurityGroup, 0)
	for _, group := range groups {
		result = append(result, models.SecurityGroup{
			GroupId:   aws.ToString(group.GroupId),
			GroupName: aws.ToString(group.GroupName),
		})
	}
	return result
}

// Helper function to parse network interfaces. A public address is only present once
// the instance has been associated with one.
func parseNetworkInterfaces(interfaces []types.InstanceNetworkInterface) []models.NetworkInterface {
	result := make([]models.NetworkInterface, 0)
	for _, iface := range interfaces {
		ni := models.NetworkInterface{
			PrivateIpAddress: aws.ToString(iface.PrivateIpAddress),
		}
		if iface.Association != nil {
			ni.PublicIpAddress = aws.ToString(iface.Association.PublicIp)
		}
		result = append(result, ni)
	}
	return result
}
