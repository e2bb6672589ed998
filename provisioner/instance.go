package provisioner

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"webserverprovisioner/awsd/models"
	"webserverprovisioner/errors"
	"webserverprovisioner/profile"
)

// Instance provisioning steps, in execution order
const (
	StepKeyPair       = "key_pair"
	StepSecurityGroup = "security_group"
	StepInstance      = "instance"
)

// InstanceRequest names the resources to create for the web server
type InstanceRequest struct {
	InstanceName      string
	KeyName           string
	SecurityGroupName string
	StartupScript     string
}

// InstanceResult is the outcome of provisioning the web server instance.
// Fields are filled in as steps complete, so a failed result still names what was created.
type InstanceResult struct {
	KeyName         string
	KeyFile         string
	SecurityGroupID string
	InstanceID      string
	Instance        *models.AWSInstance
	Drift           []string
	FailedStep      string
	Err             error
}

// Success reports whether the instance was launched and reached the running state
func (r InstanceResult) Success() bool {
	return r.Err == nil
}

// InstanceProvisioner creates the key pair, security group and instance of the web server
type InstanceProvisioner struct {
	client      InstanceClient
	session     Session
	profile     *profile.Profile
	keyDir      string
	waitTimeout time.Duration
	logger      *zap.Logger
}

func NewInstanceProvisioner(client InstanceClient, session Session, prof *profile.Profile, keyDir string, waitTimeout time.Duration, logger *zap.Logger) *InstanceProvisioner {
	if prof == nil {
		prof = profile.Default()
	}
	return &InstanceProvisioner{
		client:      client,
		session:     session,
		profile:     prof,
		keyDir:      keyDir,
		waitTimeout: waitTimeout,
		logger:      logger.With(zap.String("component", "instance_provisioner")),
	}
}

// Provision runs the key pair, security group and instance steps in order. The first failing
// step ends the run; resources created by earlier steps are left in place.
func (p *InstanceProvisioner) Provision(ctx context.Context, req InstanceRequest) InstanceResult {
	logger := p.logger.With(
		zap.String("function", "Provision"),
		zap.String("instance_name", req.InstanceName),
	)
	var result InstanceResult

	keyPair, keyFile, err := p.createKeyPair(ctx, req.KeyName)
	if err != nil {
		logger.Error("Key Pair creation failed",
			zap.String("operation", "key_pair_create"),
			zap.Error(err),
		)
		// the key pair may exist remotely even if the local write failed
		if keyPair != nil {
			result.KeyName = keyPair.KeyName
		}
		return p.fail(result, StepKeyPair, err)
	}
	result.KeyName = keyPair.KeyName
	result.KeyFile = keyFile
	logger.Info("Key Pair creation succeeded.",
		zap.String("key_name", keyPair.KeyName),
		zap.String("key_file", keyFile),
		zap.String("operation", "key_pair_create"),
	)

	group, err := p.createSecurityGroup(ctx, req.SecurityGroupName, req.InstanceName)
	if group != nil {
		result.SecurityGroupID = group.GroupId
	}
	if err != nil {
		logger.Error("Security Group creation failed",
			zap.String("operation", "security_group_create"),
			zap.Error(err),
		)
		return p.fail(result, StepSecurityGroup, err)
	}
	logger.Info("Security Group creation succeeded.",
		zap.String("group_id", group.GroupId),
		zap.String("operation", "security_group_create"),
	)

	spec := p.launchSpec(req, keyPair.KeyName, group.GroupId)
	instanceID, instance, err := p.launch(ctx, spec)
	result.InstanceID = instanceID
	if err != nil {
		logger.Error("Instance creation failed",
			zap.String("instance_id", instanceID),
			zap.String("operation", "instance_create"),
			zap.Error(err),
		)
		return p.fail(result, StepInstance, err)
	}
	result.Instance = instance
	logger.Info("Instance creation succeeded.",
		zap.String("instance_id", instanceID),
		zap.String("state", instance.State),
		zap.String("public_ip", instance.PublicIP),
		zap.String("public_dns", instance.PublicDnsName),
		zap.String("operation", "instance_create"),
	)

	result.Drift = verifyInstance(spec, instance)
	for _, drift := range result.Drift {
		logger.Warn(drift,
			zap.String("instance_id", instanceID),
			zap.String("operation", "instance_verify"),
		)
	}

	return result
}

// fail records the failed step and logs whatever the run leaves behind
func (p *InstanceProvisioner) fail(result InstanceResult, step string, err error) InstanceResult {
	result.FailedStep = step
	result.Err = err

	if result.KeyName != "" || result.SecurityGroupID != "" || result.InstanceID != "" {
		p.logger.Warn("Resources left in place after failed provisioning",
			zap.String("session_tag", p.session.ID),
			zap.String("failed_step", step),
			zap.String("key_name", result.KeyName),
			zap.String("group_id", result.SecurityGroupID),
			zap.String("instance_id", result.InstanceID),
			zap.String("operation", "orphaned_resources"),
		)
	}
	return result
}

func (p *InstanceProvisioner) createKeyPair(ctx context.Context, keyName string) (*models.KeyPair, string, error) {
	keyPair, err := p.client.CreateKeyPair(ctx, keyName, p.session.Tags())
	if err != nil {
		return nil, "", err
	}

	path, err := writeKeyFile(p.keyDir, keyPair)
	if err != nil {
		return keyPair, "", err
	}
	return keyPair, path, nil
}

// writeKeyFile stores the private key as <dir>/<keyName>.pem, readable by the owner only
func writeKeyFile(dir string, keyPair *models.KeyPair) (string, error) {
	path := filepath.Join(dir, keyPair.KeyName+".pem")
	if err := os.WriteFile(path, []byte(keyPair.KeyMaterial), 0o600); err != nil {
		return "", errors.New(errors.ErrLocalIO, "failed to write private key",
			map[string]interface{}{
				"path": path,
			}, err)
	}
	return path, nil
}

// createSecurityGroup returns the group even when authorizing a rule fails, so the
// caller can report it
func (p *InstanceProvisioner) createSecurityGroup(ctx context.Context, groupName, instanceName string) (*models.SecurityGroup, error) {
	group, err := p.client.CreateSecurityGroup(ctx, groupName,
		"A autogenerated security group for "+instanceName, p.session.Tags())
	if err != nil {
		return nil, err
	}

	for _, rule := range p.profile.Rules() {
		if err := p.client.AuthorizeIngress(ctx, group.GroupId, rule); err != nil {
			return group, err
		}
		p.logger.Debug("Ingress rule authorized",
			zap.String("group_id", group.GroupId),
			zap.String("protocol", rule.Protocol),
			zap.Int32("port", rule.FromPort),
			zap.String("cidr", rule.CIDR),
			zap.String("operation", "security_group_ingress"),
		)
	}
	return group, nil
}

func (p *InstanceProvisioner) launchSpec(req InstanceRequest, keyName, groupID string) models.LaunchSpec {
	return models.LaunchSpec{
		ImageID:          p.profile.ImageID,
		InstanceType:     p.profile.InstanceType,
		KeyName:          keyName,
		SecurityGroupIDs: []string{groupID},
		UserData:         req.StartupScript,
		Monitoring:       p.profile.Monitoring,
		EbsOptimized:     p.profile.EbsOptimized,
		ShutdownBehavior: p.profile.ShutdownBehavior,
		Tags:             append([]models.Tag{{Key: "Name", Value: req.InstanceName}}, p.session.Tags()...),
	}
}

// launch starts the instance, waits for it to run and reloads its attributes
func (p *InstanceProvisioner) launch(ctx context.Context, spec models.LaunchSpec) (string, *models.AWSInstance, error) {
	instanceID, err := p.client.RunInstance(ctx, spec)
	if err != nil {
		return "", nil, err
	}

	p.logger.Info("Waiting for instance to enter the running state",
		zap.String("instance_id", instanceID),
		zap.Duration("max_wait", p.waitTimeout),
		zap.String("operation", "instance_wait"),
	)
	if err := p.client.WaitUntilRunning(ctx, instanceID, p.waitTimeout); err != nil {
		return instanceID, nil, err
	}

	instance, err := p.client.DescribeInstance(ctx, instanceID)
	if err != nil {
		return instanceID, nil, err
	}
	return instanceID, instance, nil
}
