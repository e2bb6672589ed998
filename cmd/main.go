package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"webserverprovisioner/awsd"
	"webserverprovisioner/configuration"
	"webserverprovisioner/errors"
	"webserverprovisioner/logger"
	"webserverprovisioner/profile"
	"webserverprovisioner/provisioner"
)

const (
	packageName = "main"

	// startup script placeholders filled in from the resolved configuration
	bucketPlaceholder = "{{BUCKET_NAME}}"
	regionPlaceholder = "{{AWS_REGION}}"
)

// cloudClient is what a run needs from AWS: the provisioning calls plus the account lookup
type cloudClient interface {
	provisioner.CloudClient
	CallerAccountID(ctx context.Context) (string, error)
}

func newAWSClient(cfg *configuration.Config) (cloudClient, error) {
	client, err := awsd.NewAWSClient(cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// renderStartupScript points the script at the bucket this run provisions
func renderStartupScript(script, bucketName, region string) string {
	return strings.NewReplacer(
		bucketPlaceholder, bucketName,
		regionPlaceholder, region,
	).Replace(script)
}

func main() {
	// Create context cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, newAWSClient)
	stop()
	os.Exit(code)
}

// run provisions the bucket and the web server instance and returns the process exit code.
// Provisioning failures are only reported in the log; the exit code is non-zero only when the
// run could not start at all.
func run(ctx context.Context, args []string, stdout io.Writer, newClient func(*configuration.Config) (cloudClient, error)) int {
	// Initialize logger
	if err := logger.Initialize("info", logger.DefaultLogFile); err != nil {
		fmt.Fprintln(os.Stderr, errors.New(errors.ErrConfigParse, "Failed to initialize logger",
			map[string]interface{}{
				"operation": "logger_init",
			}, err))
		return 1
	}
	defer logger.Sync()

	log := zap.L().With(zap.String("package", packageName))
	log.Info("Starting program...",
		zap.String("operation", "startup"),
	)

	// Load configuration
	config, err := configuration.Initialize(args)
	if stderrors.Is(err, configuration.ErrHelp) {
		configuration.PrintUsage(stdout)
		return 0
	}
	if err != nil {
		log.Error("Failed to load configuration",
			zap.String("operation", "config_load"),
			zap.Error(err),
		)
		return 1
	}

	if config.LogLevel != "info" || config.LogFile != logger.DefaultLogFile {
		if err := logger.Initialize(config.LogLevel, config.LogFile); err != nil {
			log.Error("Failed to reconfigure logger",
				zap.String("log_level", config.LogLevel),
				zap.String("log_file", config.LogFile),
				zap.String("operation", "logger_init"),
				zap.Error(err),
			)
			return 1
		}
		log = zap.L().With(zap.String("package", packageName))
	}

	log = log.With(zap.String("session_id", config.SessionID))
	log.Info("Configuration loaded successfully",
		zap.String("bucket_name", config.BucketName),
		zap.String("instance_name", config.InstanceName),
		zap.String("web_files_path", config.WebFilesPath),
		zap.String("region", config.AWSRegion),
		zap.String("operation", "config_load"),
	)

	// Create AWS client
	client, err := newClient(config)
	if err != nil {
		log.Error("Failed to create AWS client",
			zap.String("operation", "aws_client_creation"),
			zap.Error(err),
		)
		return 1
	}

	accountID, err := client.CallerAccountID(ctx)
	if err != nil {
		log.Error("Failed to find AWS account ID",
			zap.String("operation", "account_lookup"),
			zap.Error(err),
		)
		return 1
	}
	log.Info("Finding aws account ID",
		zap.String("account_id", accountID),
		zap.String("operation", "account_lookup"),
	)

	startupScript, err := os.ReadFile(config.StartupScriptPath)
	if err != nil {
		log.Error("Failed to read startup script",
			zap.String("operation", "startup_script_read"),
			zap.Error(errors.New(errors.ErrLocalIO, "startup script unreadable",
				map[string]interface{}{
					"path": config.StartupScriptPath,
				}, err)),
		)
		return 1
	}

	prof, err := profile.Load(config.ProfilePath)
	if err != nil {
		log.Error("Failed to load instance profile",
			zap.String("operation", "profile_load"),
			zap.Error(err),
		)
		return 1
	}

	service := provisioner.NewService(client,
		provisioner.Session{ID: config.SessionID, AccountID: accountID},
		prof, config.KeyDir, time.Duration(config.InstanceWaitTimeout)*time.Minute, log)

	report := service.Run(ctx, provisioner.Plan{
		BucketName:   config.BucketName,
		Region:       config.AWSRegion,
		WebFilesPath: config.WebFilesPath,
		Instance: provisioner.InstanceRequest{
			InstanceName:      config.InstanceName,
			KeyName:           config.KeyName,
			SecurityGroupName: config.SecurityGroupName,
			StartupScript:     renderStartupScript(string(startupScript), config.BucketName, config.AWSRegion),
		},
	})

	if !report.Bucket.Success() {
		log.Warn("Bucket provisioning did not complete",
			zap.String("error_type", string(errors.KindOf(report.Bucket.Err))),
			zap.String("operation", "provision_report"),
		)
	}
	if !report.Instance.Success() {
		log.Warn("Instance provisioning did not complete",
			zap.String("failed_step", report.Instance.FailedStep),
			zap.String("error_type", string(errors.KindOf(report.Instance.Err))),
			zap.String("operation", "provision_report"),
		)
	}

	log.Info("Program complete. The web server should now be active.",
		zap.String("operation", "shutdown_complete"),
	)
	return 0
}
