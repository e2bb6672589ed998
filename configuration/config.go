package configuration

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"webserverprovisioner/errors"
	"webserverprovisioner/logger"
)

const (
	packageName = "configuration"

	DefaultBucketName   = "webserver-assignment-bucket-brazill"
	DefaultWebFilesPath = "./webserver_files"
	DefaultRegion       = "eu-west-1"
)

// ErrHelp is returned by Initialize when --help was passed. Nothing should be provisioned.
var ErrHelp = stderrors.New("help requested")

// Config holds the application configuration
type Config struct {
	SessionID           string
	BucketName          string
	InstanceName        string
	WebFilesPath        string
	StartupScriptPath   string
	KeyName             string
	SecurityGroupName   string
	AWSRegion           string
	EndpointURL         string
	AcessKeyID          string
	AccessSecret        string
	ProfilePath         string
	KeyDir              string
	InstanceWaitTimeout int
	LogLevel            string
	LogFile             string
}

// flag name -> viper key
var flagKeys = map[string]string{
	"bucket_name":    "BUCKET_NAME",
	"instance_name":  "INSTANCE_NAME",
	"web_files_path": "WEB_FILES_PATH",
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("webserverprovisioner", pflag.ContinueOnError)
	flags.ParseErrorsWhitelist.UnknownFlags = true
	flags.SetOutput(io.Discard)
	flags.String("bucket_name", "", "name of the S3 bucket holding the web files (default \""+DefaultBucketName+"\")")
	flags.String("instance_name", "", "name of the EC2 instance (default \"webserver-<session id>\")")
	flags.String("web_files_path", "", "directory with a bucket/ subdirectory of files to upload (default \""+DefaultWebFilesPath+"\")")
	flags.Bool("help", false, "print this help and exit without provisioning anything")
	return flags
}

// PrintUsage writes the command-line help to w
func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: webserverprovisioner [--bucket_name NAME] [--instance_name NAME] [--web_files_path PATH]")
	fmt.Fprintln(w)
	fmt.Fprint(w, newFlagSet().FlagUsages())
}

// Initialize resolves the configuration from args, the environment, a .env file and defaults,
// in that order of precedence. A fresh session id is generated on every call.
func Initialize(args []string) (*Config, error) {
	log := zap.L().With(
		zap.String("package", packageName),
		zap.String("function", "Initialize"),
	)

	flags := newFlagSet()
	if err := flags.Parse(args); err != nil {
		return nil, errors.New(errors.ErrConfigParse, "error parsing command-line flags",
			map[string]interface{}{
				"args": args,
			}, err)
	}
	if help, _ := flags.GetBool("help"); help {
		return nil, ErrHelp
	}

	sessionID := uuid.NewString()
	log.Info("Creating session UUID",
		zap.String("session_id", sessionID),
		zap.String("operation", "session_create"),
	)

	// Set default values
	viper.SetDefault("BUCKET_NAME", DefaultBucketName)
	viper.SetDefault("INSTANCE_NAME", "webserver-"+sessionID)
	viper.SetDefault("WEB_FILES_PATH", DefaultWebFilesPath)
	viper.SetDefault("STARTUP_SCRIPT_PATH", "./startupScript.sh")
	viper.SetDefault("AWS_REGION", DefaultRegion)
	viper.SetDefault("KEY_DIR", ".")
	viper.SetDefault("INSTANCE_WAIT_TIMEOUT_MINUTES", 15)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FILE", logger.DefaultLogFile)

	for name, key := range flagKeys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return nil, errors.New(errors.ErrConfigParse, "error binding flag",
				map[string]interface{}{
					"flag": name,
				}, err)
		}
	}

	// Configure Viper to read from environment
	viper.AutomaticEnv()

	// Read from .env file unless a config file was already chosen
	if viper.ConfigFileUsed() == "" {
		viper.SetConfigFile(".env")
	}
	viper.SetConfigType("env")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) && !stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.New(errors.ErrConfigParse, "error reading config file",
				map[string]interface{}{
					"config_file": viper.ConfigFileUsed(),
				}, err)
		}
		log.Info("No .env file found, using flags, environment variables and defaults",
			zap.String("operation", "config_loading"),
		)
	}

	waitTimeout := viper.GetInt("INSTANCE_WAIT_TIMEOUT_MINUTES")
	if waitTimeout <= 0 {
		return nil, errors.New(errors.ErrConfigInvalid, "invalid INSTANCE_WAIT_TIMEOUT_MINUTES",
			map[string]interface{}{
				"config_key": "INSTANCE_WAIT_TIMEOUT_MINUTES",
				"value":      waitTimeout,
			}, nil)
	}

	config := &Config{
		SessionID:           sessionID,
		BucketName:          viper.GetString("BUCKET_NAME"),
		InstanceName:        viper.GetString("INSTANCE_NAME"),
		WebFilesPath:        viper.GetString("WEB_FILES_PATH"),
		StartupScriptPath:   viper.GetString("STARTUP_SCRIPT_PATH"),
		KeyName:             "webserver-key-" + sessionID,
		SecurityGroupName:   "webserver-security-group-" + sessionID,
		AWSRegion:           viper.GetString("AWS_REGION"),
		EndpointURL:         viper.GetString("AWS_ENDPOINT_URL"),
		AcessKeyID:          viper.GetString("AWS_ACCESS_KEY_ID"),
		AccessSecret:        viper.GetString("AWS_SECRET_ACCESS_KEY"),
		ProfilePath:         viper.GetString("PROFILE_PATH"),
		KeyDir:              viper.GetString("KEY_DIR"),
		InstanceWaitTimeout: waitTimeout,
		LogLevel:            viper.GetString("LOG_LEVEL"),
		LogFile:             viper.GetString("LOG_FILE"),
	}

	log.Info("Configuration loaded successfully",
		zap.String("operation", "config_complete"),
	)
	return config, nil
}
