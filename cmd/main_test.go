package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"webserverprovisioner/awsd/models"
	"webserverprovisioner/configuration"
	"webserverprovisioner/provisioner"
)

type mockCloud struct {
	provisioner.MockCloudClient
}

func (m *mockCloud) CallerAccountID(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// inWorkspace runs the test from a temp dir laid out like the default configuration expects
func inWorkspace(t *testing.T, withScript bool) string {
	t.Helper()
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "webserver_files", "bucket"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "webserver_files", "bucket", "index.html"), []byte("<h1>hi</h1>"), 0o644))
	if withScript {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "startupScript.sh"), []byte("#!/bin/bash\n"), 0o755))
	}

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	for _, k := range []string{"BUCKET_NAME", "INSTANCE_NAME", "WEB_FILES_PATH", "STARTUP_SCRIPT_PATH",
		"AWS_REGION", "PROFILE_PATH", "KEY_DIR", "INSTANCE_WAIT_TIMEOUT_MINUTES", "LOG_LEVEL", "LOG_FILE"} {
		t.Setenv(k, "")
	}
	viper.Reset()
	return dir
}

func expectProvisioning(client *mockCloud, createBucketErr error) {
	client.On("CallerAccountID", mock.Anything).Return("123456789012", nil)
	client.On("CreateBucket", mock.Anything, configuration.DefaultBucketName, configuration.DefaultRegion).Return(createBucketErr)
	client.On("AllowPublicObjects", mock.Anything, configuration.DefaultBucketName).Return(nil).Maybe()
	client.On("UploadObject", mock.Anything, configuration.DefaultBucketName, "index.html", mock.Anything).Return(nil)
	client.On("CreateKeyPair", mock.Anything, mock.Anything, mock.Anything).
		Return(&models.KeyPair{KeyName: "webserver-key", KeyMaterial: "secret"}, nil)
	client.On("CreateSecurityGroup", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.SecurityGroup{GroupId: "sg-1"}, nil)
	client.On("AuthorizeIngress", mock.Anything, "sg-1", mock.Anything).Return(nil)
	client.On("RunInstance", mock.Anything, mock.Anything).Return("i-1", nil)
	client.On("WaitUntilRunning", mock.Anything, "i-1", mock.Anything).Return(nil)
	client.On("DescribeInstance", mock.Anything, "i-1").Return(&models.AWSInstance{InstanceID: "i-1", State: "running"}, nil)
}

func TestRun(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		withScript   bool
		setup        func(client *mockCloud)
		expectCode   int
		expectClient bool
		expectLog    []string
	}{
		{
			name:       "help makes no remote calls",
			args:       []string{"--help"},
			withScript: true,
			expectCode: 0,
		},
		{
			name:         "full run",
			withScript:   true,
			setup:        func(client *mockCloud) { expectProvisioning(client, nil) },
			expectCode:   0,
			expectClient: true,
			expectLog: []string{
				"Bucket creation succeeded.",
				"Instance creation succeeded.",
				"Program complete. The web server should now be active.",
			},
		},
		{
			name:       "partial failure still exits normally",
			withScript: true,
			setup: func(client *mockCloud) {
				expectProvisioning(client, fmt.Errorf("access denied"))
			},
			expectCode:   0,
			expectClient: true,
			expectLog: []string{
				"Bucket creation failed",
				"Bucket provisioning did not complete",
				"Program complete. The web server should now be active.",
			},
		},
		{
			name:       "missing startup script is fatal",
			withScript: false,
			setup: func(client *mockCloud) {
				client.On("CallerAccountID", mock.Anything).Return("123456789012", nil)
			},
			expectCode:   1,
			expectClient: true,
			expectLog:    []string{"Failed to read startup script"},
		},
		{
			name:       "account lookup failure is fatal",
			withScript: true,
			setup: func(client *mockCloud) {
				client.On("CallerAccountID", mock.Anything).Return("", fmt.Errorf("no credentials"))
			},
			expectCode:   1,
			expectClient: true,
			expectLog:    []string{"Failed to find AWS account ID"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := inWorkspace(t, tt.withScript)

			client := &mockCloud{}
			if tt.setup != nil {
				tt.setup(client)
			}
			clientCreated := false
			newClient := func(cfg *configuration.Config) (cloudClient, error) {
				clientCreated = true
				return client, nil
			}

			var stdout bytes.Buffer
			code := run(context.Background(), tt.args, &stdout, newClient)

			assert.Equal(t, tt.expectCode, code)
			assert.Equal(t, tt.expectClient, clientCreated)
			if !tt.expectClient {
				assert.Empty(t, client.Calls)
				assert.Contains(t, stdout.String(), "--bucket_name")
			}

			content, err := os.ReadFile(filepath.Join(dir, "logs", "logfile.log"))
			require.NoError(t, err)
			for _, line := range tt.expectLog {
				assert.Contains(t, string(content), line)
			}
		})
	}
}

func TestRun_MissingStartupScriptSkipsProvisioning(t *testing.T) {
	inWorkspace(t, false)

	client := &mockCloud{}
	client.On("CallerAccountID", mock.Anything).Return("123456789012", nil)

	code := run(context.Background(), nil, &bytes.Buffer{}, func(cfg *configuration.Config) (cloudClient, error) {
		return client, nil
	})

	assert.Equal(t, 1, code)
	client.AssertNotCalled(t, "CreateBucket", mock.Anything, mock.Anything, mock.Anything)
	client.AssertNotCalled(t, "CreateKeyPair", mock.Anything, mock.Anything, mock.Anything)
}

func TestRenderStartupScript(t *testing.T) {
	script := "src=https://{{BUCKET_NAME}}.s3.{{AWS_REGION}}.amazonaws.com/logo.svg\nid=$INSTANCE_ID\n"

	rendered := renderStartupScript(script, "my-site", "us-west-2")

	assert.Equal(t, "src=https://my-site.s3.us-west-2.amazonaws.com/logo.svg\nid=$INSTANCE_ID\n", rendered)
	assert.Equal(t, "#!/bin/bash\n", renderStartupScript("#!/bin/bash\n", "my-site", "us-west-2"))
}

func TestRun_StartupScriptUsesResolvedBucket(t *testing.T) {
	dir := inWorkspace(t, true)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "startupScript.sh"),
		[]byte("#!/bin/bash\necho {{BUCKET_NAME}}.s3.{{AWS_REGION}}\n"), 0o755))
	t.Setenv("AWS_REGION", "us-west-2")

	client := &mockCloud{}
	client.On("CallerAccountID", mock.Anything).Return("123456789012", nil)
	client.On("CreateBucket", mock.Anything, "my-site", "us-west-2").Return(nil)
	client.On("AllowPublicObjects", mock.Anything, "my-site").Return(nil)
	client.On("UploadObject", mock.Anything, "my-site", "index.html", mock.Anything).Return(nil)
	client.On("CreateKeyPair", mock.Anything, mock.Anything, mock.Anything).
		Return(&models.KeyPair{KeyName: "webserver-key", KeyMaterial: "secret"}, nil)
	client.On("CreateSecurityGroup", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.SecurityGroup{GroupId: "sg-1"}, nil)
	client.On("AuthorizeIngress", mock.Anything, "sg-1", mock.Anything).Return(nil)
	client.On("RunInstance", mock.Anything, mock.Anything).Return("i-1", nil)
	client.On("WaitUntilRunning", mock.Anything, "i-1", mock.Anything).Return(nil)
	client.On("DescribeInstance", mock.Anything, "i-1").Return(&models.AWSInstance{InstanceID: "i-1", State: "running"}, nil)

	code := run(context.Background(), []string{"--bucket_name", "my-site"}, &bytes.Buffer{},
		func(cfg *configuration.Config) (cloudClient, error) {
			return client, nil
		})
	require.Equal(t, 0, code)

	var spec models.LaunchSpec
	for _, call := range client.Calls {
		if call.Method == "RunInstance" {
			spec = call.Arguments.Get(1).(models.LaunchSpec)
		}
	}
	assert.Equal(t, "#!/bin/bash\necho my-site.s3.us-west-2\n", spec.UserData)
}
