package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// DefaultRegions are the Lambda Labs US regions jobs may run in
var DefaultRegions = []string{
	"us-east-1",
	"us-east-2",
	"us-midwest-1",
	"us-south-1",
	"us-south-2",
	"us-south-3",
	"us-west-1",
	"us-west-2",
	"us-west-3",
}

// Config holds the application configuration. Keys are the lowercased
// environment variable names.
type Config struct {
	// Server
	ServerPort string `koanf:"server_port"`
	LogLevel   string `koanf:"log_level"`
	LogFormat  string `koanf:"log_format"`

	// Database; empty disables the event journal
	DatabaseURL string `koanf:"database_url"`

	// Cloud
	CloudProvider  string   `koanf:"cloud_provider"`
	InstanceTypes  []string `koanf:"lambda_labs_instance_type"`
	AllowedRegions []string `koanf:"allowed_regions"`
	SSHKeyNames    []string `koanf:"lambda_labs_ssh_key"`

	// Lambda Labs
	LambdaAPIKey string `koanf:"lambda_labs_api_key"`
	LambdaAPIURL string `koanf:"lambda_labs_api_url"`

	// AWS
	AWSRegion          string   `koanf:"aws_region"`
	AWSAccessKeyID     string   `koanf:"aws_access_key_id"`
	AWSSecretAccessKey string   `koanf:"aws_secret_access_key"`
	EC2Regions         []string `koanf:"aws_ec2_regions"`
	EC2AMIID           string   `koanf:"aws_ec2_ami_id"`
	EC2InstanceProfile string   `koanf:"aws_ec2_instance_profile"`

	// Object storage
	S3Bucket   string        `koanf:"s3_bucket_name"`
	S3Endpoint string        `koanf:"s3_endpoint"`
	S3UseSSL   bool          `koanf:"s3_use_ssl"`
	PresignTTL time.Duration `koanf:"presign_ttl"`

	// SSH
	SSHKeyPath     string        `koanf:"ssh_key_path"`
	SSHUser        string        `koanf:"ssh_user"`
	SSHPort        int           `koanf:"ssh_port"`
	SSHKnownHosts  string        `koanf:"ssh_known_hosts"`
	SSHDialTimeout time.Duration `koanf:"ssh_dial_timeout"`
	SSHKeepAlive   time.Duration `koanf:"ssh_keepalive"`
	RemoteHome     string        `koanf:"remote_home"`

	// Provisioning
	PollInterval     time.Duration `koanf:"poll_interval"`
	ProvisionMaxWait time.Duration `koanf:"provision_max_wait"`

	Pipeline Pipeline `koanf:"pipeline"`
}

// Load layers defaults, the optional PIPELINE_CONFIG YAML profile and the
// environment, in that order, then decodes the result.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	pk, err := loadPipeline(os.Getenv("PIPELINE_CONFIG"))
	if err != nil {
		return nil, err
	}
	if err := k.MergeAt(pk, "pipeline"); err != nil {
		return nil, fmt.Errorf("failed to merge pipeline config: %w", err)
	}

	// Empty variables are skipped so they never override a file value
	var errs []error
	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		spec, ok := envKeys[key]
		if !ok || value == "" {
			return "", nil
		}
		v, err := spec.kind.parse(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", key, err))
			return "", nil
		}
		return spec.key, v
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if !k.Exists("aws_ec2_regions") {
		if err := k.Set("aws_ec2_regions", []string{k.String("aws_region")}); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.CloudProvider = strings.ToLower(cfg.CloudProvider)
	return &cfg, nil
}

// Validate checks the settings the server needs to run jobs
func (c *Config) Validate() error {
	var errs []error
	if c.ServerPort == "" {
		errs = append(errs, errors.New("SERVER_PORT is required"))
	}
	switch c.CloudProvider {
	case "lambda":
		if c.LambdaAPIKey == "" {
			errs = append(errs, errors.New("LAMBDA_LABS_API_KEY is required for the lambda provider"))
		}
	case "aws":
		if len(c.EC2Regions) == 0 {
			errs = append(errs, errors.New("AWS_EC2_REGIONS must list at least one region"))
		}
	default:
		errs = append(errs, fmt.Errorf("CLOUD_PROVIDER must be lambda or aws, got %q", c.CloudProvider))
	}
	if len(c.InstanceTypes) == 0 {
		errs = append(errs, errors.New("LAMBDA_LABS_INSTANCE_TYPE must list at least one instance type"))
	}
	if len(c.AllowedRegions) == 0 {
		errs = append(errs, errors.New("ALLOWED_REGIONS must list at least one region"))
	}
	if c.S3Bucket == "" {
		errs = append(errs, errors.New("S3_BUCKET_NAME is required"))
	}
	if c.SSHKeyPath == "" {
		errs = append(errs, errors.New("SSH_KEY_PATH is required"))
	}
	if c.SSHPort <= 0 || c.SSHPort > 65535 {
		errs = append(errs, fmt.Errorf("SSH_PORT out of range: %d", c.SSHPort))
	}
	if c.PollInterval <= 0 || c.ProvisionMaxWait < c.PollInterval {
		errs = append(errs, errors.New("PROVISION_MAX_WAIT must be at least POLL_INTERVAL"))
	}
	if err := c.Pipeline.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
