package config

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type kind int

const (
	kindString kind = iota
	kindInt
	kindBool
	kindDuration
	kindList
)

type envKey struct {
	key  string
	kind kind
}

// envKeys maps each recognised variable onto its koanf key
var envKeys = map[string]envKey{
	"SERVER_PORT":  {"server_port", kindString},
	"LOG_LEVEL":    {"log_level", kindString},
	"LOG_FORMAT":   {"log_format", kindString},
	"DATABASE_URL": {"database_url", kindString},

	"CLOUD_PROVIDER":            {"cloud_provider", kindString},
	"LAMBDA_LABS_INSTANCE_TYPE": {"lambda_labs_instance_type", kindList},
	"ALLOWED_REGIONS":           {"allowed_regions", kindList},
	"LAMBDA_LABS_SSH_KEY":       {"lambda_labs_ssh_key", kindList},
	"LAMBDA_LABS_API_KEY":       {"lambda_labs_api_key", kindString},
	"LAMBDA_LABS_API_URL":       {"lambda_labs_api_url", kindString},

	"AWS_REGION":               {"aws_region", kindString},
	"AWS_ACCESS_KEY_ID":        {"aws_access_key_id", kindString},
	"AWS_SECRET_ACCESS_KEY":    {"aws_secret_access_key", kindString},
	"AWS_EC2_REGIONS":          {"aws_ec2_regions", kindList},
	"AWS_EC2_AMI_ID":           {"aws_ec2_ami_id", kindString},
	"AWS_EC2_INSTANCE_PROFILE": {"aws_ec2_instance_profile", kindString},

	"S3_BUCKET_NAME": {"s3_bucket_name", kindString},
	"S3_ENDPOINT":    {"s3_endpoint", kindString},
	"S3_USE_SSL":     {"s3_use_ssl", kindBool},
	"PRESIGN_TTL":    {"presign_ttl", kindDuration},

	"SSH_KEY_PATH":     {"ssh_key_path", kindString},
	"SSH_USER":         {"ssh_user", kindString},
	"SSH_PORT":         {"ssh_port", kindInt},
	"SSH_KNOWN_HOSTS":  {"ssh_known_hosts", kindString},
	"SSH_DIAL_TIMEOUT": {"ssh_dial_timeout", kindDuration},
	"SSH_KEEPALIVE":    {"ssh_keepalive", kindDuration},
	"REMOTE_HOME":      {"remote_home", kindString},

	"POLL_INTERVAL":      {"poll_interval", kindDuration},
	"PROVISION_MAX_WAIT": {"provision_max_wait", kindDuration},

	"HEARTBEAT_INTERVAL": {"pipeline.heartbeat_interval", kindDuration},
	"SETUP_POLICY":       {"pipeline.setup_policy", kindString},
	"FAILURE_MODE":       {"pipeline.failure_mode", kindString},
	"CONVERT_MODE":       {"pipeline.convert_mode", kindString},
}

func (k kind) parse(v string) (interface{}, error) {
	switch k {
	case kindInt:
		return strconv.Atoi(v)
	case kindBool:
		return strconv.ParseBool(v)
	case kindDuration:
		return time.ParseDuration(v)
	case kindList:
		return parseList(v)
	default:
		return v, nil
	}
}

// parseList accepts a JSON array or a comma-separated value
func parseList(v string) ([]string, error) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "[") {
		var out []string
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, nil
}
