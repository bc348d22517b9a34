package config

import "time"

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server_port": "8080",
		"log_level":   "info",
		"log_format":  "json",

		"cloud_provider":  "lambda",
		"allowed_regions": DefaultRegions,

		"lambda_labs_api_url": "https://cloud.lambdalabs.com/api/v1",

		"aws_region": "us-east-1",

		"s3_endpoint": "s3.amazonaws.com",
		"s3_use_ssl":  true,
		"presign_ttl": 5 * time.Minute,

		"ssh_user":         "ubuntu",
		"ssh_port":         22,
		"ssh_dial_timeout": 30 * time.Second,
		"ssh_keepalive":    30 * time.Second,
		"remote_home":      "/home/ubuntu",

		"poll_interval":      30 * time.Second,
		"provision_max_wait": 20 * time.Minute,
	}
}
