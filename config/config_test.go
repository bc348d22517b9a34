package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"splat-orchestrator/core/bootstrap"
	"splat-orchestrator/core/executor"
	"splat-orchestrator/core/pipeline"

	"github.com/google/go-cmp/cmp"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("LAMBDA_LABS_API_KEY", "secret")
	t.Setenv("LAMBDA_LABS_INSTANCE_TYPE", `["gpu_1x_a10","gpu_1x_a100"]`)
	t.Setenv("S3_BUCKET_NAME", "splats")
	t.Setenv("SSH_KEY_PATH", "/keys/id_ed25519")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	if diff := cmp.Diff([]string{"gpu_1x_a10", "gpu_1x_a100"}, cfg.InstanceTypes); diff != "" {
		t.Errorf("InstanceTypes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(DefaultRegions, cfg.AllowedRegions); diff != "" {
		t.Errorf("AllowedRegions mismatch (-want +got):\n%s", diff)
	}
	if cfg.ServerPort != "8080" || cfg.CloudProvider != "lambda" || cfg.RemoteHome != "/home/ubuntu" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.PollInterval != 30*time.Second || cfg.ProvisionMaxWait != 20*time.Minute || cfg.PresignTTL != 5*time.Minute {
		t.Errorf("unexpected durations: poll=%s wait=%s ttl=%s", cfg.PollInterval, cfg.ProvisionMaxWait, cfg.PresignTTL)
	}
	if cfg.Pipeline.Convert() != pipeline.ConvertRemote ||
		cfg.Pipeline.Classify() != executor.ModeCombined ||
		cfg.Pipeline.Setup() != bootstrap.SetupStrict {
		t.Errorf("unexpected pipeline policies: %+v", cfg.Pipeline)
	}
}

func TestLoadCommaLists(t *testing.T) {
	setRequired(t)
	t.Setenv("LAMBDA_LABS_INSTANCE_TYPE", "gpu_1x_a10, gpu_1x_h100_pcie")
	t.Setenv("ALLOWED_REGIONS", "us-west-1,,us-east-1")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if diff := cmp.Diff([]string{"gpu_1x_a10", "gpu_1x_h100_pcie"}, cfg.InstanceTypes); diff != "" {
		t.Errorf("InstanceTypes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"us-west-1", "us-east-1"}, cfg.AllowedRegions); diff != "" {
		t.Errorf("AllowedRegions mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadParseErrors(t *testing.T) {
	setRequired(t)
	t.Setenv("SSH_PORT", "twenty-two")
	t.Setenv("POLL_INTERVAL", "often")
	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error")
	}
	for _, key := range []string{"SSH_PORT", "POLL_INTERVAL"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing api key", map[string]string{"LAMBDA_LABS_API_KEY": ""}, "LAMBDA_LABS_API_KEY"},
		{"unknown provider", map[string]string{"CLOUD_PROVIDER": "gcp"}, "CLOUD_PROVIDER"},
		{"aws needs no lambda key", map[string]string{"CLOUD_PROVIDER": "aws", "LAMBDA_LABS_API_KEY": ""}, ""},
		{"bad setup policy", map[string]string{"SETUP_POLICY": "maybe"}, "setup policy"},
		{"bad convert mode", map[string]string{"CONVERT_MODE": "gpu"}, "convert mode"},
		{"wait below poll", map[string]string{"PROVISION_MAX_WAIT": "10s"}, "PROVISION_MAX_WAIT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() err=%v", err)
			}
			err = cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() err=%v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() err=%v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadPipelineFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	data := `
method: splatfacto
viewer_port: 7008
train_args:
  - --max-num-iterations=15000
obb:
  scale: [2, 2, 2]
convert_mode: local
heartbeat_interval: 10s
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPipeline(path)
	if err != nil {
		t.Fatalf("LoadPipeline() err=%v", err)
	}
	if p.Method != "splatfacto" || p.ViewerPort != 7008 {
		t.Errorf("profile not overridden: %+v", p.Profile)
	}
	if diff := cmp.Diff([]string{"--max-num-iterations=15000"}, p.TrainArgs); diff != "" {
		t.Errorf("TrainArgs mismatch (-want +got):\n%s", diff)
	}
	if p.Image != "ghcr.io/nerfstudio-project/nerfstudio:latest" || p.ShmSize != "40gb" {
		t.Errorf("defaults lost: %+v", p.Profile)
	}
	if diff := cmp.Diff([]float64{0, 0, 0}, p.BoundingBox.Center); diff != "" {
		t.Errorf("obb center mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{2, 2, 2}, p.BoundingBox.Scale); diff != "" {
		t.Errorf("obb scale mismatch (-want +got):\n%s", diff)
	}
	if p.Convert() != pipeline.ConvertLocal || p.HeartbeatInterval != 10*time.Second {
		t.Errorf("policies not overridden: %+v", p)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() err=%v", err)
	}
}

func TestEnvOverridesPipelineFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte("convert_mode: local\nfailure_mode: legacy\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PIPELINE_CONFIG", path)
	t.Setenv("CONVERT_MODE", "remote")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.Pipeline.Convert() != pipeline.ConvertRemote {
		t.Errorf("CONVERT_MODE did not override the file")
	}
	if cfg.Pipeline.Classify() != executor.ModeLegacy {
		t.Errorf("failure_mode from file lost")
	}
}

func TestLoadPipelineMissingFile(t *testing.T) {
	if _, err := LoadPipeline(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadLayersDefaultsFileAndEnv(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	data := "method: splatfacto\nconvert_mode: local\nobb:\n  center: [1, 2, 3]\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PIPELINE_CONFIG", path)
	t.Setenv("HEARTBEAT_INTERVAL", "5s")
	t.Setenv("CONVERT_MODE", "")
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	p := cfg.Pipeline
	if p.Method != "splatfacto" || p.Convert() != pipeline.ConvertLocal {
		t.Errorf("file layer lost: method=%q convert=%q", p.Method, p.ConvertMode)
	}
	if p.HeartbeatInterval != 5*time.Second {
		t.Errorf("HeartbeatInterval = %s, want 5s", p.HeartbeatInterval)
	}
	if p.ViewerPort != 7007 || p.Classify() != executor.ModeCombined {
		t.Errorf("defaults lost: port=%d failure=%q", p.ViewerPort, p.FailureMode)
	}
	if diff := cmp.Diff([]float64{1, 2, 3}, p.BoundingBox.Center); diff != "" {
		t.Errorf("obb center mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{1, 1, 1}, p.BoundingBox.Scale); diff != "" {
		t.Errorf("obb scale mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"eu-west-1"}, cfg.EC2Regions); diff != "" {
		t.Errorf("EC2Regions mismatch (-want +got):\n%s", diff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() err=%v", err)
	}
}

func TestLoadBadJSONList(t *testing.T) {
	setRequired(t)
	t.Setenv("ALLOWED_REGIONS", `["us-west-1"`)
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "ALLOWED_REGIONS") {
		t.Fatalf("Load() err=%v, want mention of ALLOWED_REGIONS", err)
	}
}
