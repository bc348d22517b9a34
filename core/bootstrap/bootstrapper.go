package bootstrap

import (
	"context"
	"fmt"
	"path"
	"strings"

	"splat-orchestrator/core/executor"
	"splat-orchestrator/training/nerfstudio"

	"github.com/rs/zerolog/log"
)

// SetupPolicy decides whether a failed sub-step aborts the bootstrap
type SetupPolicy string

const (
	SetupStrict     SetupPolicy = "strict"
	SetupBestEffort SetupPolicy = "best_effort"
)

// ParseSetupPolicy parses a policy name, defaulting to SetupStrict
func ParseSetupPolicy(s string) (SetupPolicy, error) {
	switch SetupPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", SetupStrict:
		return SetupStrict, nil
	case SetupBestEffort, "best-effort":
		return SetupBestEffort, nil
	default:
		return "", fmt.Errorf("unknown setup policy %q", s)
	}
}

// Sub-step names reported in a Report
const (
	SubstepSSH        = "ssh"
	SubstepDocker     = "docker"
	SubstepStorageCLI = "storage-cli"
)

// StorageCredentials are written to the host's object-storage CLI config
type StorageCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// SubstepResult is the outcome of one bootstrap sub-step
type SubstepResult struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// OK reports whether the sub-step succeeded
func (r SubstepResult) OK() bool { return r.Err == nil }

// Report lists every sub-step that ran, in order
type Report struct {
	Host     string          `json:"host"`
	Substeps []SubstepResult `json:"substeps"`
}

// Failed returns the sub-steps that did not succeed
func (r Report) Failed() []SubstepResult {
	var out []SubstepResult
	for _, s := range r.Substeps {
		if !s.OK() {
			out = append(out, s)
		}
	}
	return out
}

// SubstepError is returned under SetupStrict for the first failing sub-step
type SubstepError struct {
	Substep string
	Err     error
}

func (e *SubstepError) Error() string {
	return fmt.Sprintf("bootstrap %s: %v", e.Substep, e.Err)
}

func (e *SubstepError) Unwrap() error { return e.Err }

// Config configures a Bootstrapper
type Config struct {
	Home        string
	Profile     nerfstudio.Profile
	Credentials StorageCredentials
	Policy      SetupPolicy
	Mode        executor.ClassifyMode
}

// Bootstrapper prepares a fresh instance: sshd keepalive, toolkit image,
// object-storage CLI with credentials.
type Bootstrapper struct {
	cfg Config
}

// NewBootstrapper creates a bootstrapper
func NewBootstrapper(cfg Config) *Bootstrapper {
	if cfg.Home == "" {
		cfg.Home = "/home/ubuntu"
	}
	if cfg.Policy == "" {
		cfg.Policy = SetupStrict
	}
	if cfg.Mode == "" {
		cfg.Mode = executor.ModeCombined
	}
	return &Bootstrapper{cfg: cfg}
}

// Run executes every sub-step on remote in order. Under SetupStrict the
// first failure stops the run and is returned along with the partial report.
func (b *Bootstrapper) Run(ctx context.Context, remote executor.Remote) (Report, error) {
	report := Report{Host: remote.Host()}
	logger := log.With().Str("host", remote.Host()).Logger()

	substeps := []struct {
		name string
		run  func(context.Context, executor.Remote) error
	}{
		{SubstepSSH, b.configureSSH},
		{SubstepDocker, b.pullImage},
		{SubstepStorageCLI, b.installStorageCLI},
	}

	for _, s := range substeps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		err := s.run(ctx, remote)
		report.Substeps = append(report.Substeps, SubstepResult{Name: s.name, Err: err})
		if err == nil {
			logger.Info().Str("substep", s.name).Msg("bootstrap step completed")
			continue
		}
		if b.cfg.Policy == SetupStrict {
			logger.Error().Err(err).Str("substep", s.name).Msg("bootstrap step failed")
			return report, &SubstepError{Substep: s.name, Err: err}
		}
		logger.Warn().Err(err).Str("substep", s.name).Msg("bootstrap step failed, continuing")
	}
	return report, nil
}

func (b *Bootstrapper) configureSSH(ctx context.Context, remote executor.Remote) error {
	return b.run(ctx, remote, nerfstudio.SSHKeepalive())
}

func (b *Bootstrapper) pullImage(ctx context.Context, remote executor.Remote) error {
	return b.run(ctx, remote, nerfstudio.PullImage(b.cfg.Profile))
}

func (b *Bootstrapper) installStorageCLI(ctx context.Context, remote executor.Remote) error {
	if err := b.run(ctx, remote, nerfstudio.InstallStorageCLI()); err != nil {
		return err
	}
	if err := b.run(ctx, remote, nerfstudio.PrepareStorageCLIConfig(b.cfg.Home)); err != nil {
		return err
	}

	dir := path.Join(b.cfg.Home, ".aws")
	if err := remote.WriteFile(ctx, path.Join(dir, "config"), storageConfig(b.cfg.Credentials), 0600); err != nil {
		return fmt.Errorf("write storage config: %w", err)
	}
	if err := remote.WriteFile(ctx, path.Join(dir, "credentials"), storageCredentials(b.cfg.Credentials), 0600); err != nil {
		return fmt.Errorf("write storage credentials: %w", err)
	}
	return nil
}

func (b *Bootstrapper) run(ctx context.Context, remote executor.Remote, cmd nerfstudio.Command) error {
	result, err := remote.Run(ctx, cmd.Text, executor.RunOptions{})
	if err != nil {
		return err
	}
	return executor.Classify(cmd.Text, result, cmd.Policy, b.cfg.Mode)
}

func storageConfig(c StorageCredentials) []byte {
	region := c.Region
	if region == "" {
		region = "us-east-1"
	}
	return []byte(fmt.Sprintf("[default]\nregion = %s\noutput = json\n", region))
}

func storageCredentials(c StorageCredentials) []byte {
	return []byte(fmt.Sprintf("[default]\naws_access_key_id = %s\naws_secret_access_key = %s\n",
		c.AccessKeyID, c.SecretAccessKey))
}
