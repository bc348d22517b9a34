package config

import (
	"errors"
	"fmt"
	"time"

	"splat-orchestrator/core/bootstrap"
	"splat-orchestrator/core/executor"
	"splat-orchestrator/core/pipeline"
	"splat-orchestrator/training/nerfstudio"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// Pipeline is the training profile plus the run-time policies
type Pipeline struct {
	nerfstudio.Profile `yaml:",inline" koanf:",squash"`

	ConvertMode       string        `yaml:"convert_mode" koanf:"convert_mode"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" koanf:"heartbeat_interval"`
	FailureMode       string        `yaml:"failure_mode" koanf:"failure_mode"`
	SetupPolicy       string        `yaml:"setup_policy" koanf:"setup_policy"`
}

// DefaultPipeline returns the stock splatfacto profile
func DefaultPipeline() Pipeline {
	return Pipeline{
		Profile:           nerfstudio.DefaultProfile(),
		ConvertMode:       string(pipeline.ConvertRemote),
		HeartbeatInterval: 30 * time.Second,
		FailureMode:       string(executor.ModeCombined),
		SetupPolicy:       string(bootstrap.SetupStrict),
	}
}

// LoadPipeline reads a YAML profile from path over the defaults.
// An empty path returns the defaults.
func LoadPipeline(path string) (Pipeline, error) {
	var p Pipeline
	k, err := loadPipeline(path)
	if err != nil {
		return p, err
	}
	if err := k.Unmarshal("", &p); err != nil {
		return p, fmt.Errorf("failed to decode pipeline config: %w", err)
	}
	return p, nil
}

// loadPipeline layers the file at path over DefaultPipeline. Maps merge
// key by key; lists in the file replace the default list.
func loadPipeline(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")

	// defaults go through their own YAML form so the keys match the file
	data, err := yaml.Marshal(DefaultPipeline())
	if err != nil {
		return nil, err
	}
	var base map[string]interface{}
	if err := yaml.Unmarshal(data, &base); err != nil {
		return nil, err
	}
	if err := k.Load(confmap.Provider(base, ""), nil); err != nil {
		return nil, fmt.Errorf("failed to load pipeline defaults: %w", err)
	}

	if path == "" {
		return k, nil
	}
	if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load pipeline config %s: %w", path, err)
	}
	return k, nil
}

// Validate checks the profile and that every policy name is known
func (p Pipeline) Validate() error {
	var errs []error
	if err := p.Profile.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := pipeline.ParseConvertMode(p.ConvertMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := executor.ParseClassifyMode(p.FailureMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := bootstrap.ParseSetupPolicy(p.SetupPolicy); err != nil {
		errs = append(errs, err)
	}
	if p.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat interval must be positive"))
	}
	return errors.Join(errs...)
}

// Convert returns the parsed convert mode
func (p Pipeline) Convert() pipeline.ConvertMode {
	m, _ := pipeline.ParseConvertMode(p.ConvertMode)
	return m
}

// Classify returns the parsed failure mode
func (p Pipeline) Classify() executor.ClassifyMode {
	m, _ := executor.ParseClassifyMode(p.FailureMode)
	return m
}

// Setup returns the parsed setup policy
func (p Pipeline) Setup() bootstrap.SetupPolicy {
	s, _ := bootstrap.ParseSetupPolicy(p.SetupPolicy)
	return s
}
