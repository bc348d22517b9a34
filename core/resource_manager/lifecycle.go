package resource_manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"splat-orchestrator/core/bootstrap"
	"splat-orchestrator/core/executor"
	"splat-orchestrator/core/models"

	"github.com/rs/zerolog/log"
)

// Bootstrapper prepares a freshly launched host
type Bootstrapper interface {
	Run(ctx context.Context, remote executor.Remote) (bootstrap.Report, error)
}

// CheckStatus is the coarse instance state reported to clients
type CheckStatus string

const (
	CheckRunning  CheckStatus = "running"
	CheckBooting  CheckStatus = "booting"
	CheckNotFound CheckStatus = "not_found"
)

// LifecycleConfig holds the allow-lists and SSH readiness settings
type LifecycleConfig struct {
	InstanceTypes []string
	Regions       []string
	// SSHReadyTimeout bounds how long a new host may refuse connections.
	SSHReadyTimeout  time.Duration
	SSHRetryInterval time.Duration
}

// StartResult describes the instance Start settled on
type StartResult struct {
	Instance  *models.Instance
	Launched  bool
	Bootstrap *bootstrap.Report
}

// Lifecycle starts, bootstraps, checks and stops the job instance
type Lifecycle struct {
	manager *InstanceManager
	dialer  executor.Dialer
	boot    Bootstrapper
	cfg     LifecycleConfig
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewLifecycle creates a lifecycle over manager
func NewLifecycle(manager *InstanceManager, dialer executor.Dialer, boot Bootstrapper, cfg LifecycleConfig) *Lifecycle {
	if cfg.SSHReadyTimeout <= 0 {
		cfg.SSHReadyTimeout = 3 * time.Minute
	}
	if cfg.SSHRetryInterval <= 0 {
		cfg.SSHRetryInterval = 10 * time.Second
	}
	return &Lifecycle{
		manager: manager,
		dialer:  dialer,
		boot:    boot,
		cfg:     cfg,
		sleep:   sleepContext,
	}
}

// Start reuses a running instance, or launches one, waits for it and
// bootstraps it. A reused instance is not bootstrapped again.
func (l *Lifecycle) Start(ctx context.Context) (*StartResult, error) {
	inst, launched, err := l.manager.EnsureInstance(ctx, l.cfg.InstanceTypes, l.cfg.Regions)
	if err != nil {
		return nil, err
	}
	result := &StartResult{Instance: inst, Launched: launched}
	if !launched {
		return result, nil
	}

	report, err := l.Bootstrap(ctx, inst.IP)
	result.Bootstrap = &report
	if err != nil {
		return result, fmt.Errorf("failed to bootstrap instance %s: %w", inst.ID, err)
	}
	return result, nil
}

// Bootstrap connects to host, retrying while sshd comes up, and runs the
// bootstrapper over that one connection.
func (l *Lifecycle) Bootstrap(ctx context.Context, host string) (bootstrap.Report, error) {
	remote, err := l.dialReady(ctx, host)
	if err != nil {
		return bootstrap.Report{Host: host}, err
	}
	defer remote.Close()
	return l.boot.Run(ctx, remote)
}

func (l *Lifecycle) dialReady(ctx context.Context, host string) (executor.Remote, error) {
	var waited time.Duration
	for {
		remote, err := l.dialer.Dial(ctx, host)
		if err == nil {
			return remote, nil
		}
		var connErr *executor.ConnectError
		if !errors.As(err, &connErr) || waited+l.cfg.SSHRetryInterval > l.cfg.SSHReadyTimeout {
			return nil, err
		}
		log.Debug().Err(err).Str("host", host).Dur("waited", waited).Msg("ssh not ready yet")
		if err := l.sleep(ctx, l.cfg.SSHRetryInterval); err != nil {
			return nil, err
		}
		waited += l.cfg.SSHRetryInterval
	}
}

// Stop terminates the first running instance in the allow-lists
func (l *Lifecycle) Stop(ctx context.Context) (*models.TerminatedInstance, error) {
	inst, err := l.manager.FindActiveInstance(ctx, l.cfg.InstanceTypes, l.cfg.Regions)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, ErrNoActiveInstance
	}
	return l.manager.Terminate(ctx, inst.ID)
}

// Check reports whether an instance is running, booting or absent
func (l *Lifecycle) Check(ctx context.Context) (*models.Instance, CheckStatus, error) {
	inst, err := l.manager.FindActiveInstance(ctx, l.cfg.InstanceTypes, l.cfg.Regions)
	if err != nil {
		return nil, "", err
	}
	if inst != nil {
		return inst, CheckRunning, nil
	}
	inst, err = l.manager.FindInstance(ctx, models.InstanceBooting, l.cfg.InstanceTypes, l.cfg.Regions)
	if err != nil {
		return nil, "", err
	}
	if inst != nil {
		return inst, CheckBooting, nil
	}
	return nil, CheckNotFound, nil
}
