package resource_manager

import (
	"context"
	"fmt"
	"slices"
	"time"

	"splat-orchestrator/core/models"

	"github.com/rs/zerolog/log"
)

// CloudProvider is the IaaS surface the instance manager needs
type CloudProvider interface {
	Name() models.Provider
	ListInstances(ctx context.Context) ([]models.Instance, error)
	ListInstanceTypes(ctx context.Context) (map[string]models.InstanceTypeAvailability, error)
	LaunchInstance(ctx context.Context, req models.LaunchRequest) (string, error)
	GetInstance(ctx context.Context, instanceID string) (*models.Instance, error)
	TerminateInstance(ctx context.Context, instanceID string) (*models.TerminatedInstance, error)
}

// ManagerConfig holds launch and polling settings
type ManagerConfig struct {
	SSHKeyNames  []string
	InstanceName string
	PollInterval time.Duration
	MaxWait      time.Duration
}

// InstanceManager finds, launches, waits for and terminates GPU instances
type InstanceManager struct {
	provider CloudProvider
	cfg      ManagerConfig
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// NewInstanceManager creates a new instance manager
func NewInstanceManager(provider CloudProvider, cfg ManagerConfig) *InstanceManager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 20 * time.Minute
	}
	if cfg.InstanceName == "" {
		cfg.InstanceName = "splat-orchestrator"
	}
	return &InstanceManager{
		provider: provider,
		cfg:      cfg,
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// Provider returns the underlying cloud provider
func (m *InstanceManager) Provider() CloudProvider {
	return m.provider
}

// FindActiveInstance returns the first active instance whose type and region are allowed
func (m *InstanceManager) FindActiveInstance(ctx context.Context, allowedTypes, allowedRegions []string) (*models.Instance, error) {
	return m.FindInstance(ctx, models.InstanceActive, allowedTypes, allowedRegions)
}

// FindInstance returns the first instance in list order with the given status
// whose type and region are both in the allow-lists. It returns nil when none match.
func (m *InstanceManager) FindInstance(
	ctx context.Context,
	status models.InstanceStatus,
	allowedTypes []string,
	allowedRegions []string,
) (*models.Instance, error) {
	instances, err := m.provider.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	for i := range instances {
		inst := instances[i]
		if inst.Status != status {
			continue
		}
		if !slices.Contains(allowedTypes, inst.InstanceType) {
			continue
		}
		if !slices.Contains(allowedRegions, inst.Region) {
			continue
		}
		return &inst, nil
	}
	return nil, nil
}

// SelectLaunchTarget picks the first (type, region) pair with capacity, honouring
// the caller's type priority rather than price.
func SelectLaunchTarget(
	available map[string]models.InstanceTypeAvailability,
	preferredTypes []string,
	allowedRegions []string,
) (string, string, error) {
	for _, instanceType := range preferredTypes {
		info, ok := available[instanceType]
		if !ok {
			continue
		}
		for _, region := range info.RegionsWithCapacity {
			if slices.Contains(allowedRegions, region) {
				return instanceType, region, nil
			}
		}
	}
	return "", "", ErrNoCapacity
}

// Launch starts one instance of the first preferred type with capacity in an allowed region
func (m *InstanceManager) Launch(ctx context.Context, preferredTypes, allowedRegions []string) (*models.Instance, error) {
	available, err := m.provider.ListInstanceTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list instance types: %w", err)
	}

	instanceType, region, err := SelectLaunchTarget(available, preferredTypes, allowedRegions)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("provider", string(m.provider.Name())).
		Str("instance_type", instanceType).
		Str("region", region).
		Msg("launching instance")

	instanceID, err := m.provider.LaunchInstance(ctx, models.LaunchRequest{
		InstanceType: instanceType,
		Region:       region,
		SSHKeyNames:  m.cfg.SSHKeyNames,
		Name:         m.cfg.InstanceName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s in %s: %w", instanceType, region, err)
	}

	launchedAt := m.now()
	return &models.Instance{
		ID:           instanceID,
		Name:         m.cfg.InstanceName,
		InstanceType: instanceType,
		Region:       region,
		Status:       models.InstanceBooting,
		Provider:     m.provider.Name(),
		LaunchedAt:   &launchedAt,
	}, nil
}

// AwaitActive polls the instance every PollInterval until it reports active.
// It gives up after MaxWait with a *ProvisioningTimeoutError.
func (m *InstanceManager) AwaitActive(ctx context.Context, instanceID string) (*models.Instance, error) {
	start := m.now()
	lastStatus := ""

	for {
		if err := m.sleep(ctx, m.cfg.PollInterval); err != nil {
			return nil, err
		}

		inst, err := m.provider.GetInstance(ctx, instanceID)
		if err != nil {
			return nil, fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
		}
		lastStatus = string(inst.Status)
		if inst.Status == models.InstanceActive {
			log.Info().Str("instance_id", instanceID).Str("ip", inst.IP).Msg("instance active")
			return inst, nil
		}

		waited := m.now().Sub(start)
		if waited+m.cfg.PollInterval > m.cfg.MaxWait {
			return nil, &ProvisioningTimeoutError{
				InstanceID: instanceID,
				LastStatus: lastStatus,
				Waited:     waited,
			}
		}
		log.Info().
			Str("instance_id", instanceID).
			Str("status", lastStatus).
			Dur("waited", waited).
			Msg("waiting for instance")
	}
}

// EnsureInstance reuses an active instance or launches and waits for a new one.
// The boolean result reports whether a launch happened.
func (m *InstanceManager) EnsureInstance(ctx context.Context, preferredTypes, allowedRegions []string) (*models.Instance, bool, error) {
	existing, err := m.FindActiveInstance(ctx, preferredTypes, allowedRegions)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		log.Info().Str("instance_id", existing.ID).Str("region", existing.Region).Msg("reusing running instance")
		return existing, false, nil
	}

	launched, err := m.Launch(ctx, preferredTypes, allowedRegions)
	if err != nil {
		return nil, false, err
	}

	active, err := m.AwaitActive(ctx, launched.ID)
	if err != nil {
		return nil, true, err
	}
	if active.InstanceType == "" {
		active.InstanceType = launched.InstanceType
	}
	if active.Region == "" {
		active.Region = launched.Region
	}
	return active, true, nil
}

// Terminate terminates an instance. The provider's response is surfaced as-is
// and never retried.
func (m *InstanceManager) Terminate(ctx context.Context, instanceID string) (*models.TerminatedInstance, error) {
	terminated, err := m.provider.TerminateInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to terminate instance %s: %w", instanceID, err)
	}
	log.Info().Str("instance_id", instanceID).Msg("instance terminated")
	return terminated, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
