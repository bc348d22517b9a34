package resource_manager

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoCapacity means no preferred type has capacity in an allowed region
	ErrNoCapacity = errors.New("no capacity available for preferred instance types in allowed regions")
	// ErrNoActiveInstance means no active instance matches the allow-lists
	ErrNoActiveInstance = errors.New("no running instance found, start an instance first")
)

// ProvisioningTimeoutError is returned when an instance fails to become active in time
type ProvisioningTimeoutError struct {
	InstanceID string
	LastStatus string
	Waited     time.Duration
}

func (e *ProvisioningTimeoutError) Error() string {
	return fmt.Sprintf("instance %s not active after %s (last status %q)", e.InstanceID, e.Waited, e.LastStatus)
}
