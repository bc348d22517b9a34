package models

import "time"

// Provider represents a cloud provider
type Provider string

const (
	ProviderLambda Provider = "lambda"
	ProviderAWS    Provider = "aws"
)

// InstanceStatus represents the lifecycle state of a leased instance
type InstanceStatus string

const (
	InstanceBooting    InstanceStatus = "booting"
	InstanceActive     InstanceStatus = "active"
	InstanceTerminated InstanceStatus = "terminated"
	InstanceUnhealthy  InstanceStatus = "unhealthy"
)

// Instance represents a GPU instance leased from a provider.
// It is a handle into the provider's inventory, not something we own.
type Instance struct {
	ID           string         `json:"id"`
	Name         string         `json:"name,omitempty"`
	IP           string         `json:"ip,omitempty"`
	InstanceType string         `json:"instance_type"`
	Region       string         `json:"region"`
	Status       InstanceStatus `json:"status"`
	Provider     Provider       `json:"provider"`
	LaunchedAt   *time.Time     `json:"launched_at,omitempty"`
}

// InstanceTypeAvailability lists the regions where a type currently has capacity
type InstanceTypeAvailability struct {
	Name                string   `json:"name"`
	Description         string   `json:"description,omitempty"`
	PriceCentsPerHour   int      `json:"price_cents_per_hour,omitempty"`
	RegionsWithCapacity []string `json:"regions_with_capacity"`
}

// LaunchRequest describes a single instance launch
type LaunchRequest struct {
	InstanceType string
	Region       string
	SSHKeyNames  []string
	Name         string
}

// TerminatedInstance is the provider's view of an instance after termination
type TerminatedInstance struct {
	Instance
	ProviderPayload map[string]interface{} `json:"provider_payload,omitempty"`
}
