package lambda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"splat-orchestrator/core/models"

	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the public Lambda Labs Cloud API
const DefaultBaseURL = "https://cloud.lambdalabs.com/api/v1"

// APIError is a non-2xx response from the Lambda Labs API
type APIError struct {
	StatusCode int    `json:"status"`
	Status     string `json:"statusText"`
	Body       string `json:"details"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lambda labs api: %s: %s", e.Status, strings.TrimSpace(e.Body))
}

// HTTPStatus returns the upstream status code for passthrough
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Detail returns the raw response body
func (e *APIError) Detail() string { return e.Body }

// Client wraps the Lambda Labs REST API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Lambda Labs client
func NewClient(apiKey, baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

type apiRegion struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type apiInstanceType struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	PriceCentsPerHour int    `json:"price_cents_per_hour"`
}

type apiInstance struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	IP           string          `json:"ip"`
	Status       string          `json:"status"`
	Region       apiRegion       `json:"region"`
	InstanceType apiInstanceType `json:"instance_type"`
}

type launchBody struct {
	RegionName       string   `json:"region_name"`
	InstanceTypeName string   `json:"instance_type_name"`
	SSHKeyNames      []string `json:"ssh_key_names"`
	Quantity         int      `json:"quantity"`
	Name             string   `json:"name,omitempty"`
}

func (a apiInstance) toModel() models.Instance {
	return models.Instance{
		ID:           a.ID,
		Name:         a.Name,
		IP:           a.IP,
		InstanceType: a.InstanceType.Name,
		Region:       a.Region.Name,
		Status:       mapStatus(a.Status),
		Provider:     models.ProviderLambda,
	}
}

func mapStatus(s string) models.InstanceStatus {
	switch s {
	case "active":
		return models.InstanceActive
	case "booting":
		return models.InstanceBooting
	case "terminated", "terminating":
		return models.InstanceTerminated
	default:
		return models.InstanceUnhealthy
	}
}

// Name implements resource_manager.CloudProvider
func (c *Client) Name() models.Provider { return models.ProviderLambda }

// ListInstances returns every instance on the account in API order
func (c *Client) ListInstances(ctx context.Context) ([]models.Instance, error) {
	var resp struct {
		Data []apiInstance `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/instances", nil, &resp); err != nil {
		return nil, err
	}

	instances := make([]models.Instance, 0, len(resp.Data))
	for _, inst := range resp.Data {
		instances = append(instances, inst.toModel())
	}
	return instances, nil
}

// ListInstanceTypes returns each type with the regions that currently have capacity
func (c *Client) ListInstanceTypes(ctx context.Context) (map[string]models.InstanceTypeAvailability, error) {
	var resp struct {
		Data map[string]struct {
			InstanceType apiInstanceType `json:"instance_type"`
			Regions      []apiRegion     `json:"regions_with_capacity_available"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/instance-types", nil, &resp); err != nil {
		return nil, err
	}

	types := make(map[string]models.InstanceTypeAvailability, len(resp.Data))
	for name, entry := range resp.Data {
		regions := make([]string, 0, len(entry.Regions))
		for _, r := range entry.Regions {
			regions = append(regions, r.Name)
		}
		types[name] = models.InstanceTypeAvailability{
			Name:                name,
			Description:         entry.InstanceType.Description,
			PriceCentsPerHour:   entry.InstanceType.PriceCentsPerHour,
			RegionsWithCapacity: regions,
		}
	}
	return types, nil
}

// LaunchInstance launches exactly one instance and returns its id
func (c *Client) LaunchInstance(ctx context.Context, req models.LaunchRequest) (string, error) {
	body := launchBody{
		RegionName:       req.Region,
		InstanceTypeName: req.InstanceType,
		SSHKeyNames:      req.SSHKeyNames,
		Quantity:         1,
		Name:             req.Name,
	}
	if body.SSHKeyNames == nil {
		body.SSHKeyNames = []string{}
	}

	var resp struct {
		Data struct {
			InstanceIDs []string `json:"instance_ids"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/instance-operations/launch", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Data.InstanceIDs) == 0 {
		return "", fmt.Errorf("lambda labs launch returned no instance ids")
	}
	return resp.Data.InstanceIDs[0], nil
}

// GetInstance describes one instance
func (c *Client) GetInstance(ctx context.Context, instanceID string) (*models.Instance, error) {
	var resp struct {
		Data apiInstance `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/instances/"+instanceID, nil, &resp); err != nil {
		return nil, err
	}
	inst := resp.Data.toModel()
	return &inst, nil
}

// TerminateInstance terminates one instance and returns the API's record of it
func (c *Client) TerminateInstance(ctx context.Context, instanceID string) (*models.TerminatedInstance, error) {
	body := map[string][]string{"instance_ids": {instanceID}}

	var resp struct {
		Data struct {
			TerminatedInstances []json.RawMessage `json:"terminated_instances"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/instance-operations/terminate", body, &resp); err != nil {
		return nil, err
	}

	terminated := &models.TerminatedInstance{
		Instance: models.Instance{ID: instanceID, Status: models.InstanceTerminated, Provider: models.ProviderLambda},
	}
	if len(resp.Data.TerminatedInstances) > 0 {
		raw := resp.Data.TerminatedInstances[0]
		var inst apiInstance
		if err := json.Unmarshal(raw, &inst); err == nil && inst.ID != "" {
			terminated.Instance = inst.toModel()
		}
		_ = json.Unmarshal(raw, &terminated.ProviderPayload)
	}
	return terminated, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("lambda labs %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		log.Warn().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("lambda labs request failed")
		return &APIError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode), Body: string(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
