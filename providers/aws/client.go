package aws

import (
	"context"
	"fmt"

	"splat-orchestrator/core/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// ManagedByTag marks instances launched by this service
const ManagedByTag = "splat-orchestrator"

// ec2API is the subset of the EC2 client used here
type ec2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeInstanceTypeOfferings(ctx context.Context, params *ec2.DescribeInstanceTypeOfferingsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceTypeOfferingsOutput, error)
	DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// Options configures the EC2 provider
type Options struct {
	// Regions are queried in order for instances and capacity.
	Regions []string
	// InstanceTypes limits the capacity query to these types.
	InstanceTypes []string
	// AMIID skips the DescribeImages lookup when set.
	AMIID string
	// InstanceProfile is attached to launched instances when set.
	InstanceProfile string
}

// Client is the AWS provider client. It holds one EC2 client per region.
type Client struct {
	clients map[string]ec2API
	opts    Options
}

// NewClient creates a new AWS client
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if len(opts.Regions) == 0 {
		return nil, fmt.Errorf("at least one EC2 region is required")
	}

	clients := make(map[string]ec2API, len(opts.Regions))
	for _, region := range opts.Regions {
		cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config for %s: %w", region, err)
		}
		clients[region] = ec2.NewFromConfig(cfg)
	}

	return &Client{clients: clients, opts: opts}, nil
}

// Name implements resource_manager.CloudProvider
func (c *Client) Name() models.Provider { return models.ProviderAWS }

// ListInstances returns managed instances across all configured regions
func (c *Client) ListInstances(ctx context.Context) ([]models.Instance, error) {
	var instances []models.Instance
	for _, region := range c.opts.Regions {
		found, err := c.describe(ctx, region, managedFilter())
		if err != nil {
			return nil, err
		}
		instances = append(instances, found...)
	}
	return instances, nil
}

// GetInstance looks the instance up in each configured region
func (c *Client) GetInstance(ctx context.Context, instanceID string) (*models.Instance, error) {
	_, inst, err := c.locate(ctx, instanceID)
	return inst, err
}

func (c *Client) locate(ctx context.Context, instanceID string) (string, *models.Instance, error) {
	for _, region := range c.opts.Regions {
		found, err := c.describe(ctx, region, []types.Filter{
			{Name: aws.String("instance-id"), Values: []string{instanceID}},
		})
		if err != nil {
			return "", nil, err
		}
		if len(found) > 0 {
			return region, &found[0], nil
		}
	}
	return "", nil, fmt.Errorf("instance %s not found in regions %v", instanceID, c.opts.Regions)
}

func (c *Client) describe(ctx context.Context, region string, filters []types.Filter) ([]models.Instance, error) {
	client := c.clients[region]
	input := &ec2.DescribeInstancesInput{Filters: filters}

	var instances []models.Instance
	for {
		out, err := client.DescribeInstances(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances in %s: %w", region, err)
		}
		for _, reservation := range out.Reservations {
			for _, inst := range reservation.Instances {
				instances = append(instances, toModel(region, inst))
			}
		}
		if out.NextToken == nil || *out.NextToken == "" {
			return instances, nil
		}
		input.NextToken = out.NextToken
	}
}

func managedFilter() []types.Filter {
	return []types.Filter{
		{Name: aws.String("tag:ManagedBy"), Values: []string{ManagedByTag}},
	}
}

func toModel(region string, inst types.Instance) models.Instance {
	m := models.Instance{
		ID:           aws.ToString(inst.InstanceId),
		IP:           aws.ToString(inst.PublicIpAddress),
		InstanceType: string(inst.InstanceType),
		Region:       region,
		Provider:     models.ProviderAWS,
		LaunchedAt:   inst.LaunchTime,
	}
	if inst.State != nil {
		m.Status = mapState(inst.State.Name)
	}
	for _, tag := range inst.Tags {
		if aws.ToString(tag.Key) == "Name" {
			m.Name = aws.ToString(tag.Value)
		}
	}
	return m
}

func mapState(state types.InstanceStateName) models.InstanceStatus {
	switch state {
	case types.InstanceStateNamePending:
		return models.InstanceBooting
	case types.InstanceStateNameRunning:
		return models.InstanceActive
	case types.InstanceStateNameShuttingDown, types.InstanceStateNameTerminated:
		return models.InstanceTerminated
	default:
		return models.InstanceUnhealthy
	}
}
