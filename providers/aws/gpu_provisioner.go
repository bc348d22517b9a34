package aws

import (
	"context"
	"fmt"

	"splat-orchestrator/core/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// ListInstanceTypes reports, per configured type, the regions that offer it.
// EC2 has no live capacity API, so an offering counts as capacity.
func (c *Client) ListInstanceTypes(ctx context.Context) (map[string]models.InstanceTypeAvailability, error) {
	available := make(map[string]models.InstanceTypeAvailability, len(c.opts.InstanceTypes))
	for _, name := range c.opts.InstanceTypes {
		available[name] = models.InstanceTypeAvailability{Name: name, RegionsWithCapacity: []string{}}
	}
	if len(c.opts.InstanceTypes) == 0 {
		return available, nil
	}

	for _, region := range c.opts.Regions {
		input := &ec2.DescribeInstanceTypeOfferingsInput{
			LocationType: types.LocationTypeRegion,
			Filters: []types.Filter{
				{Name: aws.String("instance-type"), Values: c.opts.InstanceTypes},
			},
		}
		out, err := c.clients[region].DescribeInstanceTypeOfferings(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to describe offerings in %s: %w", region, err)
		}
		for _, offering := range out.InstanceTypeOfferings {
			name := string(offering.InstanceType)
			entry := available[name]
			entry.Name = name
			entry.RegionsWithCapacity = append(entry.RegionsWithCapacity, region)
			available[name] = entry
		}
	}
	return available, nil
}

// LaunchInstance provisions one on-demand GPU instance tagged as managed
func (c *Client) LaunchInstance(ctx context.Context, req models.LaunchRequest) (string, error) {
	client, ok := c.clients[req.Region]
	if !ok {
		return "", fmt.Errorf("region %s is not configured", req.Region)
	}

	amiID, err := c.GetGPUOptimizedAMI(ctx, req.Region)
	if err != nil {
		return "", fmt.Errorf("failed to get GPU AMI: %w", err)
	}

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("splat-%s", req.InstanceType)
	}

	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(amiID),
		InstanceType: types.InstanceType(req.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags: []types.Tag{
					{Key: aws.String("Name"), Value: aws.String(name)},
					{Key: aws.String("ManagedBy"), Value: aws.String(ManagedByTag)},
				},
			},
		},
	}
	if len(req.SSHKeyNames) > 0 {
		input.KeyName = aws.String(req.SSHKeyNames[0])
	}
	if c.opts.InstanceProfile != "" {
		input.IamInstanceProfile = &types.IamInstanceProfileSpecification{
			Name: aws.String(c.opts.InstanceProfile),
		}
	}

	result, err := client.RunInstances(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to provision instance: %w", err)
	}
	if len(result.Instances) == 0 {
		return "", fmt.Errorf("RunInstances returned no instances")
	}
	return aws.ToString(result.Instances[0].InstanceId), nil
}

// TerminateInstance terminates the instance in whichever region holds it
func (c *Client) TerminateInstance(ctx context.Context, instanceID string) (*models.TerminatedInstance, error) {
	region, inst, err := c.locate(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	out, err := c.clients[region].TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to terminate %s: %w", instanceID, err)
	}

	terminated := &models.TerminatedInstance{Instance: *inst}
	terminated.Status = models.InstanceTerminated
	for _, change := range out.TerminatingInstances {
		if aws.ToString(change.InstanceId) != instanceID {
			continue
		}
		payload := map[string]interface{}{"instance_id": instanceID}
		if change.PreviousState != nil {
			payload["previous_state"] = string(change.PreviousState.Name)
		}
		if change.CurrentState != nil {
			payload["current_state"] = string(change.CurrentState.Name)
		}
		terminated.ProviderPayload = payload
	}
	return terminated, nil
}
