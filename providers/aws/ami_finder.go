package aws

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// gpuAMIPattern matches the Ubuntu Deep Learning base image, which ships
// the NVIDIA driver, docker and the container toolkit.
const gpuAMIPattern = "Deep Learning Base OSS Nvidia Driver GPU AMI (Ubuntu 22.04)*"

// GetGPUOptimizedAMI returns the newest available GPU AMI in region
func (c *Client) GetGPUOptimizedAMI(ctx context.Context, region string) (string, error) {
	if c.opts.AMIID != "" {
		return c.opts.AMIID, nil
	}

	input := &ec2.DescribeImagesInput{
		Owners: []string{"amazon"},
		Filters: []types.Filter{
			{Name: aws.String("name"), Values: []string{gpuAMIPattern}},
			{Name: aws.String("state"), Values: []string{"available"}},
			{Name: aws.String("architecture"), Values: []string{"x86_64"}},
		},
	}

	result, err := c.clients[region].DescribeImages(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to describe images in %s: %w", region, err)
	}
	if len(result.Images) == 0 {
		return "", fmt.Errorf("no GPU AMI found in region %s", region)
	}

	images := result.Images
	// CreationDate is ISO 8601, so lexical order is chronological.
	sort.Slice(images, func(i, j int) bool {
		return aws.ToString(images[i].CreationDate) > aws.ToString(images[j].CreationDate)
	})
	return aws.ToString(images[0].ImageId), nil
}
