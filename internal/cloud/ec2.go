package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// EC2Provider implements Provider against AWS EC2
type EC2Provider struct {
	client *ec2.Client
}

// NewEC2Provider creates a provider using the default AWS credential chain
func NewEC2Provider(ctx context.Context, region string) (*EC2Provider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return &EC2Provider{client: ec2.NewFromConfig(cfg)}, nil
}

// Launch starts one instance in the pool's zone. Discounted launches use
// the spot market; stable launches pay the on-demand rate.
func (p *EC2Provider) Launch(ctx context.Context, req LaunchRequest) (*LaunchResult, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(req.Pool.Launch.ImageID),
		InstanceType: ec2types.InstanceType(req.Pool.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		Placement: &ec2types.Placement{
			AvailabilityZone: aws.String(req.Pool.Zone),
		},
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeInstance,
				Tags: []ec2types.Tag{
					{Key: aws.String("spotguard-agent"), Value: aws.String(req.AgentID)},
					{Key: aws.String("spotguard-pool"), Value: aws.String(req.Pool.Name)},
				},
			},
		},
	}

	if req.Pool.Launch.SubnetID != "" {
		input.SubnetId = aws.String(req.Pool.Launch.SubnetID)
	}
	if req.Pool.Launch.SecurityGroupID != "" {
		input.SecurityGroupIds = []string{req.Pool.Launch.SecurityGroupID}
	}
	if !req.StableCapacity {
		input.InstanceMarketOptions = &ec2types.InstanceMarketOptionsRequest{
			MarketType: ec2types.MarketTypeSpot,
			SpotOptions: &ec2types.SpotMarketOptions{
				SpotInstanceType:             ec2types.SpotInstanceTypeOneTime,
				InstanceInterruptionBehavior: ec2types.InstanceInterruptionBehaviorTerminate,
			},
		}
	}

	output, err := p.client.RunInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("run instance in pool %s: %w", req.Pool.Name, err)
	}
	if len(output.Instances) == 0 {
		return nil, fmt.Errorf("run instance in pool %s: no instance returned", req.Pool.Name)
	}

	instance := output.Instances[0]
	result := &LaunchResult{
		ProviderID: aws.ToString(instance.InstanceId),
		Zone:       req.Pool.Zone,
	}
	if instance.Placement != nil {
		result.Zone = aws.ToString(instance.Placement.AvailabilityZone)
	}

	return result, nil
}

// Terminate requests termination of an instance
func (p *EC2Provider) Terminate(ctx context.Context, providerID string) error {
	_, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{providerID},
	})
	if err != nil {
		return fmt.Errorf("terminate instance %s: %w", providerID, err)
	}
	return nil
}

// Describe returns the provider's current view of an instance
func (p *EC2Provider) Describe(ctx context.Context, providerID string) (*InstanceInfo, error) {
	output, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{providerID},
	})
	if err != nil {
		return nil, fmt.Errorf("describe instance %s: %w", providerID, err)
	}

	for _, reservation := range output.Reservations {
		for _, instance := range reservation.Instances {
			info := &InstanceInfo{
				ProviderID: aws.ToString(instance.InstanceId),
				State:      string(instance.State.Name),
			}
			if instance.Placement != nil {
				info.Zone = aws.ToString(instance.Placement.AvailabilityZone)
			}
			return info, nil
		}
	}

	return nil, fmt.Errorf("describe instance %s: not found", providerID)
}
