package ec2

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/simple-video/pkg/simplevideo"
)

// API is the subset of the EC2 client the controller uses
type API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	ModifyInstanceAttribute(ctx context.Context, params *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
}

// Controller implements simplevideo.InstanceController on EC2
type Controller struct {
	client API
}

// New creates a controller over an EC2 client
func New(client API) *Controller {
	return &Controller{client: client}
}

// NewFromConfig creates a controller from a resolved AWS config
func NewFromConfig(cfg aws.Config, endpoint string) *Controller {
	var opts []func(*ec2.Options)
	if endpoint != "" {
		opts = append(opts, func(o *ec2.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return New(ec2.NewFromConfig(cfg, opts...))
}

// liveStates excludes terminated hosts from selection
var liveStates = []string{"pending", "running", "stopping", "stopped"}

// DescribeInstance returns the first live instance carrying the selector tag
func (c *Controller) DescribeInstance(ctx context.Context, selector simplevideo.TagSelector) (*simplevideo.Instance, error) {
	out, err := c.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: aws.String("tag:" + selector.Key), Values: []string{selector.Value}},
			{Name: aws.String("instance-state-name"), Values: liveStates},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instances: %w", err)
	}

	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			if inst.InstanceId == nil {
				continue
			}
			return toInstance(inst), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", simplevideo.ErrInstanceNotFound, selector)
}

func toInstance(inst types.Instance) *simplevideo.Instance {
	var state types.InstanceStateName
	if inst.State != nil {
		state = inst.State.Name
	}
	return &simplevideo.Instance{
		ID:            aws.ToString(inst.InstanceId),
		PublicAddress: aws.ToString(inst.PublicIpAddress),
		State:         mapState(state),
	}
}

func mapState(name types.InstanceStateName) simplevideo.InstanceState {
	switch name {
	case types.InstanceStateNameRunning:
		return simplevideo.InstanceRunning
	case types.InstanceStateNameStopped:
		return simplevideo.InstanceStopped
	case types.InstanceStateNamePending:
		return simplevideo.InstanceStarting
	default:
		return simplevideo.InstanceStopping
	}
}

// SetBootScript replaces the instance user data. EC2 only accepts this while
// the instance is stopped. The SDK base64-encodes the blob.
func (c *Controller) SetBootScript(ctx context.Context, instanceID string, script string) error {
	if script == "" {
		return errors.New("boot script cannot be empty")
	}
	_, err := c.client.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId: aws.String(instanceID),
		UserData:   &types.BlobAttributeValue{Value: []byte(script)},
	})
	if err != nil {
		return fmt.Errorf("failed to modify user data of %s: %w", instanceID, mapAPIError(instanceID, err))
	}
	return nil
}

func (c *Controller) StopInstance(ctx context.Context, instanceID string) error {
	_, err := c.client.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return fmt.Errorf("failed to stop %s: %w", instanceID, mapAPIError(instanceID, err))
	}
	return nil
}

func (c *Controller) StartInstance(ctx context.Context, instanceID string) error {
	_, err := c.client.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", instanceID, mapAPIError(instanceID, err))
	}
	return nil
}

// mapAPIError turns the EC2 error codes for vanished instances into
// ErrInstanceNotFound and leaves every other error untouched.
func mapAPIError(instanceID string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidInstanceID.NotFound", "InvalidInstanceID.Malformed":
			return fmt.Errorf("%w: %s (%s)", simplevideo.ErrInstanceNotFound, instanceID, apiErr.ErrorMessage())
		}
	}
	return err
}
