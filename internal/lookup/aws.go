package lookup

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"go.uber.org/zap"

	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

// SubnetTypeTag is the tag CDK-built VPCs carry on every subnet.
const SubnetTypeTag = "aws-cdk:subnet-type"

// EC2API is the part of the EC2 client used for network lookups.
type EC2API interface {
	DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
}

// IAMAPI is the part of the IAM client used for role lookups.
type IAMAPI interface {
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
}

// AWS resolves against the live account. Each call is a single lookup with
// no retry beyond what the SDK does.
type AWS struct {
	EC2    EC2API
	IAM    IAMAPI
	Logger *zap.Logger
}

// NewAWS loads the default credential chain and returns a resolver for the
// given region. An empty region uses the chain's region.
func NewAWS(ctx context.Context, region string, logger *zap.Logger) (*AWS, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AWS{
		EC2:    ec2.NewFromConfig(cfg),
		IAM:    iam.NewFromConfig(cfg),
		Logger: logger,
	}, nil
}

func (a *AWS) log() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// ResolveNetwork implements topology.NetworkResolver.
func (a *AWS) ResolveNetwork(ctx context.Context, id string) (topology.NetworkRef, error) {
	vpcFilter := []ec2types.Filter{{Name: aws.String("vpc-id"), Values: []string{id}}}

	vpcs, err := a.EC2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{Filters: vpcFilter})
	if err != nil {
		return topology.NetworkRef{}, fmt.Errorf("describe vpc %s: %w", id, err)
	}
	if len(vpcs.Vpcs) == 0 {
		return topology.NetworkRef{}, &topology.NotFoundError{Kind: topology.KindNetwork, ID: id, Reason: "no such VPC"}
	}
	network := topology.NetworkRef{
		ID:   aws.ToString(vpcs.Vpcs[0].VpcId),
		CIDR: aws.ToString(vpcs.Vpcs[0].CidrBlock),
	}

	var subnets []ec2types.Subnet
	var nextToken *string
	for {
		resp, err := a.EC2.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
			Filters:   vpcFilter,
			NextToken: nextToken,
		})
		if err != nil {
			return topology.NetworkRef{}, fmt.Errorf("describe subnets of %s: %w", id, err)
		}
		subnets = append(subnets, resp.Subnets...)
		if resp.NextToken == nil {
			break
		}
		nextToken = resp.NextToken
	}

	for _, s := range subnets {
		network.Subnets = append(network.Subnets, topology.Subnet{
			ID:   aws.ToString(s.SubnetId),
			Zone: aws.ToString(s.AvailabilityZone),
			Type: classifySubnet(s),
		})
	}
	SortSubnets(network.Subnets)

	a.log().Debug("looked up network",
		zap.String("vpc_id", network.ID),
		zap.String("cidr", network.CIDR),
		zap.Int("subnets", len(network.Subnets)))
	return network, nil
}

func classifySubnet(s ec2types.Subnet) topology.SubnetType {
	tags := make(map[string]string, len(s.Tags))
	for _, tag := range s.Tags {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return SubnetTypeFromTags(tags, aws.ToBool(s.MapPublicIpOnLaunch))
}

// SubnetTypeFromTags reads the CDK subnet-type tag. Untagged subnets that
// assign public addresses are public; the rest are treated as private with
// egress.
func SubnetTypeFromTags(tags map[string]string, mapPublicIP bool) topology.SubnetType {
	if v, ok := tags[SubnetTypeTag]; ok {
		if t, err := topology.ParseSubnetType(v); err == nil {
			return t
		}
	}
	if mapPublicIP {
		return topology.SubnetPublic
	}
	return topology.SubnetPrivateWithEgress
}

// SortSubnets orders subnets by zone, then ID.
func SortSubnets(subnets []topology.Subnet) {
	sort.Slice(subnets, func(i, j int) bool {
		if subnets[i].Zone != subnets[j].Zone {
			return subnets[i].Zone < subnets[j].Zone
		}
		return subnets[i].ID < subnets[j].ID
	})
}

// ResolveIdentity implements topology.IdentityResolver.
func (a *AWS) ResolveIdentity(ctx context.Context, roleARN string) (topology.IdentityBinding, error) {
	binding, err := topology.ParseRoleARN(roleARN)
	if err != nil {
		return topology.IdentityBinding{}, err
	}

	resp, err := a.IAM.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(binding.Name)})
	if err != nil {
		var nse *iamtypes.NoSuchEntityException
		if errors.As(err, &nse) {
			return topology.IdentityBinding{}, &topology.NotFoundError{
				Kind:   topology.KindIdentity,
				ID:     roleARN,
				Reason: "no such role",
				Err:    err,
			}
		}
		return topology.IdentityBinding{}, fmt.Errorf("get role %s: %w", binding.Name, err)
	}
	if resp.Role != nil && aws.ToString(resp.Role.Arn) != roleARN {
		return topology.IdentityBinding{}, &topology.NotFoundError{
			Kind:   topology.KindIdentity,
			ID:     roleARN,
			Reason: fmt.Sprintf("role %s has ARN %s", binding.Name, aws.ToString(resp.Role.Arn)),
		}
	}

	a.log().Debug("looked up role", zap.String("arn", roleARN))
	return binding, nil
}
