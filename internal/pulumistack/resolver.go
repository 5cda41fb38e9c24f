package pulumistack

import (
	"context"
	"fmt"
	"strings"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/ec2"
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/iam"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"go.uber.org/zap"

	"github.com/meni432/hello-cdk-aws-lab/internal/lookup"
	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

// Resolver looks up networks and roles through the provider's data sources,
// so a Pulumi program needs no separate AWS credentials.
type Resolver struct {
	ctx *pulumi.Context
	log *zap.Logger
}

var (
	_ topology.NetworkResolver  = (*Resolver)(nil)
	_ topology.IdentityResolver = (*Resolver)(nil)
)

// NewResolver returns a Resolver bound to a running Pulumi program.
func NewResolver(ctx *pulumi.Context, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{ctx: ctx, log: logger}
}

// Messages the provider returns when a data source matches nothing.
const (
	vpcNotFoundMessage  = "no matching EC2 VPC found"
	roleNotFoundMessage = "NoSuchEntity"
)

// vpcNotFound reports whether the VPC data source failed because no VPC
// has the requested ID.
func vpcNotFound(err error) bool {
	return strings.Contains(err.Error(), vpcNotFoundMessage)
}

// roleNotFound reports whether the role data source failed because IAM
// has no role of that name.
func roleNotFound(err error) bool {
	return strings.Contains(err.Error(), roleNotFoundMessage)
}

// ResolveNetwork implements topology.NetworkResolver.
func (r *Resolver) ResolveNetwork(_ context.Context, id string) (topology.NetworkRef, error) {
	vpc, err := ec2.LookupVpc(r.ctx, &ec2.LookupVpcArgs{Id: pulumi.StringRef(id)})
	if err != nil {
		if vpcNotFound(err) {
			return topology.NetworkRef{}, &topology.NotFoundError{Kind: topology.KindNetwork, ID: id, Reason: "no such VPC", Err: err}
		}
		return topology.NetworkRef{}, fmt.Errorf("lookup vpc %s: %w", id, err)
	}

	found, err := ec2.GetSubnets(r.ctx, &ec2.GetSubnetsArgs{
		Filters: []ec2.GetSubnetsFilter{
			{
				Name:   "vpc-id",
				Values: []string{id},
			},
		},
	})
	if err != nil {
		return topology.NetworkRef{}, fmt.Errorf("list subnets of %s: %w", id, err)
	}

	network := topology.NetworkRef{ID: vpc.Id, CIDR: vpc.CidrBlock}
	for _, subnetID := range found.Ids {
		s, err := ec2.LookupSubnet(r.ctx, &ec2.LookupSubnetArgs{Id: pulumi.StringRef(subnetID)})
		if err != nil {
			return topology.NetworkRef{}, fmt.Errorf("lookup subnet %s: %w", subnetID, err)
		}
		network.Subnets = append(network.Subnets, topology.Subnet{
			ID:   s.Id,
			Zone: s.AvailabilityZone,
			Type: lookup.SubnetTypeFromTags(s.Tags, s.MapPublicIpOnLaunch),
		})
	}
	lookup.SortSubnets(network.Subnets)

	r.log.Debug("looked up network",
		zap.String("id", id),
		zap.Int("subnets", len(network.Subnets)))
	return network, nil
}

// ResolveIdentity implements topology.IdentityResolver.
func (r *Resolver) ResolveIdentity(_ context.Context, roleARN string) (topology.IdentityBinding, error) {
	binding, err := topology.ParseRoleARN(roleARN)
	if err != nil {
		return topology.IdentityBinding{}, err
	}

	role, err := iam.LookupRole(r.ctx, &iam.LookupRoleArgs{Name: binding.Name})
	if err != nil {
		if roleNotFound(err) {
			return topology.IdentityBinding{}, &topology.NotFoundError{Kind: topology.KindIdentity, ID: roleARN, Reason: "no such role", Err: err}
		}
		return topology.IdentityBinding{}, fmt.Errorf("lookup role %s: %w", binding.Name, err)
	}
	if role.Arn != roleARN {
		return topology.IdentityBinding{}, &topology.NotFoundError{
			Kind:   topology.KindIdentity,
			ID:     roleARN,
			Reason: fmt.Sprintf("role %s has ARN %s", binding.Name, role.Arn),
		}
	}
	return binding, nil
}
