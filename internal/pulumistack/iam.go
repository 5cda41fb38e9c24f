package pulumistack

import (
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/iam"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

// IdentityResources holds the instance profiles wrapping referenced roles.
// The roles themselves are never created or modified.
type IdentityResources struct {
	InstanceProfiles map[string]*iam.InstanceProfile
}

// createIdentityResources creates one instance profile per role used by a
// compute group.
func (a *Applier) createIdentityResources(g *topology.Graph) (*IdentityResources, error) {
	res := &IdentityResources{InstanceProfiles: make(map[string]*iam.InstanceProfile)}

	for _, cg := range g.ComputeGroups {
		if cg.Identity == "" {
			continue
		}
		if _, ok := res.InstanceProfiles[cg.Identity]; ok {
			continue
		}
		binding, ok := g.Identity(cg.Identity)
		if !ok {
			return nil, missing(topology.KindIdentity, cg.Identity)
		}

		// Create instance profile for the existing role
		profile, err := iam.NewInstanceProfile(a.ctx, resourceName(binding.Name, "profile"), &iam.InstanceProfileArgs{
			Role: pulumi.String(binding.Name),
			Tags: a.tags(binding.Name),
		})
		if err != nil {
			return nil, err
		}
		res.InstanceProfiles[cg.Identity] = profile
	}
	return res, nil
}
