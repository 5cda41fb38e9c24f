package pulumistack

import (
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

// subnetIDs returns the subnets of the given placement as a Pulumi array.
func subnetIDs(n topology.NetworkRef, t topology.SubnetType) pulumi.StringArray {
	ids := pulumi.StringArray{}
	for _, s := range n.SubnetsOf(t) {
		ids = append(ids, pulumi.String(s.ID))
	}
	return ids
}

// loadBalancerSubnets picks the subnets an application load balancer is
// placed in: public ones when internet-facing, otherwise every private one.
func loadBalancerSubnets(n topology.NetworkRef, public bool) pulumi.StringArray {
	if public {
		return subnetIDs(n, topology.SubnetPublic)
	}
	ids := subnetIDs(n, topology.SubnetPrivateWithEgress)
	return append(ids, subnetIDs(n, topology.SubnetPrivateIsolated)...)
}

func network(g *topology.Graph, id string) (topology.NetworkRef, error) {
	n, ok := g.Network(id)
	if !ok {
		return topology.NetworkRef{}, missing(topology.KindNetwork, id)
	}
	return n, nil
}

// ingressSource is where load balancer traffic may come from.
func ingressSource(n topology.NetworkRef, public bool) string {
	if public || n.CIDR == "" {
		return "0.0.0.0/0"
	}
	return n.CIDR
}
