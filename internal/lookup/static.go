package lookup

import (
	"context"

	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

// Static resolves from data known up front, such as the subnets listed in a
// topology file. It never leaves the process.
type Static struct {
	Networks map[string]topology.NetworkRef

	// Roles lists the role ARNs that exist. A nil set accepts any
	// well-formed role ARN.
	Roles map[string]bool
}

// NewStatic returns a Static resolver over the given networks.
func NewStatic(networks ...topology.NetworkRef) *Static {
	s := &Static{Networks: make(map[string]topology.NetworkRef, len(networks))}
	for _, n := range networks {
		s.Networks[n.ID] = n
	}
	return s
}

// ResolveNetwork implements topology.NetworkResolver.
func (s *Static) ResolveNetwork(_ context.Context, id string) (topology.NetworkRef, error) {
	n, ok := s.Networks[id]
	if !ok {
		return topology.NetworkRef{}, &topology.NotFoundError{
			Kind:   topology.KindNetwork,
			ID:     id,
			Reason: "not listed in the topology file",
		}
	}
	n.Subnets = append([]topology.Subnet(nil), n.Subnets...)
	return n, nil
}

// ResolveIdentity implements topology.IdentityResolver.
func (s *Static) ResolveIdentity(_ context.Context, roleARN string) (topology.IdentityBinding, error) {
	if s.Roles != nil && !s.Roles[roleARN] {
		return topology.IdentityBinding{}, &topology.NotFoundError{
			Kind:   topology.KindIdentity,
			ID:     roleARN,
			Reason: "not listed in the topology file",
		}
	}
	return topology.ParseRoleARN(roleARN)
}
