package manifest

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/meni432/hello-cdk-aws-lab/internal/logging"
	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

// StaticNetwork returns the network listed in the file, or false when the
// file names the VPC without its subnets.
func (f *File) StaticNetwork() (topology.NetworkRef, bool, error) {
	if len(f.Network.Subnets) == 0 {
		return topology.NetworkRef{}, false, nil
	}
	n := topology.NetworkRef{ID: f.Network.ID, CIDR: f.Network.CIDR}
	for _, s := range f.Network.Subnets {
		t, err := topology.ParseSubnetType(s.Type)
		if err != nil {
			return topology.NetworkRef{}, false, &topology.ValidationError{Resource: "subnet " + s.ID, Field: "type", Reason: err.Error()}
		}
		n.Subnets = append(n.Subnets, topology.Subnet{ID: s.ID, Zone: s.Zone, Type: t})
	}
	return n, true, nil
}

// Compile replays the file as builder calls and builds the graph. The order
// is fixed: identity, network, compute groups, load balancers, scaling
// policies, topics, buckets, outputs.
func Compile(ctx context.Context, f *File, b *topology.Builder) (*topology.Graph, error) {
	ctx = logging.AddFields(ctx, zap.String("topology", f.Name))
	c := &compiler{
		b:      b,
		groups: make(map[string]*topology.ComputeGroup),
		topics: make(map[string]*topology.Topic),
	}

	var roleARN string
	if f.Identity != nil && f.Identity.RoleARN != "" {
		if _, err := b.ReferenceIdentity(ctx, f.Identity.RoleARN); err != nil {
			return nil, err
		}
		roleARN = f.Identity.RoleARN
	}

	network, err := b.ResolveNetwork(ctx, f.Network.ID)
	if err != nil {
		return nil, err
	}
	logging.Debug(ctx, "network resolved",
		zap.String("network", network.ID),
		zap.Int("subnets", len(network.Subnets)))

	for _, cg := range f.ComputeGroups {
		if err := c.computeGroup(cg, network.ID, roleARN); err != nil {
			return nil, err
		}
	}
	for _, lb := range f.LoadBalancers {
		if err := c.loadBalancer(lb, network.ID); err != nil {
			return nil, err
		}
	}
	for _, cg := range f.ComputeGroups {
		for _, p := range cg.Scaling {
			if _, err := b.DeclareScalingPolicy(c.groups[cg.Name], p.Name, topology.Metric(p.Metric), p.Target); err != nil {
				return nil, err
			}
		}
	}
	for _, t := range f.Topics {
		topic, err := b.DeclareTopic(t.Name)
		if err != nil {
			return nil, err
		}
		c.topics[t.Name] = topic
	}
	for _, bk := range f.Buckets {
		if err := c.storageBucket(bk, roleARN); err != nil {
			return nil, err
		}
	}

	outputs := make(map[string]topology.Attribute, len(f.Outputs))
	for _, o := range f.Outputs {
		if _, dup := outputs[o.Name]; dup {
			return nil, &topology.ValidationError{Resource: "output", Field: "name", Reason: fmt.Sprintf("%q is listed twice", o.Name)}
		}
		ref, err := parseResource(o.Resource)
		if err != nil {
			return nil, err
		}
		outputs[o.Name] = topology.Attribute{Resource: ref, Name: o.Attribute}
	}
	if err := b.EmitOutputs(outputs); err != nil {
		return nil, err
	}

	g, err := b.Build()
	if err != nil {
		return nil, err
	}
	logging.Info(ctx, "compiled topology",
		zap.Int("resources", len(g.Resources())),
		zap.String("fingerprint", g.Fingerprint()))
	return g, nil
}

type compiler struct {
	b      *topology.Builder
	groups map[string]*topology.ComputeGroup
	topics map[string]*topology.Topic
}

func (c *compiler) computeGroup(cg ComputeGroup, networkID, roleARN string) error {
	spec := topology.ComputeGroupSpec{
		Shape:      cg.Shape,
		KeyPair:    cg.KeyPair,
		BootScript: topology.BootScript(cg.BootScript),
		Network:    networkID,
		Placement:  topology.SubnetType(cg.Placement),
		Identity:   roleARN,
		Capacity:   topology.Capacity{Min: 1, Max: 1},
	}
	if cg.Placement != "" {
		placement, err := topology.ParseSubnetType(cg.Placement)
		if err != nil {
			return &topology.ValidationError{Resource: cg.Name, Field: "placement", Reason: err.Error()}
		}
		spec.Placement = placement
	}
	if cg.Image != nil {
		spec.Image = topology.Image{ID: cg.Image.ID, Family: cg.Image.Family, Architecture: cg.Image.Architecture}
	}
	if cg.Capacity != nil {
		spec.Capacity = topology.Capacity{Min: cg.Capacity.Min, Max: cg.Capacity.Max, Desired: cg.Capacity.Desired}
	}

	group, err := c.b.DeclareComputeGroup(cg.Name, spec)
	if err != nil {
		return err
	}
	c.groups[cg.Name] = group
	return nil
}

func (c *compiler) loadBalancer(lb LoadBalancer, networkID string) error {
	alb, err := c.b.DeclareLoadBalancer(lb.Name, networkID, lb.Public)
	if err != nil {
		return err
	}

	for _, l := range lb.Listeners {
		listener, err := c.b.AddListener(alb, l.Name, topology.ListenerSpec{
			Port:           l.Port,
			Protocol:       topology.Protocol(strings.ToUpper(l.Protocol)),
			CertificateARN: l.CertificateARN,
		})
		if err != nil {
			return err
		}
		if l.Target == nil {
			continue
		}
		group, ok := c.groups[l.Target.ComputeGroup]
		if !ok {
			return &topology.NotFoundError{
				Kind:   topology.KindComputeGroup,
				ID:     l.Target.ComputeGroup,
				Reason: "target of listener " + listener.ID + " is not declared",
			}
		}
		port := l.Target.Port
		if port == 0 {
			port = l.Port
		}
		if _, err := c.b.AddTarget(listener, l.Target.Name, group, port); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) storageBucket(bk Bucket, roleARN string) error {
	bucket, err := c.b.DeclareBucket(bk.Name, topology.BucketSpec{
		Versioned:     bk.Versioned,
		RemovalPolicy: topology.RemovalPolicy(bk.RemovalPolicy),
		Identity:      roleARN,
	})
	if err != nil {
		return err
	}

	for _, n := range bk.Notifications {
		topic, ok := c.topics[n.Topic]
		if !ok {
			return &topology.NotFoundError{
				Kind:   topology.KindTopic,
				ID:     n.Topic,
				Reason: "notification of bucket " + bk.Name + " refers to an undeclared topic",
			}
		}
		filter := topology.NotificationFilter{Prefix: n.Prefix, Suffix: n.Suffix}
		if _, err := c.b.AddNotification(bucket, topology.EventType(n.Event), topic, filter); err != nil {
			return err
		}
	}
	return nil
}

var resourceKinds = map[string]topology.Kind{
	"compute_group": topology.KindComputeGroup,
	"load_balancer": topology.KindLoadBalancer,
	"bucket":        topology.KindBucket,
	"topic":         topology.KindTopic,
}

func parseResource(s string) (topology.Ref, error) {
	kind, name, ok := strings.Cut(s, ".")
	k, known := resourceKinds[kind]
	if !ok || !known || name == "" {
		return topology.Ref{}, &topology.ValidationError{
			Resource: "output",
			Field:    "resource",
			Reason:   fmt.Sprintf("%q must be kind.name with kind one of compute_group, load_balancer, bucket, topic", s),
		}
	}
	return topology.Ref{Kind: k, ID: name}, nil
}
