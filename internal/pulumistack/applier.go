// Package pulumistack realises a topology graph as Pulumi AWS resources.
package pulumistack

import (
	"context"
	"fmt"
	"strings"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"go.uber.org/zap"

	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

// Applier registers the resources of a graph with a Pulumi program.
type Applier struct {
	ctx   *pulumi.Context
	log   *zap.Logger
	stack string
}

// Option configures an Applier.
type Option func(*Applier)

// WithLogger sets the logger for resource registration events.
func WithLogger(l *zap.Logger) Option {
	return func(a *Applier) {
		if l != nil {
			a.log = l
		}
	}
}

// WithStackName sets the value of the topology:stack tag on every resource.
func WithStackName(name string) Option {
	return func(a *Applier) { a.stack = name }
}

// New returns an Applier bound to a running Pulumi program.
func New(ctx *pulumi.Context, opts ...Option) *Applier {
	a := &Applier{ctx: ctx, log: zap.NewNop(), stack: ctx.Stack()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Resources holds everything registered for one graph, keyed by the ID of
// the topology resource it realises.
type Resources struct {
	Identity      *IdentityResources
	LoadBalancers map[string]*LoadBalancerResources
	ComputeGroups map[string]*ComputeResources
	Topics        map[string]*MessagingResources
	Buckets       map[string]*StorageResources
	Outputs       map[string]pulumi.Output
}

var _ topology.Applier = (*Applier)(nil)

// Apply implements topology.Applier. The context is unused; Pulumi drives
// registration through its own program context.
func (a *Applier) Apply(_ context.Context, g *topology.Graph) error {
	res, err := a.Deploy(g)
	if err != nil {
		return err
	}
	for _, o := range g.Outputs {
		a.ctx.Export(o.Name, res.Outputs[o.Name])
	}
	return nil
}

// Deploy registers the graph's resources and returns them without exporting
// the outputs.
func (a *Applier) Deploy(g *topology.Graph) (*Resources, error) {
	if err := checkLogicalNames(g); err != nil {
		return nil, err
	}
	res := &Resources{
		LoadBalancers: make(map[string]*LoadBalancerResources),
		ComputeGroups: make(map[string]*ComputeResources),
		Topics:        make(map[string]*MessagingResources),
		Buckets:       make(map[string]*StorageResources),
	}

	// 1. Instance profiles for the referenced roles
	identity, err := a.createIdentityResources(g)
	if err != nil {
		return nil, err
	}
	res.Identity = identity

	// 2. Load balancers, listeners and target groups
	for _, lb := range g.LoadBalancers {
		lbRes, err := a.createLoadBalancerResources(g, lb)
		if err != nil {
			return nil, err
		}
		res.LoadBalancers[lb.ID] = lbRes
	}

	// 3. Compute groups registered with their target groups
	for _, cg := range g.ComputeGroups {
		cgRes, err := a.createComputeResources(g, cg, res)
		if err != nil {
			return nil, err
		}
		res.ComputeGroups[cg.ID] = cgRes
	}

	// 4. Scaling policies
	for _, p := range g.ScalingPolicies {
		if err := a.createScalingPolicy(g, p, res); err != nil {
			return nil, err
		}
	}

	// 5. Topics, buckets and the notifications between them
	for _, t := range g.Topics {
		topicRes, err := a.createMessagingResources(t)
		if err != nil {
			return nil, err
		}
		res.Topics[t.ID] = topicRes
	}
	for _, bk := range g.Buckets {
		bucketRes, err := a.createStorageResources(bk)
		if err != nil {
			return nil, err
		}
		res.Buckets[bk.ID] = bucketRes
	}
	if err := a.createTopicPolicies(g, res); err != nil {
		return nil, err
	}
	for _, bk := range g.Buckets {
		if err := a.createBucketNotification(bk, res); err != nil {
			return nil, err
		}
	}

	// 6. Outputs
	outputs, err := collectOutputs(g, res)
	if err != nil {
		return nil, err
	}
	res.Outputs = outputs

	a.log.Info("registered topology resources",
		zap.String("stack", a.stack),
		zap.Int("load_balancers", len(res.LoadBalancers)),
		zap.Int("compute_groups", len(res.ComputeGroups)),
		zap.Int("buckets", len(res.Buckets)),
		zap.Int("topics", len(res.Topics)))
	return res, nil
}

// resourceName turns topology IDs into a Pulumi logical name. The builder
// keeps LogicalName unique, so names differ per resource type.
func resourceName(parts ...string) string {
	return topology.LogicalName(strings.Join(parts, "-"))
}

// checkLogicalNames refuses graphs, such as hand-assembled ones, in which
// two resources would register under the same Pulumi name.
func checkLogicalNames(g *topology.Graph) error {
	seen := make(map[string]topology.Ref)
	for _, r := range g.Resources() {
		switch r.Kind {
		case topology.KindNetwork, topology.KindIdentity, topology.KindNotification:
			continue
		}
		name := topology.LogicalName(r.ID)
		if other, dup := seen[name]; dup {
			return fmt.Errorf("pulumistack: %s and %s share the logical name %q", other, r, name)
		}
		seen[name] = r
	}
	return nil
}

func (a *Applier) tags(id string) pulumi.StringMap {
	return pulumi.StringMap{
		"Name":              pulumi.String(resourceName(a.stack, id)),
		"topology:stack":    pulumi.String(a.stack),
		"topology:resource": pulumi.String(id),
	}
}

func missing(kind topology.Kind, id string) error {
	return fmt.Errorf("pulumistack: %s %q has no registered resources", kind, id)
}
