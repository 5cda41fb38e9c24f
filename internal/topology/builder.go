package topology

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// NetworkResolver looks up an existing network by identifier. It returns a
// *NotFoundError when the identifier does not resolve.
type NetworkResolver interface {
	ResolveNetwork(ctx context.Context, id string) (NetworkRef, error)
}

// IdentityResolver looks up an existing trust role by ARN. It returns a
// *NotFoundError when the role does not exist.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, arn string) (IdentityBinding, error)
}

// Applier consumes a finished graph, typically by handing it to a
// provisioning engine.
type Applier interface {
	Apply(ctx context.Context, g *Graph) error
}

// Option configures a Builder.
type Option func(*Builder)

// WithNetworkResolver sets the resolver used by ResolveNetwork.
func WithNetworkResolver(r NetworkResolver) Option {
	return func(b *Builder) { b.networkResolver = r }
}

// WithIdentityResolver sets the resolver used by ReferenceIdentity.
// Without one, role ARNs are parsed but not checked against the account.
func WithIdentityResolver(r IdentityResolver) Option {
	return func(b *Builder) { b.identityResolver = r }
}

// WithLogger sets the logger for declaration events.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

// Builder accumulates declarations into a resource graph. It performs no
// provisioning; the only side effects are the injected lookups. A Builder
// is not safe for concurrent use.
type Builder struct {
	log              *zap.Logger
	networkResolver  NetworkResolver
	identityResolver IdentityResolver

	// err is the first declaration failure; once set, Build refuses to
	// return a graph.
	err error

	networks     []NetworkRef
	networkByID  map[string]int
	identities   []IdentityBinding
	identityByID map[string]int
	groups       []*ComputeGroup
	groupByID    map[string]*ComputeGroup
	lbs          []*LoadBalancer
	lbByID       map[string]*LoadBalancer
	listenersOf  map[string][]*Listener
	listenerByID map[string]*Listener
	policies     []*ScalingPolicy
	policyByID   map[string]*ScalingPolicy
	topics       []*Topic
	topicByID    map[string]*Topic
	buckets      []*StorageBucket
	bucketByID   map[string]*StorageBucket
	outputs      map[string]Output

	// handles maps every pointer handed to a caller to the record it stands
	// for. Records themselves never leave the builder.
	handles map[any]Ref
	// names holds the logical name of every declared resource.
	names map[string]Ref
}

// NewBuilder returns an empty Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		log:          zap.NewNop(),
		networkByID:  make(map[string]int),
		identityByID: make(map[string]int),
		groupByID:    make(map[string]*ComputeGroup),
		lbByID:       make(map[string]*LoadBalancer),
		listenersOf:  make(map[string][]*Listener),
		listenerByID: make(map[string]*Listener),
		policyByID:   make(map[string]*ScalingPolicy),
		topicByID:    make(map[string]*Topic),
		bucketByID:   make(map[string]*StorageBucket),
		outputs:      make(map[string]Output),
		handles:      make(map[any]Ref),
		names:        make(map[string]Ref),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Err returns the first declaration error, if any.
func (b *Builder) Err() error { return b.err }

func (b *Builder) fail(err error) error {
	if b.err == nil {
		b.err = err
	}
	b.log.Debug("declaration rejected", zap.Error(err))
	return err
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,62}$`)

// LogicalName flattens a resource ID into the single-segment name
// provisioning engines register it under.
func LogicalName(id string) string {
	return strings.ReplaceAll(id, "/", "-")
}

// claim reserves the logical name of a resource. All kinds share one
// namespace, so a compute group and a load balancer cannot both be "web",
// and "a/b-c" collides with "a-b/c".
func (b *Builder) claim(ref Ref) error {
	name := LogicalName(ref.ID)
	if owner, taken := b.names[name]; taken {
		return invalid(ref.String(), "name", "logical name %q is already used by %s", name, owner)
	}
	b.names[name] = ref
	return nil
}

func (b *Builder) track(handle any, ref Ref) {
	b.handles[handle] = ref
}

// owned returns the ID of the record behind a handle returned by this
// builder. Handles are matched by identity, never by their field values.
func (b *Builder) owned(handle any, kind Kind) (string, bool) {
	ref, ok := b.handles[handle]
	if !ok || ref.Kind != kind {
		return "", false
	}
	return ref.ID, true
}

func checkName(kind Kind, name string) error {
	if !namePattern.MatchString(name) {
		return invalid(string(kind), "name", "%q must start with a letter or digit and contain only letters, digits, '-' and '_' (max 63)", name)
	}
	return nil
}

// ResolveNetwork looks up an existing network. The lookup happens once per
// identifier; later calls return the cached reference.
func (b *Builder) ResolveNetwork(ctx context.Context, id string) (NetworkRef, error) {
	if id == "" {
		return NetworkRef{}, b.fail(invalid(string(KindNetwork), "id", "must not be empty"))
	}
	if i, ok := b.networkByID[id]; ok {
		return b.networks[i].clone(), nil
	}
	if b.networkResolver == nil {
		return NetworkRef{}, b.fail(notFound(KindNetwork, id, "no network resolver configured"))
	}

	ref, err := b.networkResolver.ResolveNetwork(ctx, id)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return NetworkRef{}, b.fail(err)
		}
		return NetworkRef{}, b.fail(fmt.Errorf("resolve network %s: %w", id, err))
	}
	if ref.ID == "" {
		ref.ID = id
	}
	if ref.ID != id {
		return NetworkRef{}, b.fail(notFound(KindNetwork, id, fmt.Sprintf("resolver returned %s", ref.ID)))
	}

	b.networkByID[id] = len(b.networks)
	b.networks = append(b.networks, ref.clone())
	b.log.Debug("resolved network",
		zap.String("id", id),
		zap.Int("subnets", len(ref.Subnets)))
	return ref.clone(), nil
}

// ReferenceIdentity records a reference to an existing role.
func (b *Builder) ReferenceIdentity(ctx context.Context, arn string) (IdentityBinding, error) {
	parsed, err := ParseRoleARN(arn)
	if err != nil {
		return IdentityBinding{}, b.fail(err)
	}
	if i, ok := b.identityByID[parsed.ID]; ok {
		return b.identities[i], nil
	}

	binding := parsed
	if b.identityResolver != nil {
		binding, err = b.identityResolver.ResolveIdentity(ctx, arn)
		if err != nil {
			var nf *NotFoundError
			if errors.As(err, &nf) {
				return IdentityBinding{}, b.fail(err)
			}
			return IdentityBinding{}, b.fail(fmt.Errorf("resolve identity %s: %w", arn, err))
		}
		binding.ID = parsed.ID
	}

	b.identityByID[binding.ID] = len(b.identities)
	b.identities = append(b.identities, binding)
	b.log.Debug("referenced identity", zap.String("arn", binding.ID))
	return binding, nil
}

func (b *Builder) network(id string) (NetworkRef, error) {
	i, ok := b.networkByID[id]
	if !ok {
		return NetworkRef{}, notFound(KindNetwork, id, "network was not resolved")
	}
	return b.networks[i], nil
}

func (b *Builder) checkIdentity(id string) error {
	if id == "" {
		return nil
	}
	if _, ok := b.identityByID[id]; !ok {
		return notFound(KindIdentity, id, "identity was not referenced")
	}
	return nil
}

// Build freezes the declarations into a graph. It returns the first
// declaration error instead of a graph if any declaration failed.
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}

	g := &Graph{}
	for _, n := range b.networks {
		g.Networks = append(g.Networks, n.clone())
	}
	g.Identities = append(g.Identities, b.identities...)
	for _, cg := range b.groups {
		g.ComputeGroups = append(g.ComputeGroups, cg.clone())
	}
	for _, lb := range b.lbs {
		assembled := *lb
		assembled.Listeners = nil
		for _, l := range b.listenersOf[lb.ID] {
			assembled.Listeners = append(assembled.Listeners, *l)
		}
		g.LoadBalancers = append(g.LoadBalancers, assembled.clone())
	}
	for _, p := range b.policies {
		g.ScalingPolicies = append(g.ScalingPolicies, *p)
	}
	for _, t := range b.topics {
		g.Topics = append(g.Topics, *t)
	}
	for _, bk := range b.buckets {
		g.Buckets = append(g.Buckets, bk.clone())
	}

	names := make([]string, 0, len(b.outputs))
	for name := range b.outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		g.Outputs = append(g.Outputs, b.outputs[name])
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}

	b.log.Debug("built topology graph",
		zap.Int("compute_groups", len(g.ComputeGroups)),
		zap.Int("load_balancers", len(g.LoadBalancers)),
		zap.Int("buckets", len(g.Buckets)),
		zap.Int("topics", len(g.Topics)),
		zap.Int("outputs", len(g.Outputs)))
	return g, nil
}
