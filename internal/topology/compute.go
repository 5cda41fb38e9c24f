package topology

import (
	"math"
	"strings"

	"go.uber.org/zap"
)

// DeclareComputeGroup declares a scalable unit of instances placed in the
// subnets of a resolved network.
func (b *Builder) DeclareComputeGroup(name string, spec ComputeGroupSpec) (*ComputeGroup, error) {
	if err := checkName(KindComputeGroup, name); err != nil {
		return nil, b.fail(err)
	}
	if _, dup := b.groupByID[name]; dup {
		return nil, b.fail(invalid(string(KindComputeGroup), "name", "%q is already declared", name))
	}
	if strings.TrimSpace(spec.Shape) == "" {
		return nil, b.fail(invalid(name, "shape", "instance shape is required"))
	}
	if err := checkCapacity(name, spec.Capacity); err != nil {
		return nil, b.fail(err)
	}

	image, err := normalizeImage(name, spec.Image)
	if err != nil {
		return nil, b.fail(err)
	}
	spec.Image = image

	if spec.Placement == "" {
		spec.Placement = SubnetPrivateWithEgress
	}
	if _, err := ParseSubnetType(string(spec.Placement)); err != nil {
		return nil, b.fail(invalid(name, "placement", "%s", err))
	}

	network, err := b.network(spec.Network)
	if err != nil {
		return nil, b.fail(err)
	}
	if len(network.SubnetsOf(spec.Placement)) == 0 {
		return nil, b.fail(notFound(KindNetwork, network.ID, "no "+string(spec.Placement)+" subnets"))
	}
	if err := b.checkIdentity(spec.Identity); err != nil {
		return nil, b.fail(err)
	}
	ref := Ref{Kind: KindComputeGroup, ID: name}
	if err := b.claim(ref); err != nil {
		return nil, b.fail(err)
	}

	cg := &ComputeGroup{ID: name, ComputeGroupSpec: spec}
	*cg = cg.clone()
	b.groups = append(b.groups, cg)
	b.groupByID[name] = cg
	b.log.Debug("declared compute group",
		zap.String("id", name),
		zap.String("shape", spec.Shape),
		zap.Int("min", spec.Capacity.Min),
		zap.Int("max", spec.Capacity.Max))

	handle := cg.clone()
	b.track(&handle, ref)
	return &handle, nil
}

func checkCapacity(name string, c Capacity) error {
	if c.Min < 0 {
		return invalid(name, "capacity", "min %d is negative", c.Min)
	}
	if c.Max < 0 {
		return invalid(name, "capacity", "max %d is negative", c.Max)
	}
	if c.Min > c.Max {
		return invalid(name, "capacity", "min %d exceeds max %d", c.Min, c.Max)
	}
	if c.Desired != nil && (*c.Desired < c.Min || *c.Desired > c.Max) {
		return invalid(name, "capacity", "desired %d outside [%d, %d]", *c.Desired, c.Min, c.Max)
	}
	return nil
}

func normalizeImage(name string, img Image) (Image, error) {
	if img.ID != "" {
		if !strings.HasPrefix(img.ID, "ami-") {
			return Image{}, invalid(name, "image", "%q is not an AMI id", img.ID)
		}
		return img, nil
	}
	if img.Family == "" {
		img.Family = ImageFamilyAL2023
	}
	if img.Architecture == "" {
		img.Architecture = ArchX86_64
	}
	switch img.Family {
	case ImageFamilyAL2023, ImageFamilyAL2:
	default:
		return Image{}, invalid(name, "image", "unknown image family %q", img.Family)
	}
	switch img.Architecture {
	case ArchX86_64, ArchARM64:
	default:
		return Image{}, invalid(name, "image", "unknown architecture %q", img.Architecture)
	}
	return img, nil
}

// DeclareScalingPolicy attaches a target-tracking rule to a compute group.
// Request-count policies need the group to be the target of exactly one
// listener, since the metric is scoped to that listener's target.
func (b *Builder) DeclareScalingPolicy(handle *ComputeGroup, name string, metric Metric, target float64) (*ScalingPolicy, error) {
	cg, err := b.ownsGroup(handle)
	if err != nil {
		return nil, b.fail(err)
	}
	if err := checkName(KindScalingPolicy, name); err != nil {
		return nil, b.fail(err)
	}
	id := cg.ID + "/" + name
	if _, dup := b.policyByID[id]; dup {
		return nil, b.fail(invalid(string(KindScalingPolicy), "name", "%q is already declared on %s", name, cg.ID))
	}
	if math.IsNaN(target) || math.IsInf(target, 0) || target <= 0 {
		return nil, b.fail(invalid(id, "target", "must be a positive number, got %v", target))
	}

	switch metric {
	case MetricCPUUtilization:
		if target > 100 {
			return nil, b.fail(invalid(id, "target", "cpu utilization %v exceeds 100", target))
		}
	case MetricNetworkIn, MetricNetworkOut:
	case MetricRequestCountPerTarget:
		if n := len(b.targetsOf(cg.ID)); n != 1 {
			return nil, b.fail(invalid(id, "metric", "request count scaling needs %s to be the target of exactly one listener, found %d", cg.ID, n))
		}
	default:
		return nil, b.fail(invalid(id, "metric", "unknown metric %q", metric))
	}
	if err := b.claim(Ref{Kind: KindScalingPolicy, ID: id}); err != nil {
		return nil, b.fail(err)
	}

	p := &ScalingPolicy{ID: id, ComputeGroup: cg.ID, Metric: metric, Target: target}
	b.policies = append(b.policies, p)
	b.policyByID[id] = p
	b.log.Debug("declared scaling policy",
		zap.String("id", id),
		zap.String("metric", string(metric)),
		zap.Float64("target", target))
	out := *p
	return &out, nil
}

// ownsGroup returns the record behind a compute group handle.
func (b *Builder) ownsGroup(handle *ComputeGroup) (*ComputeGroup, error) {
	if handle == nil {
		return nil, notFound(KindComputeGroup, "", "nil compute group")
	}
	id, ok := b.owned(handle, KindComputeGroup)
	if !ok {
		return nil, notFound(KindComputeGroup, handle.ID, "not declared by this builder")
	}
	return b.groupByID[id], nil
}

func (b *Builder) targetsOf(groupID string) []*TargetRule {
	var out []*TargetRule
	for _, lb := range b.lbs {
		for _, l := range b.listenersOf[lb.ID] {
			for i := range l.Targets {
				if l.Targets[i].ComputeGroup == groupID {
					out = append(out, &l.Targets[i])
				}
			}
		}
	}
	return out
}

// GroupName refers to the provisioned name of the compute group.
func (c *ComputeGroup) GroupName() Attribute {
	return Attribute{Resource: Ref{Kind: KindComputeGroup, ID: c.ID}, Name: AttrGroupName}
}
