package topology

import (
	"regexp"
	"slices"
	"sort"

	"go.uber.org/zap"
)

var outputNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

// EmitOutputs records named values to surface once provisioning completes.
// Names are processed in sorted order so the first error is deterministic.
func (b *Builder) EmitOutputs(outputs map[string]Attribute) error {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		attr := outputs[name]
		if !outputNamePattern.MatchString(name) {
			return b.fail(invalid("output", "name", "%q must be alphanumeric and start with a letter", name))
		}
		if _, dup := b.outputs[name]; dup {
			return b.fail(invalid("output", "name", "%q is already emitted", name))
		}
		if !b.declared(attr.Resource) {
			return b.fail(notFound(attr.Resource.Kind, attr.Resource.ID, "output "+name+" refers to an undeclared resource"))
		}
		if !slices.Contains(attributesByKind[attr.Resource.Kind], attr.Name) {
			return b.fail(invalid(name, "attribute", "%s has no attribute %q", attr.Resource, attr.Name))
		}
		b.outputs[name] = Output{Name: name, Attribute: attr}
		b.log.Debug("emitted output",
			zap.String("name", name),
			zap.String("resource", attr.Resource.String()),
			zap.String("attribute", attr.Name))
	}
	return nil
}

func (b *Builder) declared(r Ref) bool {
	switch r.Kind {
	case KindComputeGroup:
		_, ok := b.groupByID[r.ID]
		return ok
	case KindLoadBalancer:
		_, ok := b.lbByID[r.ID]
		return ok
	case KindBucket:
		_, ok := b.bucketByID[r.ID]
		return ok
	case KindTopic:
		_, ok := b.topicByID[r.ID]
		return ok
	}
	return false
}
