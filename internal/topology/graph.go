package topology

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Relation describes what an edge means.
type Relation string

const (
	// RelOwns links a parent to a child declared through it.
	RelOwns Relation = "owns"
	// RelReferences links a resource to one it points at by identifier.
	RelReferences Relation = "references"
)

// Edge is a directed relationship between two resources.
type Edge struct {
	From     Ref
	To       Ref
	Relation Relation
}

// Graph is the finished, immutable result of a build. Every relationship is
// held by identifier; use the lookup methods to follow one.
type Graph struct {
	Networks        []NetworkRef
	Identities      []IdentityBinding
	ComputeGroups   []ComputeGroup
	LoadBalancers   []LoadBalancer
	ScalingPolicies []ScalingPolicy
	Topics          []Topic
	Buckets         []StorageBucket
	Outputs         []Output
}

// Network returns the resolved network with the given ID.
func (g *Graph) Network(id string) (NetworkRef, bool) {
	for _, n := range g.Networks {
		if n.ID == id {
			return n, true
		}
	}
	return NetworkRef{}, false
}

// Identity returns the referenced identity with the given ARN.
func (g *Graph) Identity(id string) (IdentityBinding, bool) {
	for _, i := range g.Identities {
		if i.ID == id {
			return i, true
		}
	}
	return IdentityBinding{}, false
}

// ComputeGroup returns the compute group with the given ID.
func (g *Graph) ComputeGroup(id string) (ComputeGroup, bool) {
	for _, cg := range g.ComputeGroups {
		if cg.ID == id {
			return cg, true
		}
	}
	return ComputeGroup{}, false
}

// Topic returns the topic with the given ID.
func (g *Graph) Topic(id string) (Topic, bool) {
	for _, t := range g.Topics {
		if t.ID == id {
			return t, true
		}
	}
	return Topic{}, false
}

// TargetsOf returns every target rule routing to the compute group.
func (g *Graph) TargetsOf(groupID string) []TargetRule {
	var out []TargetRule
	for _, lb := range g.LoadBalancers {
		for _, l := range lb.Listeners {
			for _, t := range l.Targets {
				if t.ComputeGroup == groupID {
					out = append(out, t)
				}
			}
		}
	}
	return out
}

// Listeners returns every listener in declaration order.
func (g *Graph) Listeners() []Listener {
	var out []Listener
	for _, lb := range g.LoadBalancers {
		out = append(out, lb.Listeners...)
	}
	return out
}

// Resources returns a reference to every resource in declaration order.
func (g *Graph) Resources() []Ref {
	var refs []Ref
	for _, n := range g.Networks {
		refs = append(refs, Ref{KindNetwork, n.ID})
	}
	for _, i := range g.Identities {
		refs = append(refs, Ref{KindIdentity, i.ID})
	}
	for _, cg := range g.ComputeGroups {
		refs = append(refs, Ref{KindComputeGroup, cg.ID})
	}
	for _, lb := range g.LoadBalancers {
		refs = append(refs, Ref{KindLoadBalancer, lb.ID})
		for _, l := range lb.Listeners {
			refs = append(refs, Ref{KindListener, l.ID})
			for _, t := range l.Targets {
				refs = append(refs, Ref{KindTargetRule, t.ID})
			}
		}
	}
	for _, p := range g.ScalingPolicies {
		refs = append(refs, Ref{KindScalingPolicy, p.ID})
	}
	for _, t := range g.Topics {
		refs = append(refs, Ref{KindTopic, t.ID})
	}
	for _, b := range g.Buckets {
		refs = append(refs, Ref{KindBucket, b.ID})
		for _, n := range b.Notifications {
			refs = append(refs, Ref{KindNotification, n.ID})
		}
	}
	return refs
}

// Edges returns every relationship in the graph, from the entry point
// towards compute, identity and network.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	add := func(from, to Ref, rel Relation) {
		edges = append(edges, Edge{From: from, To: to, Relation: rel})
	}

	for _, cg := range g.ComputeGroups {
		from := Ref{KindComputeGroup, cg.ID}
		add(from, Ref{KindNetwork, cg.Network}, RelReferences)
		if cg.Identity != "" {
			add(from, Ref{KindIdentity, cg.Identity}, RelReferences)
		}
	}
	for _, lb := range g.LoadBalancers {
		from := Ref{KindLoadBalancer, lb.ID}
		add(from, Ref{KindNetwork, lb.Network}, RelReferences)
		for _, l := range lb.Listeners {
			lref := Ref{KindListener, l.ID}
			add(from, lref, RelOwns)
			for _, t := range l.Targets {
				tref := Ref{KindTargetRule, t.ID}
				add(lref, tref, RelOwns)
				add(tref, Ref{KindComputeGroup, t.ComputeGroup}, RelReferences)
			}
		}
	}
	for _, p := range g.ScalingPolicies {
		add(Ref{KindScalingPolicy, p.ID}, Ref{KindComputeGroup, p.ComputeGroup}, RelReferences)
	}
	for _, b := range g.Buckets {
		from := Ref{KindBucket, b.ID}
		if b.Identity != "" {
			add(from, Ref{KindIdentity, b.Identity}, RelReferences)
		}
		for _, n := range b.Notifications {
			nref := Ref{KindNotification, n.ID}
			add(from, nref, RelOwns)
			add(nref, Ref{KindTopic, n.Topic}, RelReferences)
		}
	}
	return edges
}

func (g *Graph) checkAcyclic() error {
	return detectCycle(g.Resources(), g.Edges())
}

// detectCycle walks the edges depth-first, keeping the nodes of the current
// path in a temporary set; meeting one of them again is a cycle.
func detectCycle(nodes []Ref, edges []Edge) error {
	adjacent := make(map[Ref][]Ref)
	for _, e := range edges {
		adjacent[e.From] = append(adjacent[e.From], e.To)
	}

	permanent := make(map[Ref]bool)
	temporary := make(map[Ref]bool)

	var visit func(r Ref) error
	visit = func(r Ref) error {
		if permanent[r] {
			return nil
		}
		if temporary[r] {
			return &ValidationError{Resource: r.String(), Reason: "reference cycle"}
		}
		temporary[r] = true
		for _, next := range adjacent[r] {
			if err := visit(next); err != nil {
				return err
			}
		}
		delete(temporary, r)
		permanent[r] = true
		return nil
	}

	for _, r := range nodes {
		if err := visit(r); err != nil {
			return err
		}
	}
	return nil
}

// Fingerprint returns a stable digest of the graph's structure. Two builds
// of the same declarations against the same lookups have equal fingerprints.
func (g *Graph) Fingerprint() string {
	data, err := json.Marshal(g)
	if err != nil {
		panic(fmt.Sprintf("topology: marshal graph: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
