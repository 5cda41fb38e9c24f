// Package plan renders a topology graph as a document a provisioning engine
// or an operator can read.
package plan

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

// Version is the document schema version.
const Version = 1

// Format is a document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat accepts "yaml", "yml" and "json". An empty string is YAML.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown plan format %q (want yaml or json)", s)
}

// ContentType returns the media type of the encoding.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "application/yaml"
}

// Document is the serialisable form of a graph.
type Document struct {
	Version     int        `yaml:"version" json:"version"`
	Fingerprint string     `yaml:"fingerprint" json:"fingerprint"`
	Resources   []Resource `yaml:"resources" json:"resources"`
	Edges       []Edge     `yaml:"edges,omitempty" json:"edges,omitempty"`
	Outputs     []Output   `yaml:"outputs,omitempty" json:"outputs,omitempty"`
}

// Resource is one node of the graph with its declared properties.
type Resource struct {
	Kind       string         `yaml:"kind" json:"kind"`
	ID         string         `yaml:"id" json:"id"`
	Properties map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// Edge is one relationship between two resources.
type Edge struct {
	From     string `yaml:"from" json:"from"`
	To       string `yaml:"to" json:"to"`
	Relation string `yaml:"relation" json:"relation"`
}

// Output is a named value the engine surfaces after provisioning.
type Output struct {
	Name      string `yaml:"name" json:"name"`
	Resource  string `yaml:"resource" json:"resource"`
	Attribute string `yaml:"attribute" json:"attribute"`
}

// New renders a graph. Resources and edges keep the graph's declaration
// order.
func New(g *topology.Graph) *Document {
	doc := &Document{Version: Version, Fingerprint: g.Fingerprint()}

	props := properties(g)
	for _, r := range g.Resources() {
		doc.Resources = append(doc.Resources, Resource{
			Kind:       string(r.Kind),
			ID:         r.ID,
			Properties: props[r],
		})
	}
	for _, e := range g.Edges() {
		doc.Edges = append(doc.Edges, Edge{
			From:     e.From.String(),
			To:       e.To.String(),
			Relation: string(e.Relation),
		})
	}
	for _, o := range g.Outputs {
		doc.Outputs = append(doc.Outputs, Output{
			Name:      o.Name,
			Resource:  o.Attribute.Resource.String(),
			Attribute: o.Attribute.Name,
		})
	}
	return doc
}

func properties(g *topology.Graph) map[topology.Ref]map[string]any {
	props := make(map[topology.Ref]map[string]any)
	ref := func(k topology.Kind, id string) topology.Ref { return topology.Ref{Kind: k, ID: id} }

	for _, n := range g.Networks {
		subnets := make([]map[string]any, 0, len(n.Subnets))
		for _, s := range n.Subnets {
			subnets = append(subnets, map[string]any{"id": s.ID, "zone": s.Zone, "type": string(s.Type)})
		}
		p := map[string]any{"subnets": subnets}
		if n.CIDR != "" {
			p["cidr"] = n.CIDR
		}
		props[ref(topology.KindNetwork, n.ID)] = p
	}
	for _, i := range g.Identities {
		props[ref(topology.KindIdentity, i.ID)] = map[string]any{"name": i.Name, "account": i.AccountID}
	}
	for _, cg := range g.ComputeGroups {
		p := map[string]any{
			"shape":     cg.Shape,
			"network":   cg.Network,
			"placement": string(cg.Placement),
			"min":       cg.Capacity.Min,
			"max":       cg.Capacity.Max,
			"boot":      []string(cg.BootScript),
		}
		if cg.Capacity.Desired != nil {
			p["desired"] = *cg.Capacity.Desired
		}
		if cg.Image.ID != "" {
			p["image"] = cg.Image.ID
		} else {
			p["image"] = cg.Image.Family + "/" + cg.Image.Architecture
		}
		if cg.KeyPair != "" {
			p["key_pair"] = cg.KeyPair
		}
		if cg.Identity != "" {
			p["identity"] = cg.Identity
		}
		props[ref(topology.KindComputeGroup, cg.ID)] = p
	}
	for _, lb := range g.LoadBalancers {
		props[ref(topology.KindLoadBalancer, lb.ID)] = map[string]any{"network": lb.Network, "public": lb.Public}
		for _, l := range lb.Listeners {
			p := map[string]any{"port": l.Port, "protocol": string(l.Protocol)}
			if l.CertificateARN != "" {
				p["certificate"] = l.CertificateARN
			}
			props[ref(topology.KindListener, l.ID)] = p
			for _, t := range l.Targets {
				props[ref(topology.KindTargetRule, t.ID)] = map[string]any{
					"compute_group": t.ComputeGroup,
					"port":          t.Port,
					"protocol":      string(t.Protocol),
					"health_check":  t.HealthCheckPath,
				}
			}
		}
	}
	for _, p := range g.ScalingPolicies {
		props[ref(topology.KindScalingPolicy, p.ID)] = map[string]any{
			"compute_group": p.ComputeGroup,
			"metric":        string(p.Metric),
			"target":        p.Target,
		}
	}
	for _, b := range g.Buckets {
		p := map[string]any{"versioned": b.Versioned, "removal_policy": string(b.RemovalPolicy)}
		if b.Identity != "" {
			p["identity"] = b.Identity
		}
		props[ref(topology.KindBucket, b.ID)] = p
		for _, n := range b.Notifications {
			np := map[string]any{"event": string(n.Event), "topic": n.Topic}
			if n.Filter.Prefix != "" {
				np["prefix"] = n.Filter.Prefix
			}
			if n.Filter.Suffix != "" {
				np["suffix"] = n.Filter.Suffix
			}
			props[ref(topology.KindNotification, n.ID)] = np
		}
	}
	return props
}

// Encode writes the document in the given format.
func (d *Document) Encode(w io.Writer, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	case FormatYAML, "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown plan format %q", f)
}

// Decode reads a document in the given format.
func Decode(r io.Reader, f Format) (*Document, error) {
	var d Document
	switch f {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&d); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
	case FormatYAML, "":
		if err := yaml.NewDecoder(r).Decode(&d); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown plan format %q", f)
	}
	return &d, nil
}
