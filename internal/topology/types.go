package topology

import (
	"fmt"
	"strings"
)

// Kind names a resource type in the graph.
type Kind string

const (
	KindNetwork       Kind = "network"
	KindIdentity      Kind = "identity"
	KindComputeGroup  Kind = "compute_group"
	KindLoadBalancer  Kind = "load_balancer"
	KindListener      Kind = "listener"
	KindTargetRule    Kind = "target_rule"
	KindScalingPolicy Kind = "scaling_policy"
	KindBucket        Kind = "bucket"
	KindNotification  Kind = "notification"
	KindTopic         Kind = "topic"
)

// Ref points at a resource by kind and identifier.
type Ref struct {
	Kind Kind
	ID   string
}

func (r Ref) String() string { return string(r.Kind) + "/" + r.ID }

// SubnetType classifies the subnets of a looked-up network.
type SubnetType string

const (
	SubnetPublic            SubnetType = "public"
	SubnetPrivateWithEgress SubnetType = "private_with_egress"
	SubnetPrivateIsolated   SubnetType = "private_isolated"
)

// ParseSubnetType accepts the snake_case names and the CDK tag values
// ("Public", "Private", "Isolated").
func ParseSubnetType(s string) (SubnetType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public":
		return SubnetPublic, nil
	case "private", "private_with_egress", "private_with_nat":
		return SubnetPrivateWithEgress, nil
	case "isolated", "private_isolated":
		return SubnetPrivateIsolated, nil
	}
	return "", fmt.Errorf("unknown subnet type %q", s)
}

// Subnet is one subnet of a looked-up network.
type Subnet struct {
	ID   string
	Zone string
	Type SubnetType
}

// NetworkRef is a network that already exists in the target environment.
// It is resolved, never created.
type NetworkRef struct {
	ID      string
	CIDR    string
	Subnets []Subnet
}

// SubnetsOf returns the subnets of the given type in lookup order.
func (n NetworkRef) SubnetsOf(t SubnetType) []Subnet {
	var out []Subnet
	for _, s := range n.Subnets {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

func (n NetworkRef) clone() NetworkRef {
	n.Subnets = append([]Subnet(nil), n.Subnets...)
	return n
}

// IdentityBinding is a pre-existing trust role. Compute groups and buckets
// reference it by ID (the role ARN); nothing here creates or modifies it.
type IdentityBinding struct {
	ID        string
	Name      string
	AccountID string
	Partition string
}

// Capacity bounds the instance count of a compute group.
type Capacity struct {
	Min     int
	Max     int
	Desired *int
}

// Image selects the machine image. An explicit ID wins over Family.
type Image struct {
	ID           string
	Family       string
	Architecture string
}

const (
	ImageFamilyAL2023 = "al2023"
	ImageFamilyAL2    = "al2"

	ArchX86_64 = "x86_64"
	ArchARM64  = "arm64"
)

// BootScript is an ordered list of shell commands run at instance boot.
// The commands are opaque to the builder.
type BootScript []string

// Render returns the script as Linux user data.
func (s BootScript) Render() string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	for _, cmd := range s {
		b.WriteString(cmd)
		b.WriteString("\n")
	}
	return b.String()
}

// ComputeGroupSpec describes a compute group before declaration.
type ComputeGroupSpec struct {
	Shape      string
	Image      Image
	KeyPair    string
	BootScript BootScript
	Network    string
	Placement  SubnetType
	Identity   string
	Capacity   Capacity
}

// ComputeGroup is a horizontally scalable set of instances.
type ComputeGroup struct {
	ID string
	ComputeGroupSpec
}

func (c ComputeGroup) clone() ComputeGroup {
	c.BootScript = append(BootScript(nil), c.BootScript...)
	if c.Capacity.Desired != nil {
		d := *c.Capacity.Desired
		c.Capacity.Desired = &d
	}
	return c
}

// Protocol is the application protocol of a listener or target.
type Protocol string

const (
	ProtocolHTTP  Protocol = "HTTP"
	ProtocolHTTPS Protocol = "HTTPS"
)

// LoadBalancer is the entry point of the topology.
type LoadBalancer struct {
	ID        string
	Network   string
	Public    bool
	Listeners []Listener
}

// ListenerSpec describes a listener before declaration. A zero Protocol is
// inferred from the port.
type ListenerSpec struct {
	Port           int
	Protocol       Protocol
	CertificateARN string
}

// Listener is a bound port on a load balancer plus its routing rule.
type Listener struct {
	ID             string
	LoadBalancer   string
	Port           int
	Protocol       Protocol
	CertificateARN string
	Targets        []TargetRule
}

// TargetRule routes a listener's traffic to a compute group.
type TargetRule struct {
	ID              string
	Listener        string
	ComputeGroup    string
	Port            int
	Protocol        Protocol
	HealthCheckPath string
}

func (lb LoadBalancer) clone() LoadBalancer {
	listeners := make([]Listener, len(lb.Listeners))
	for i, l := range lb.Listeners {
		l.Targets = append([]TargetRule(nil), l.Targets...)
		listeners[i] = l
	}
	lb.Listeners = listeners
	return lb
}

// Metric is a reactive scaling signal.
type Metric string

const (
	MetricRequestCountPerTarget Metric = "request_count_per_target"
	MetricCPUUtilization        Metric = "cpu_utilization"
	MetricNetworkIn             Metric = "network_in"
	MetricNetworkOut            Metric = "network_out"
)

// ScalingPolicy is a target-tracking rule attached to a compute group. It
// has no effect until the provisioning engine realises it.
type ScalingPolicy struct {
	ID           string
	ComputeGroup string
	Metric       Metric
	Target       float64
}

// RemovalPolicy is what happens to a resource when its declaration is retracted.
type RemovalPolicy string

const (
	RemovalDestroy  RemovalPolicy = "destroy"
	RemovalRetain   RemovalPolicy = "retain"
	RemovalSnapshot RemovalPolicy = "snapshot"
)

// EventType is an object store event that can be bound to a topic.
type EventType string

const (
	EventObjectCreated EventType = "object_created"
	EventObjectRemoved EventType = "object_removed"
)

// BucketSpec describes a storage bucket before declaration.
type BucketSpec struct {
	Versioned     bool
	RemovalPolicy RemovalPolicy
	Identity      string
}

// StorageBucket is a versioned object store.
type StorageBucket struct {
	ID string
	BucketSpec
	Notifications []EventNotification
}

func (b StorageBucket) clone() StorageBucket {
	b.Notifications = append([]EventNotification(nil), b.Notifications...)
	return b
}

// NotificationFilter narrows a notification to matching object keys.
type NotificationFilter struct {
	Prefix string
	Suffix string
}

// EventNotification binds a bucket event to a topic.
type EventNotification struct {
	ID     string
	Bucket string
	Event  EventType
	Topic  string
	Filter NotificationFilter
}

// Topic is a pub/sub fan-out endpoint.
type Topic struct {
	ID string
}

// Attribute names a value of a resource that is only known after
// provisioning, such as a load balancer DNS name.
type Attribute struct {
	Resource Ref
	Name     string
}

const (
	AttrDNSName    = "dns_name"
	AttrARN        = "arn"
	AttrBucketName = "bucket_name"
	AttrBucketARN  = "bucket_arn"
	AttrTopicARN   = "topic_arn"
	AttrTopicName  = "topic_name"
	AttrGroupName  = "group_name"
)

var attributesByKind = map[Kind][]string{
	KindLoadBalancer: {AttrDNSName, AttrARN},
	KindBucket:       {AttrBucketName, AttrBucketARN},
	KindTopic:        {AttrTopicARN, AttrTopicName},
	KindComputeGroup: {AttrGroupName},
}

// Output is a named value surfaced to the operator after provisioning.
type Output struct {
	Name      string
	Attribute Attribute
}
