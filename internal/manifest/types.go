// Package manifest reads declarative topology files and replays them as
// topology builder calls.
package manifest

// File is a decoded topology file. The same structure is read from YAML and
// from HCL; in HCL the name of a repeated block is its label.
type File struct {
	Name          string         `yaml:"name" hcl:"name,optional"`
	Network       Network        `yaml:"network" hcl:"network,block"`
	Identity      *Identity      `yaml:"identity,omitempty" hcl:"identity,block"`
	ComputeGroups []ComputeGroup `yaml:"compute_groups" hcl:"compute_group,block"`
	LoadBalancers []LoadBalancer `yaml:"load_balancers" hcl:"load_balancer,block"`
	Topics        []Topic        `yaml:"topics" hcl:"topic,block"`
	Buckets       []Bucket       `yaml:"buckets" hcl:"bucket,block"`
	Outputs       []Output       `yaml:"outputs" hcl:"output,block"`
}

// Network names the existing VPC. Subnets, when listed, let the file be
// compiled without talking to AWS.
type Network struct {
	ID      string   `yaml:"id" hcl:"id,optional"`
	CIDR    string   `yaml:"cidr,omitempty" hcl:"cidr,optional"`
	Subnets []Subnet `yaml:"subnets,omitempty" hcl:"subnet,block"`
}

type Subnet struct {
	ID   string `yaml:"id" hcl:"id"`
	Zone string `yaml:"zone,omitempty" hcl:"zone,optional"`
	Type string `yaml:"type" hcl:"type"`
}

// Identity is the pre-existing role instances and buckets run as.
type Identity struct {
	RoleARN string `yaml:"role_arn" hcl:"role_arn,optional"`
}

type ComputeGroup struct {
	Name       string          `yaml:"name" hcl:"name,label"`
	Shape      string          `yaml:"shape" hcl:"shape"`
	Image      *Image          `yaml:"image,omitempty" hcl:"image,block"`
	KeyPair    string          `yaml:"key_pair,omitempty" hcl:"key_pair,optional"`
	Placement  string          `yaml:"placement,omitempty" hcl:"placement,optional"`
	Capacity   *Capacity       `yaml:"capacity,omitempty" hcl:"capacity,block"`
	BootScript []string        `yaml:"boot_script,omitempty" hcl:"boot_script,optional"`
	Scaling    []ScalingPolicy `yaml:"scaling,omitempty" hcl:"scaling_policy,block"`
}

type Image struct {
	ID           string `yaml:"id,omitempty" hcl:"id,optional"`
	Family       string `yaml:"family,omitempty" hcl:"family,optional"`
	Architecture string `yaml:"architecture,omitempty" hcl:"architecture,optional"`
}

type Capacity struct {
	Min     int  `yaml:"min" hcl:"min"`
	Max     int  `yaml:"max" hcl:"max"`
	Desired *int `yaml:"desired,omitempty" hcl:"desired,optional"`
}

type ScalingPolicy struct {
	Name   string  `yaml:"name" hcl:"name,label"`
	Metric string  `yaml:"metric" hcl:"metric"`
	Target float64 `yaml:"target" hcl:"target"`
}

type LoadBalancer struct {
	Name      string     `yaml:"name" hcl:"name,label"`
	Public    bool       `yaml:"public" hcl:"public,optional"`
	Listeners []Listener `yaml:"listeners" hcl:"listener,block"`
}

type Listener struct {
	Name           string  `yaml:"name" hcl:"name,label"`
	Port           int     `yaml:"port" hcl:"port"`
	Protocol       string  `yaml:"protocol,omitempty" hcl:"protocol,optional"`
	CertificateARN string  `yaml:"certificate_arn,omitempty" hcl:"certificate_arn,optional"`
	Target         *Target `yaml:"target,omitempty" hcl:"target,block"`
}

// Target routes a listener to a compute group. Port defaults to the
// listener port.
type Target struct {
	Name         string `yaml:"name" hcl:"name,label"`
	ComputeGroup string `yaml:"compute_group" hcl:"compute_group"`
	Port         int    `yaml:"port,omitempty" hcl:"port,optional"`
}

type Topic struct {
	Name string `yaml:"name" hcl:"name,label"`
}

type Bucket struct {
	Name          string         `yaml:"name" hcl:"name,label"`
	Versioned     bool           `yaml:"versioned" hcl:"versioned,optional"`
	RemovalPolicy string         `yaml:"removal_policy,omitempty" hcl:"removal_policy,optional"`
	Notifications []Notification `yaml:"notifications,omitempty" hcl:"notification,block"`
}

type Notification struct {
	Event  string `yaml:"event" hcl:"event"`
	Topic  string `yaml:"topic" hcl:"topic"`
	Prefix string `yaml:"prefix,omitempty" hcl:"prefix,optional"`
	Suffix string `yaml:"suffix,omitempty" hcl:"suffix,optional"`
}

// Output exposes an attribute of a declared resource. Resource is written
// as "kind.name", for example "load_balancer.web".
type Output struct {
	Name      string `yaml:"name" hcl:"name,label"`
	Resource  string `yaml:"resource" hcl:"resource"`
	Attribute string `yaml:"attribute" hcl:"attribute"`
}

// Overrides replace the environment-specific identifiers of a file.
type Overrides struct {
	VPCID   string
	KeyPair string
	RoleARN string
}

// Apply returns a copy of f with the non-empty overrides applied. The key
// pair override applies to every compute group.
func (o Overrides) Apply(f *File) *File {
	out := *f
	if o.VPCID != "" {
		out.Network.ID = o.VPCID
		out.Network.Subnets = nil
	}
	if o.RoleARN != "" {
		out.Identity = &Identity{RoleARN: o.RoleARN}
	}
	if o.KeyPair != "" {
		out.ComputeGroups = append([]ComputeGroup(nil), f.ComputeGroups...)
		for i := range out.ComputeGroups {
			out.ComputeGroups[i].KeyPair = o.KeyPair
		}
	}
	return &out
}
