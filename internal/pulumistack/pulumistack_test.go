package pulumistack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/pulumi/pulumi/sdk/v3/go/common/resource"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meni432/hello-cdk-aws-lab/internal/lookup"
	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

const (
	testVPC  = "vpc-052733467352389cf"
	testRole = "arn:aws:iam::079553702230:role/LabRole"
)

type registered struct {
	Name   string
	Inputs resource.PropertyMap
}

// mocks records every registered resource and answers the data source
// lookups from a fixed account.
type mocks struct {
	mu        sync.Mutex
	resources map[string][]registered
	calls     []string
	// failInvoke makes the named data source fail as an unreachable
	// endpoint would.
	failInvoke string
}

func newMocks() *mocks {
	return &mocks{resources: make(map[string][]registered)}
}

func (m *mocks) NewResource(args pulumi.MockResourceArgs) (string, resource.PropertyMap, error) {
	m.mu.Lock()
	for _, r := range m.resources[args.TypeToken] {
		if r.Name == args.Name {
			m.mu.Unlock()
			return "", nil, fmt.Errorf("duplicate resource URN: %s %s", args.TypeToken, args.Name)
		}
	}
	m.resources[args.TypeToken] = append(m.resources[args.TypeToken], registered{Name: args.Name, Inputs: args.Inputs})
	m.mu.Unlock()

	outputs := resource.PropertyMap{}
	for k, v := range args.Inputs {
		outputs[k] = v
	}
	outputs["arn"] = resource.NewStringProperty("arn:aws:mock:::" + args.Name)
	outputs["arnSuffix"] = resource.NewStringProperty("app/" + args.Name)
	if _, ok := outputs["name"]; !ok {
		outputs["name"] = resource.NewStringProperty(args.Name + "-generated")
	}
	switch args.TypeToken {
	case "aws:lb/loadBalancer:LoadBalancer":
		outputs["dnsName"] = resource.NewStringProperty(args.Name + ".elb.amazonaws.com")
	case "aws:s3/bucket:Bucket":
		outputs["bucket"] = resource.NewStringProperty(args.Name + "-bucket")
	}
	return args.Name + "_id", outputs, nil
}

func (m *mocks) Call(args pulumi.MockCallArgs) (resource.PropertyMap, error) {
	m.mu.Lock()
	m.calls = append(m.calls, args.Token)
	m.mu.Unlock()

	if args.Token == m.failInvoke {
		return nil, fmt.Errorf("request send failed: endpoint not found")
	}

	switch args.Token {
	case "aws:ec2/getAmi:getAmi":
		return resource.NewPropertyMapFromMap(map[string]interface{}{
			"id":           "ami-0123456789abcdef0",
			"architecture": "x86_64",
		}), nil
	case "aws:ec2/getVpc:getVpc":
		if args.Args["id"].StringValue() != testVPC {
			return nil, fmt.Errorf("no matching EC2 VPC found")
		}
		return resource.NewPropertyMapFromMap(map[string]interface{}{
			"id":        testVPC,
			"cidrBlock": "10.0.0.0/16",
		}), nil
	case "aws:ec2/getSubnets:getSubnets":
		return resource.NewPropertyMapFromMap(map[string]interface{}{
			"ids": []interface{}{"subnet-priv-b", "subnet-pub-a", "subnet-priv-a"},
		}), nil
	case "aws:ec2/getSubnet:getSubnet":
		id := args.Args["id"].StringValue()
		zone := "us-east-1a"
		if strings.HasSuffix(id, "-b") {
			zone = "us-east-1b"
		}
		subnetType := "Private"
		if strings.Contains(id, "pub") {
			subnetType = "Public"
		}
		return resource.NewPropertyMapFromMap(map[string]interface{}{
			"id":                  id,
			"availabilityZone":    zone,
			"mapPublicIpOnLaunch": false,
			"tags": map[string]interface{}{
				lookup.SubnetTypeTag: subnetType,
			},
		}), nil
	case "aws:iam/getRole:getRole":
		name := args.Args["name"].StringValue()
		if name != "LabRole" {
			return nil, fmt.Errorf("NoSuchEntity: role %s cannot be found", name)
		}
		return resource.NewPropertyMapFromMap(map[string]interface{}{
			"arn":  testRole,
			"name": name,
		}), nil
	}
	return resource.PropertyMap{}, nil
}

func (m *mocks) ofType(token string) []registered {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resources[token]
}

func labNetwork() topology.NetworkRef {
	return topology.NetworkRef{
		ID:   testVPC,
		CIDR: "10.0.0.0/16",
		Subnets: []topology.Subnet{
			{ID: "subnet-pub-a", Zone: "us-east-1a", Type: topology.SubnetPublic},
			{ID: "subnet-pub-b", Zone: "us-east-1b", Type: topology.SubnetPublic},
			{ID: "subnet-priv-a", Zone: "us-east-1a", Type: topology.SubnetPrivateWithEgress},
			{ID: "subnet-priv-b", Zone: "us-east-1b", Type: topology.SubnetPrivateWithEgress},
		},
	}
}

func helloGraph(t *testing.T) *topology.Graph {
	t.Helper()
	ctx := context.Background()
	resolver := lookup.NewStatic(labNetwork())
	b := topology.NewBuilder(
		topology.WithNetworkResolver(resolver),
		topology.WithIdentityResolver(resolver),
	)

	_, err := b.ResolveNetwork(ctx, testVPC)
	require.NoError(t, err)
	_, err = b.ReferenceIdentity(ctx, testRole)
	require.NoError(t, err)

	desired := 1
	cg, err := b.DeclareComputeGroup("web", topology.ComputeGroupSpec{
		Shape:      "t2.micro",
		KeyPair:    "vockey",
		BootScript: topology.BootScript{"yum update -y", "yum install -y httpd"},
		Network:    testVPC,
		Identity:   testRole,
		Capacity:   topology.Capacity{Min: 1, Max: 2, Desired: &desired},
	})
	require.NoError(t, err)

	alb, err := b.DeclareLoadBalancer("alb", testVPC, true)
	require.NoError(t, err)
	l, err := b.AddListener(alb, "http", topology.ListenerSpec{Port: 80})
	require.NoError(t, err)
	_, err = b.AddTarget(l, "web", cg, 80)
	require.NoError(t, err)
	_, err = b.DeclareScalingPolicy(cg, "requests", topology.MetricRequestCountPerTarget, 60)
	require.NoError(t, err)

	topic, err := b.DeclareTopic("uploads")
	require.NoError(t, err)
	bk, err := b.DeclareBucket("assets", topology.BucketSpec{
		Versioned:     true,
		RemovalPolicy: topology.RemovalDestroy,
		Identity:      testRole,
	})
	require.NoError(t, err)
	_, err = b.AddNotification(bk, topology.EventObjectCreated, topic, topology.NotificationFilter{Prefix: "images/"})
	require.NoError(t, err)

	require.NoError(t, b.EmitOutputs(map[string]topology.Attribute{
		"LoadBalancerDNS": alb.DNSName(),
		"BucketName":      bk.BucketName(),
		"TopicArn":        topic.ARN(),
		"GroupName":       cg.GroupName(),
	}))

	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func TestDeployHelloTopology(t *testing.T) {
	g := helloGraph(t)
	m := newMocks()

	var res *Resources
	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		var err error
		res, err = New(ctx, WithStackName("dev")).Deploy(g)
		return err
	}, pulumi.WithMocks("hello-cdk-aws-lab", "dev", m))
	require.NoError(t, err)

	counts := map[string]int{
		"aws:iam/instanceProfile:InstanceProfile":      1,
		"aws:ec2/securityGroup:SecurityGroup":          2,
		"aws:lb/loadBalancer:LoadBalancer":             1,
		"aws:lb/targetGroup:TargetGroup":               1,
		"aws:lb/listener:Listener":                     1,
		"aws:ec2/launchTemplate:LaunchTemplate":        1,
		"aws:autoscaling/group:Group":                  1,
		"aws:autoscaling/policy:Policy":                1,
		"aws:sns/topic:Topic":                          1,
		"aws:sns/topicPolicy:TopicPolicy":              1,
		"aws:s3/bucket:Bucket":                         1,
		"aws:s3/bucketNotification:BucketNotification": 1,
	}
	for token, want := range counts {
		assert.Len(t, m.ofType(token), want, token)
	}
	assert.Contains(t, m.calls, "aws:ec2/getAmi:getAmi")

	assert.Len(t, res.LoadBalancers, 1)
	assert.Len(t, res.ComputeGroups, 1)
	assert.Len(t, res.Topics, 1)
	assert.Len(t, res.Buckets, 1)
	assert.ElementsMatch(t,
		[]string{"LoadBalancerDNS", "BucketName", "TopicArn", "GroupName"},
		keys(res.Outputs))
}

func TestDeployComputeGroupInputs(t *testing.T) {
	g := helloGraph(t)
	m := newMocks()

	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		_, err := New(ctx, WithStackName("dev")).Deploy(g)
		return err
	}, pulumi.WithMocks("hello-cdk-aws-lab", "dev", m))
	require.NoError(t, err)

	groups := m.ofType("aws:autoscaling/group:Group")
	require.Len(t, groups, 1)
	asg := groups[0]
	assert.Equal(t, "web", asg.Name)
	assert.Equal(t, 1.0, asg.Inputs["minSize"].NumberValue())
	assert.Equal(t, 2.0, asg.Inputs["maxSize"].NumberValue())
	assert.Equal(t, 1.0, asg.Inputs["desiredCapacity"].NumberValue())

	var zones []string
	for _, v := range asg.Inputs["vpcZoneIdentifiers"].ArrayValue() {
		zones = append(zones, v.StringValue())
	}
	assert.Equal(t, []string{"subnet-priv-a", "subnet-priv-b"}, zones)

	templates := m.ofType("aws:ec2/launchTemplate:LaunchTemplate")
	require.Len(t, templates, 1)
	lt := templates[0].Inputs
	assert.Equal(t, "ami-0123456789abcdef0", lt["imageId"].StringValue())
	assert.Equal(t, "t2.micro", lt["instanceType"].StringValue())
	assert.Equal(t, "vockey", lt["keyName"].StringValue())
	assert.NotEmpty(t, lt["userData"].StringValue())

	profiles := m.ofType("aws:iam/instanceProfile:InstanceProfile")
	require.Len(t, profiles, 1)
	assert.Equal(t, "LabRole", profiles[0].Inputs["role"].StringValue())
}

func TestDeployLoadBalancerInputs(t *testing.T) {
	g := helloGraph(t)
	m := newMocks()

	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		_, err := New(ctx).Deploy(g)
		return err
	}, pulumi.WithMocks("hello-cdk-aws-lab", "dev", m))
	require.NoError(t, err)

	lbs := m.ofType("aws:lb/loadBalancer:LoadBalancer")
	require.Len(t, lbs, 1)
	assert.False(t, lbs[0].Inputs["internal"].BoolValue())
	assert.Equal(t, "application", lbs[0].Inputs["loadBalancerType"].StringValue())

	listeners := m.ofType("aws:lb/listener:Listener")
	require.Len(t, listeners, 1)
	assert.Equal(t, "alb-http", listeners[0].Name)
	assert.Equal(t, 80.0, listeners[0].Inputs["port"].NumberValue())
	assert.Equal(t, "HTTP", listeners[0].Inputs["protocol"].StringValue())

	actions := listeners[0].Inputs["defaultActions"].ArrayValue()
	require.Len(t, actions, 1)
	assert.Equal(t, "forward", actions[0].ObjectValue()["type"].StringValue())

	tgs := m.ofType("aws:lb/targetGroup:TargetGroup")
	require.Len(t, tgs, 1)
	assert.Equal(t, "alb-http-web-tg", tgs[0].Name)
	assert.Equal(t, 80.0, tgs[0].Inputs["port"].NumberValue())
}

func TestDeployScalingPolicy(t *testing.T) {
	g := helloGraph(t)
	m := newMocks()

	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		_, err := New(ctx).Deploy(g)
		return err
	}, pulumi.WithMocks("hello-cdk-aws-lab", "dev", m))
	require.NoError(t, err)

	policies := m.ofType("aws:autoscaling/policy:Policy")
	require.Len(t, policies, 1)
	p := policies[0].Inputs
	assert.Equal(t, "TargetTrackingScaling", p["policyType"].StringValue())

	tracking := p["targetTrackingConfiguration"].ObjectValue()
	assert.Equal(t, 60.0, tracking["targetValue"].NumberValue())
	spec := tracking["predefinedMetricSpecification"].ObjectValue()
	assert.Equal(t, "ALBRequestCountPerTarget", spec["predefinedMetricType"].StringValue())
	assert.Equal(t, "app/alb/app/alb-http-web-tg", spec["resourceLabel"].StringValue())
}

func TestDeployBucketNotification(t *testing.T) {
	g := helloGraph(t)
	m := newMocks()

	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		_, err := New(ctx).Deploy(g)
		return err
	}, pulumi.WithMocks("hello-cdk-aws-lab", "dev", m))
	require.NoError(t, err)

	buckets := m.ofType("aws:s3/bucket:Bucket")
	require.Len(t, buckets, 1)
	assert.True(t, buckets[0].Inputs["forceDestroy"].BoolValue())
	versioning := buckets[0].Inputs["versioning"].ObjectValue()
	assert.True(t, versioning["enabled"].BoolValue())

	notifications := m.ofType("aws:s3/bucketNotification:BucketNotification")
	require.Len(t, notifications, 1)
	topics := notifications[0].Inputs["topics"].ArrayValue()
	require.Len(t, topics, 1)
	topic := topics[0].ObjectValue()
	assert.Equal(t, "images/", topic["filterPrefix"].StringValue())
	events := topic["events"].ArrayValue()
	require.Len(t, events, 1)
	assert.Equal(t, "s3:ObjectCreated:*", events[0].StringValue())

	policies := m.ofType("aws:sns/topicPolicy:TopicPolicy")
	require.Len(t, policies, 1)
	assert.Contains(t, policies[0].Inputs["policy"].StringValue(), "arn:aws:mock:::assets")
}

func TestApplyExportsOutputs(t *testing.T) {
	g := helloGraph(t)

	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		return New(ctx).Apply(context.Background(), g)
	}, pulumi.WithMocks("hello-cdk-aws-lab", "dev", newMocks()))
	require.NoError(t, err)
}

func TestDeployRetainedBucket(t *testing.T) {
	resolver := lookup.NewStatic(labNetwork())
	b := topology.NewBuilder(topology.WithNetworkResolver(resolver))
	_, err := b.DeclareBucket("archive", topology.BucketSpec{Versioned: false})
	require.NoError(t, err)
	g, err := b.Build()
	require.NoError(t, err)

	m := newMocks()
	err = pulumi.RunErr(func(ctx *pulumi.Context) error {
		_, err := New(ctx).Deploy(g)
		return err
	}, pulumi.WithMocks("hello-cdk-aws-lab", "dev", m))
	require.NoError(t, err)

	buckets := m.ofType("aws:s3/bucket:Bucket")
	require.Len(t, buckets, 1)
	assert.False(t, buckets[0].Inputs["forceDestroy"].BoolValue())
	assert.Empty(t, m.ofType("aws:s3/bucketNotification:BucketNotification"))
	assert.Empty(t, m.ofType("aws:sns/topicPolicy:TopicPolicy"))
}

func TestPublishPolicy(t *testing.T) {
	doc, err := publishPolicy("arn:aws:sns:us-east-1:079553702230:uploads", []string{"arn:aws:s3:::assets"})
	require.NoError(t, err)

	var parsed struct {
		Statement []struct {
			Effect    string
			Principal map[string]string
			Action    string
			Resource  string
			Condition map[string]map[string][]string
		}
	}
	require.NoError(t, json.Unmarshal([]byte(doc), &parsed))
	require.Len(t, parsed.Statement, 1)
	s := parsed.Statement[0]
	assert.Equal(t, "Allow", s.Effect)
	assert.Equal(t, "s3.amazonaws.com", s.Principal["Service"])
	assert.Equal(t, "sns:Publish", s.Action)
	assert.Equal(t, []string{"arn:aws:s3:::assets"}, s.Condition["ArnLike"]["aws:SourceArn"])
}

func TestDeployRejectsSharedLogicalNames(t *testing.T) {
	g := helloGraph(t)
	g.LoadBalancers = append(g.LoadBalancers, topology.LoadBalancer{ID: "web", Network: testVPC, Public: true})
	m := newMocks()

	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		_, err := New(ctx, WithStackName("dev")).Deploy(g)
		return err
	}, pulumi.WithMocks("hello-cdk-aws-lab", "dev", m))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `share the logical name "web"`)
	assert.Empty(t, m.ofType("aws:ec2/securityGroup:SecurityGroup"))
}

func TestResourceName(t *testing.T) {
	assert.Equal(t, "alb-http-web-tg", resourceName("alb/http/web", "tg"))
	assert.Equal(t, "assets", resourceName("assets"))
}

func TestResolver(t *testing.T) {
	t.Run("network", func(t *testing.T) {
		var network topology.NetworkRef
		err := pulumi.RunErr(func(ctx *pulumi.Context) error {
			var err error
			network, err = NewResolver(ctx, nil).ResolveNetwork(context.Background(), testVPC)
			return err
		}, pulumi.WithMocks("hello-cdk-aws-lab", "dev", newMocks()))
		require.NoError(t, err)

		assert.Equal(t, testVPC, network.ID)
		assert.Equal(t, "10.0.0.0/16", network.CIDR)
		assert.Equal(t, []topology.Subnet{
			{ID: "subnet-priv-a", Zone: "us-east-1a", Type: topology.SubnetPrivateWithEgress},
			{ID: "subnet-pub-a", Zone: "us-east-1a", Type: topology.SubnetPublic},
			{ID: "subnet-priv-b", Zone: "us-east-1b", Type: topology.SubnetPrivateWithEgress},
		}, network.Subnets)
	})

	t.Run("unknown network", func(t *testing.T) {
		var resolveErr error
		err := pulumi.RunErr(func(ctx *pulumi.Context) error {
			_, resolveErr = NewResolver(ctx, nil).ResolveNetwork(context.Background(), "vpc-missing")
			return nil
		}, pulumi.WithMocks("hello-cdk-aws-lab", "dev", newMocks()))
		require.NoError(t, err)
		assert.ErrorIs(t, resolveErr, topology.ErrNotFound)
	})

	t.Run("identity", func(t *testing.T) {
		var binding topology.IdentityBinding
		err := pulumi.RunErr(func(ctx *pulumi.Context) error {
			var err error
			binding, err = NewResolver(ctx, nil).ResolveIdentity(context.Background(), testRole)
			return err
		}, pulumi.WithMocks("hello-cdk-aws-lab", "dev", newMocks()))
		require.NoError(t, err)
		assert.Equal(t, "LabRole", binding.Name)
		assert.Equal(t, "079553702230", binding.AccountID)
	})

	t.Run("unknown role", func(t *testing.T) {
		var resolveErr error
		err := pulumi.RunErr(func(ctx *pulumi.Context) error {
			_, resolveErr = NewResolver(ctx, nil).ResolveIdentity(context.Background(), "arn:aws:iam::079553702230:role/Missing")
			return nil
		}, pulumi.WithMocks("hello-cdk-aws-lab", "dev", newMocks()))
		require.NoError(t, err)
		assert.ErrorIs(t, resolveErr, topology.ErrNotFound)
	})
}

func TestNotFoundClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		vpc  bool
		role bool
	}{
		{name: "missing vpc", err: errors.New("invoking aws:ec2/getVpc:getVpc: 1 error occurred:\n\t* no matching EC2 VPC found"), vpc: true},
		{name: "missing role", err: errors.New("reading IAM Role (Missing): NoSuchEntity: The role with name Missing cannot be found."), role: true},
		{name: "unrelated not found", err: errors.New("endpoint not found: sts.us-east-1.amazonaws.com")},
		{name: "unrelated no matching", err: errors.New("no matching credentials in the chain")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.vpc, vpcNotFound(tt.err))
			assert.Equal(t, tt.role, roleNotFound(tt.err))
		})
	}
}

func TestResolverKeepsTransportErrors(t *testing.T) {
	m := newMocks()
	m.failInvoke = "aws:ec2/getVpc:getVpc"
	var resolveErr error
	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		_, resolveErr = NewResolver(ctx, nil).ResolveNetwork(context.Background(), testVPC)
		return nil
	}, pulumi.WithMocks("hello-cdk-aws-lab", "dev", m))
	require.NoError(t, err)
	require.Error(t, resolveErr)
	assert.NotErrorIs(t, resolveErr, topology.ErrNotFound)
	assert.Contains(t, resolveErr.Error(), "lookup vpc")
}

func keys(m map[string]pulumi.Output) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
