package topology

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testVPC  = "vpc-052733467352389cf"
	testRole = "arn:aws:iam::079553702230:role/LabRole"
)

type fakeNetworks struct {
	networks map[string]NetworkRef
	err      error
	calls    int
}

func (f *fakeNetworks) ResolveNetwork(_ context.Context, id string) (NetworkRef, error) {
	f.calls++
	if f.err != nil {
		return NetworkRef{}, f.err
	}
	n, ok := f.networks[id]
	if !ok {
		return NetworkRef{}, &NotFoundError{Kind: KindNetwork, ID: id, Reason: "no such vpc"}
	}
	return n, nil
}

type fakeIdentities struct {
	known map[string]bool
}

func (f *fakeIdentities) ResolveIdentity(_ context.Context, arn string) (IdentityBinding, error) {
	if !f.known[arn] {
		return IdentityBinding{}, &NotFoundError{Kind: KindIdentity, ID: arn, Reason: "no such role"}
	}
	return ParseRoleARN(arn)
}

func labNetwork() NetworkRef {
	return NetworkRef{
		ID:   testVPC,
		CIDR: "10.0.0.0/16",
		Subnets: []Subnet{
			{ID: "subnet-pub-a", Zone: "us-east-1a", Type: SubnetPublic},
			{ID: "subnet-pub-b", Zone: "us-east-1b", Type: SubnetPublic},
			{ID: "subnet-priv-a", Zone: "us-east-1a", Type: SubnetPrivateWithEgress},
			{ID: "subnet-priv-b", Zone: "us-east-1b", Type: SubnetPrivateWithEgress},
		},
	}
}

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b := NewBuilder(
		WithNetworkResolver(&fakeNetworks{networks: map[string]NetworkRef{testVPC: labNetwork()}}),
		WithIdentityResolver(&fakeIdentities{known: map[string]bool{testRole: true}}),
	)
	ctx := context.Background()
	_, err := b.ResolveNetwork(ctx, testVPC)
	require.NoError(t, err)
	_, err = b.ReferenceIdentity(ctx, testRole)
	require.NoError(t, err)
	return b
}

func webGroupSpec() ComputeGroupSpec {
	return ComputeGroupSpec{
		Shape:      "t2.micro",
		KeyPair:    "vockey",
		BootScript: BootScript{"yum update -y"},
		Network:    testVPC,
		Identity:   testRole,
		Capacity:   Capacity{Min: 1, Max: 1},
	}
}

// declareHello declares the full hello topology and returns the builder.
func declareHello(t *testing.T) *Builder {
	t.Helper()
	b := newTestBuilder(t)

	cg, err := b.DeclareComputeGroup("web", webGroupSpec())
	require.NoError(t, err)
	lb, err := b.DeclareLoadBalancer("alb", testVPC, true)
	require.NoError(t, err)
	l, err := b.AddListener(lb, "http", ListenerSpec{Port: 80})
	require.NoError(t, err)
	_, err = b.AddTarget(l, "web", cg, 80)
	require.NoError(t, err)
	_, err = b.DeclareScalingPolicy(cg, "requests", MetricRequestCountPerTarget, 60)
	require.NoError(t, err)

	topic, err := b.DeclareTopic("uploads")
	require.NoError(t, err)
	bk, err := b.DeclareBucket("assets", BucketSpec{Versioned: true, RemovalPolicy: RemovalDestroy, Identity: testRole})
	require.NoError(t, err)
	_, err = b.AddNotification(bk, EventObjectCreated, topic)
	require.NoError(t, err)

	require.NoError(t, b.EmitOutputs(map[string]Attribute{
		"LoadBalancerDNS": lb.DNSName(),
		"BucketName":      bk.BucketName(),
		"TopicArn":        topic.ARN(),
	}))
	return b
}

func requireValidation(t *testing.T, err error) *ValidationError {
	t.Helper()
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "want *ValidationError, got %T: %v", err, err)
	require.ErrorIs(t, err, ErrValidation)
	return ve
}

func requireNotFound(t *testing.T, err error) *NotFoundError {
	t.Helper()
	require.Error(t, err)
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf), "want *NotFoundError, got %T: %v", err, err)
	require.ErrorIs(t, err, ErrNotFound)
	return nf
}
