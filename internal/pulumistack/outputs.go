package pulumistack

import (
	"fmt"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

// collectOutputs maps every output of the graph to the provisioned value it
// names.
func collectOutputs(g *topology.Graph, res *Resources) (map[string]pulumi.Output, error) {
	outputs := make(map[string]pulumi.Output, len(g.Outputs))
	for _, o := range g.Outputs {
		v, err := attributeOutput(o.Attribute, res)
		if err != nil {
			return nil, fmt.Errorf("pulumistack: output %s: %w", o.Name, err)
		}
		outputs[o.Name] = v
	}
	return outputs, nil
}

func attributeOutput(attr topology.Attribute, res *Resources) (pulumi.Output, error) {
	id := attr.Resource.ID
	switch attr.Resource.Kind {
	case topology.KindLoadBalancer:
		lbRes, ok := res.LoadBalancers[id]
		if !ok {
			return nil, missing(attr.Resource.Kind, id)
		}
		switch attr.Name {
		case topology.AttrDNSName:
			return lbRes.LoadBalancer.DnsName, nil
		case topology.AttrARN:
			return lbRes.LoadBalancer.Arn, nil
		}
	case topology.KindBucket:
		bucketRes, ok := res.Buckets[id]
		if !ok {
			return nil, missing(attr.Resource.Kind, id)
		}
		switch attr.Name {
		case topology.AttrBucketName:
			return bucketRes.Bucket.Bucket, nil
		case topology.AttrBucketARN:
			return bucketRes.Bucket.Arn, nil
		}
	case topology.KindTopic:
		topicRes, ok := res.Topics[id]
		if !ok {
			return nil, missing(attr.Resource.Kind, id)
		}
		switch attr.Name {
		case topology.AttrTopicARN:
			return topicRes.Topic.Arn, nil
		case topology.AttrTopicName:
			return topicRes.Topic.Name, nil
		}
	case topology.KindComputeGroup:
		cgRes, ok := res.ComputeGroups[id]
		if !ok {
			return nil, missing(attr.Resource.Kind, id)
		}
		if attr.Name == topology.AttrGroupName {
			return cgRes.Group.Name, nil
		}
	}
	return nil, fmt.Errorf("%s has no attribute %q", attr.Resource, attr.Name)
}
