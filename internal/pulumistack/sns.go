package pulumistack

import (
	"encoding/json"

	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/sns"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"

	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

// MessagingResources holds a topic and the policy letting buckets publish
// to it.
type MessagingResources struct {
	Topic  *sns.Topic
	Policy *sns.TopicPolicy
}

// createMessagingResources creates the SNS topic.
func (a *Applier) createMessagingResources(t topology.Topic) (*MessagingResources, error) {
	topic, err := sns.NewTopic(a.ctx, resourceName(t.ID), &sns.TopicArgs{
		Tags: a.tags(t.ID),
	})
	if err != nil {
		return nil, err
	}
	return &MessagingResources{Topic: topic}, nil
}

// createTopicPolicies grants S3 permission to publish to every topic that
// a bucket notifies, scoped to the notifying buckets.
func (a *Applier) createTopicPolicies(g *topology.Graph, res *Resources) error {
	for _, t := range g.Topics {
		topicRes := res.Topics[t.ID]

		var sources []pulumi.StringOutput
		seen := make(map[string]bool)
		for _, bk := range g.Buckets {
			for _, n := range bk.Notifications {
				if n.Topic != t.ID || seen[bk.ID] {
					continue
				}
				seen[bk.ID] = true
				sources = append(sources, res.Buckets[bk.ID].Bucket.Arn)
			}
		}
		if len(sources) == 0 {
			continue
		}

		inputs := []interface{}{topicRes.Topic.Arn}
		for _, s := range sources {
			inputs = append(inputs, s)
		}

		// Create topic policy allowing S3 to publish
		policy, err := sns.NewTopicPolicy(a.ctx, resourceName(t.ID, "policy"), &sns.TopicPolicyArgs{
			Arn: topicRes.Topic.Arn,
			Policy: pulumi.All(inputs...).ApplyT(func(args []interface{}) (string, error) {
				topicArn := args[0].(string)
				var bucketArns []string
				for _, arn := range args[1:] {
					bucketArns = append(bucketArns, arn.(string))
				}
				return publishPolicy(topicArn, bucketArns)
			}).(pulumi.StringOutput),
		})
		if err != nil {
			return err
		}
		topicRes.Policy = policy
	}
	return nil
}

// publishPolicy renders the topic policy document allowing the given
// buckets to publish through the S3 service principal.
func publishPolicy(topicArn string, bucketArns []string) (string, error) {
	doc := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Sid":       "AllowS3Publish",
				"Effect":    "Allow",
				"Principal": map[string]string{"Service": "s3.amazonaws.com"},
				"Action":    "sns:Publish",
				"Resource":  topicArn,
				"Condition": map[string]interface{}{
					"ArnLike": map[string]interface{}{
						"aws:SourceArn": bucketArns,
					},
				},
			},
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
