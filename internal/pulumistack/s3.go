package pulumistack

import (
	"github.com/pulumi/pulumi-aws/sdk/v5/go/aws/s3"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"go.uber.org/zap"

	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

var s3Events = map[topology.EventType]string{
	topology.EventObjectCreated: "s3:ObjectCreated:*",
	topology.EventObjectRemoved: "s3:ObjectRemoved:*",
}

// StorageResources holds a bucket and its notification configuration.
type StorageResources struct {
	Bucket       *s3.Bucket
	Notification *s3.BucketNotification
}

// createStorageResources creates the bucket. Destroy empties the bucket on
// delete; retain leaves it behind when the stack drops it.
func (a *Applier) createStorageResources(bk topology.StorageBucket) (*StorageResources, error) {
	tags := a.tags(bk.ID)
	if bk.Identity != "" {
		tags["topology:identity"] = pulumi.String(bk.Identity)
	}

	var opts []pulumi.ResourceOption
	if bk.RemovalPolicy == topology.RemovalRetain {
		opts = append(opts, pulumi.RetainOnDelete(true))
	}

	// Create S3 bucket
	bucket, err := s3.NewBucket(a.ctx, resourceName(bk.ID), &s3.BucketArgs{
		Acl: pulumi.String("private"),
		Versioning: &s3.BucketVersioningArgs{
			Enabled: pulumi.Bool(bk.Versioned),
		},
		ForceDestroy: pulumi.Bool(bk.RemovalPolicy == topology.RemovalDestroy),
		Tags:         tags,
		// Configure server-side encryption
		ServerSideEncryptionConfiguration: &s3.BucketServerSideEncryptionConfigurationArgs{
			Rule: &s3.BucketServerSideEncryptionConfigurationRuleArgs{
				ApplyServerSideEncryptionByDefault: &s3.BucketServerSideEncryptionConfigurationRuleApplyServerSideEncryptionByDefaultArgs{
					SseAlgorithm: pulumi.String("AES256"),
				},
			},
		},
	}, opts...)
	if err != nil {
		return nil, err
	}

	a.log.Debug("registered bucket",
		zap.String("id", bk.ID),
		zap.Bool("versioned", bk.Versioned),
		zap.String("removal_policy", string(bk.RemovalPolicy)))
	return &StorageResources{Bucket: bucket}, nil
}

// createBucketNotification writes the single notification configuration S3
// allows per bucket, after the topic policies that authorise it.
func (a *Applier) createBucketNotification(bk topology.StorageBucket, res *Resources) error {
	if len(bk.Notifications) == 0 {
		return nil
	}
	bucketRes := res.Buckets[bk.ID]

	topics := s3.BucketNotificationTopicArray{}
	var dependsOn []pulumi.Resource
	for _, n := range bk.Notifications {
		topicRes, ok := res.Topics[n.Topic]
		if !ok {
			return missing(topology.KindTopic, n.Topic)
		}
		args := &s3.BucketNotificationTopicArgs{
			Id:       pulumi.String(resourceName(n.ID)),
			TopicArn: topicRes.Topic.Arn,
			Events:   pulumi.StringArray{pulumi.String(s3Events[n.Event])},
		}
		if n.Filter.Prefix != "" {
			args.FilterPrefix = pulumi.String(n.Filter.Prefix)
		}
		if n.Filter.Suffix != "" {
			args.FilterSuffix = pulumi.String(n.Filter.Suffix)
		}
		topics = append(topics, args)
		if topicRes.Policy != nil {
			dependsOn = append(dependsOn, topicRes.Policy)
		}
	}

	// Create bucket notification
	notification, err := s3.NewBucketNotification(a.ctx, resourceName(bk.ID, "notification"), &s3.BucketNotificationArgs{
		Bucket: bucketRes.Bucket.ID(),
		Topics: topics,
	}, pulumi.DependsOn(dependsOn))
	if err != nil {
		return err
	}
	bucketRes.Notification = notification
	return nil
}
