package topology

import (
	"fmt"

	"go.uber.org/zap"
)

// DeclareTopic declares a pub/sub fan-out endpoint.
func (b *Builder) DeclareTopic(name string) (*Topic, error) {
	if err := checkName(KindTopic, name); err != nil {
		return nil, b.fail(err)
	}
	if _, dup := b.topicByID[name]; dup {
		return nil, b.fail(invalid(string(KindTopic), "name", "%q is already declared", name))
	}
	ref := Ref{Kind: KindTopic, ID: name}
	if err := b.claim(ref); err != nil {
		return nil, b.fail(err)
	}
	t := &Topic{ID: name}
	b.topics = append(b.topics, t)
	b.topicByID[name] = t
	b.log.Debug("declared topic", zap.String("id", name))

	handle := *t
	b.track(&handle, ref)
	return &handle, nil
}

// DeclareBucket declares an object store. An empty removal policy means
// retain; snapshot does not apply to buckets.
func (b *Builder) DeclareBucket(name string, spec BucketSpec) (*StorageBucket, error) {
	if err := checkName(KindBucket, name); err != nil {
		return nil, b.fail(err)
	}
	if _, dup := b.bucketByID[name]; dup {
		return nil, b.fail(invalid(string(KindBucket), "name", "%q is already declared", name))
	}
	if spec.RemovalPolicy == "" {
		spec.RemovalPolicy = RemovalRetain
	}
	switch spec.RemovalPolicy {
	case RemovalDestroy, RemovalRetain:
	case RemovalSnapshot:
		return nil, b.fail(invalid(name, "removal policy", "buckets cannot be snapshotted"))
	default:
		return nil, b.fail(invalid(name, "removal policy", "unknown policy %q", spec.RemovalPolicy))
	}
	if err := b.checkIdentity(spec.Identity); err != nil {
		return nil, b.fail(err)
	}
	ref := Ref{Kind: KindBucket, ID: name}
	if err := b.claim(ref); err != nil {
		return nil, b.fail(err)
	}

	bk := &StorageBucket{ID: name, BucketSpec: spec}
	b.buckets = append(b.buckets, bk)
	b.bucketByID[name] = bk
	b.log.Debug("declared bucket",
		zap.String("id", name),
		zap.Bool("versioned", spec.Versioned),
		zap.String("removal_policy", string(spec.RemovalPolicy)))

	handle := bk.clone()
	b.track(&handle, ref)
	return &handle, nil
}

// AddNotification delivers the bucket's events of the given type to a topic
// that was declared earlier by this builder. Filters are merged; at most one
// prefix and one suffix may be given.
func (b *Builder) AddNotification(bucket *StorageBucket, event EventType, topic *Topic, filters ...NotificationFilter) (*EventNotification, error) {
	if bucket == nil {
		return nil, b.fail(notFound(KindBucket, "", "nil bucket"))
	}
	bucketID, ok := b.owned(bucket, KindBucket)
	if !ok {
		return nil, b.fail(notFound(KindBucket, bucket.ID, "not declared by this builder"))
	}
	bk := b.bucketByID[bucketID]
	if topic == nil {
		return nil, b.fail(notFound(KindTopic, "", "nil topic"))
	}
	topicID, ok := b.owned(topic, KindTopic)
	if !ok {
		return nil, b.fail(notFound(KindTopic, topic.ID, "not declared before the notification"))
	}
	switch event {
	case EventObjectCreated, EventObjectRemoved:
	default:
		return nil, b.fail(invalid(bk.ID, "event", "unknown event type %q", event))
	}

	var filter NotificationFilter
	for _, f := range filters {
		if f.Prefix != "" {
			if filter.Prefix != "" {
				return nil, b.fail(invalid(bk.ID, "filter", "more than one prefix"))
			}
			filter.Prefix = f.Prefix
		}
		if f.Suffix != "" {
			if filter.Suffix != "" {
				return nil, b.fail(invalid(bk.ID, "filter", "more than one suffix"))
			}
			filter.Suffix = f.Suffix
		}
	}
	for _, n := range bk.Notifications {
		if n.Event == event && n.Topic == topicID && n.Filter == filter {
			return nil, b.fail(invalid(bk.ID, "notification", "%s to %s is already bound", event, topicID))
		}
	}

	n := EventNotification{
		ID:     fmt.Sprintf("%s/notification-%d", bk.ID, len(bk.Notifications)+1),
		Bucket: bk.ID,
		Event:  event,
		Topic:  topicID,
		Filter: filter,
	}
	bk.Notifications = append(bk.Notifications, n)
	b.log.Debug("added notification",
		zap.String("id", n.ID),
		zap.String("event", string(event)),
		zap.String("topic", topicID))
	return &n, nil
}

// BucketName refers to the provisioned bucket name.
func (bk *StorageBucket) BucketName() Attribute {
	return Attribute{Resource: Ref{Kind: KindBucket, ID: bk.ID}, Name: AttrBucketName}
}

// BucketARN refers to the provisioned bucket ARN.
func (bk *StorageBucket) BucketARN() Attribute {
	return Attribute{Resource: Ref{Kind: KindBucket, ID: bk.ID}, Name: AttrBucketARN}
}

// ARN refers to the provisioned topic ARN.
func (t *Topic) ARN() Attribute {
	return Attribute{Resource: Ref{Kind: KindTopic, ID: t.ID}, Name: AttrTopicARN}
}
