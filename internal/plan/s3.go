package plan

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/meni432/hello-cdk-aws-lab/internal/topology"
)

// PutObjectAPI is the part of the S3 client used to publish plans.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher is an applier that uploads the plan document to S3, where a
// provisioning pipeline can pick it up.
type S3Publisher struct {
	Client PutObjectAPI
	Bucket string
	Key    string
	Format Format
	Logger *zap.Logger
}

var _ topology.Applier = (*S3Publisher)(nil)

// ParseS3URI splits "s3://bucket/key" into bucket and key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%q is not an s3:// URI", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%q must name a bucket and an object key", uri)
	}
	return bucket, key, nil
}

// Apply implements topology.Applier.
func (p *S3Publisher) Apply(ctx context.Context, g *topology.Graph) error {
	doc := New(g)
	var buf bytes.Buffer
	if err := doc.Encode(&buf, p.Format); err != nil {
		return err
	}

	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("uploading plan",
		zap.String("bucket", p.Bucket),
		zap.String("key", p.Key),
		zap.Int("bytes", buf.Len()))

	_, err := p.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.Bucket),
		Key:         aws.String(p.Key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(p.Format.ContentType()),
		Metadata:    map[string]string{"fingerprint": doc.Fingerprint},
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", p.Bucket, p.Key, err)
	}
	return nil
}
