package sync

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Destination overwrites one object with the latest export.
type S3Destination struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Destination loads AWS credentials the default way. A non-empty
// endpoint (MinIO, for instance) switches to path-style addressing.
func NewS3Destination(ctx context.Context, bucket, key, region, endpoint string) (*S3Destination, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Destination{client: client, bucket: bucket, key: key}, nil
}

// Name implements Destination.
func (d *S3Destination) Name() string { return "s3://" + d.bucket + "/" + d.key }

// Write uploads data. The event count from the export header is attached
// as x-amz-meta-event-count.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	in := &s3.PutObjectInput{
		Bucket:       aws.String(d.bucket),
		Key:          aws.String(d.key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String("application/x-ndjson"),
		CacheControl: aws.String("no-cache"),
	}
	if n, ok := eventCount(data); ok {
		in.Metadata = map[string]string{"event-count": strconv.Itoa(n)}
	}
	if _, err := d.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("putting %s: %w", d.Name(), err)
	}
	return nil
}
