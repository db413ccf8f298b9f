package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Client is the slice of the S3 API the exporter uses.
type s3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Exporter uploads transcripts to an S3 bucket.
type S3Exporter struct {
	client s3Client
	bucket string
	prefix string
}

// NewS3Exporter builds an exporter using the default AWS credential chain.
func NewS3Exporter(ctx context.Context, bucket, prefix string) (*S3Exporter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: loading aws config: %w", err)
	}
	return &S3Exporter{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Export uploads <prefix>/<session-id>.json and returns the object key.
func (e *S3Exporter) Export(ctx context.Context, t Transcript) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}

	key := path.Join(e.prefix, t.Session.ID+".json")
	contentType := "application/json"
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &e.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("archive: uploading %s: %w", key, err)
	}
	return key, nil
}
