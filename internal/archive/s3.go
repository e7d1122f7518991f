package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Archiver keeps the raw band payload of every fetched day so a decoder
// change can be replayed without hitting Huami again.
type S3Archiver struct {
	uploader *manager.Uploader
	bucket   string
}

func NewS3Archiver(client manager.UploadAPIClient, bucket string) (*S3Archiver, error) {
	if client == nil {
		return nil, errors.New("s3 upload client nil")
	}
	if bucket == "" {
		return nil, errors.New("archive bucket is empty")
	}
	return &S3Archiver{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
	}, nil
}

// NewS3Client builds a client for region. A non-empty endpointURL points it
// at an S3-compatible store such as MinIO.
func NewS3Client(ctx context.Context, region, endpointURL string) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if endpointURL != "" {
			return aws.Endpoint{
				PartitionID:       "aws",
				URL:               endpointURL,
				SigningRegion:     region,
				HostnameImmutable: true,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	cfg, err := config.LoadDefaultConfig(ctx, config.WithEndpointResolverWithOptions(resolver), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

func Key(userID uuid.UUID, day string) string {
	return fmt.Sprintf("band-data/%s/%s.json", userID, day)
}

func (a *S3Archiver) Archive(ctx context.Context, userID uuid.UUID, day string, raw []byte) error {
	key := Key(userID, day)
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload failed key=[%s], bucket=[%s]: %w", key, a.bucket, err)
	}
	return nil
}
