package revstore

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/crystal-web-archiver/crystal/core/logger"
)

// ColdStoreConfig configures an optional export of completed Pack16
// containers to S3-compatible cold storage (e.g. Glacier), which is the
// scenario Pack16's 128 KiB-minimum-object rationale targets.
type ColdStoreConfig struct {
	Bucket          string
	Prefix          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// ColdStore uploads completed Pack16 containers to S3. It is additive: the
// local revision store remains authoritative, and ColdStore is only
// consulted by operators who have configured it, never by Read.
type ColdStore struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewColdStore builds a ColdStore from explicit static credentials, loading
// the aws-sdk-go-v2 default configuration with a static credentials
// provider.
func NewColdStore(ctx context.Context, cfg ColdStoreConfig) (*ColdStore, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot load aws config: %w", err)
	}
	return &ColdStore{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// ExportPack uploads the pack container holding the group ending at lastID
// (the v2-style path of the last id, see packPath) under key
// "<prefix>/<lastID hex path>".
func (c *ColdStore) ExportPack(ctx context.Context, root string, lastID int64) error {
	data, err := os.ReadFile(packPath(root, lastID))
	if err != nil {
		return fmt.Errorf("cannot read pack for export: %w", err)
	}
	key := c.prefix + "/" + hexPath(lastID)
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("cannot upload pack %s: %w", key, err)
	}
	logger.Default().Infoln("revstore: exported pack", key, "to cold storage, ", len(data), "bytes")
	return nil
}
