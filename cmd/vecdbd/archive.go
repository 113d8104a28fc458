package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/vecdb/blobstore"
	"github.com/hupe1980/vecdb/blobstore/minio"
	s3store "github.com/hupe1980/vecdb/blobstore/s3"
	"github.com/hupe1980/vecdb/internal/config"
)

// newArchive builds the snapshot archive selected by cfg.Kind. It returns nil
// for "none".
func newArchive(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*blobstore.Archive, error) {
	var store blobstore.Store

	switch cfg.Kind {
	case "", "none":
		return nil, nil
	case "local":
		store = blobstore.NewLocalStore(cfg.Local.Path)
	case "s3":
		s, err := newS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		store = s
	case "minio":
		client, err := miniogo.New(cfg.MinIO.Endpoint, &miniogo.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
			Secure: cfg.MinIO.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		store = minio.NewStore(client, cfg.MinIO.Bucket, cfg.MinIO.Prefix)
	default:
		return nil, fmt.Errorf("unknown archive kind %q", cfg.Kind)
	}

	return blobstore.NewArchive(store, func(o *blobstore.ArchiveOptions) {
		o.Retain = cfg.Retain
		o.Logger = logger
	}), nil
}

func newS3Store(ctx context.Context, cfg config.S3Config) (blobstore.Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	store := s3store.NewStore(client, cfg.Bucket, cfg.Prefix)

	if cfg.CommitTable == "" {
		return store, nil
	}
	baseURI := "s3://" + cfg.Bucket
	if cfg.Prefix != "" {
		baseURI += "/" + cfg.Prefix
	}
	return s3store.NewCommitStore(store, dynamodb.NewFromConfig(awsCfg), cfg.CommitTable, baseURI), nil
}
