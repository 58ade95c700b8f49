package dataset

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config locates a parquet object in S3 or an S3-compatible store.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Key       string `yaml:"key"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`   // MinIO and other compatible stores
	AccessKey string `yaml:"access_key"` // empty: default credential chain
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

// NewS3Client builds an S3 client from cfg.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// OpenS3Parquet downloads the object once into a temp file and serves it as
// a ParquetSource. The temp file is removed on Close.
func OpenS3Parquet(ctx context.Context, client manager.DownloadAPIClient, bucket, key string) (*ParquetSource, error) {
	tmp, err := os.CreateTemp("", "tdtpexplore-*.parquet")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	remove := func() error { return os.Remove(tmp.Name()) }

	downloader := manager.NewDownloader(client)
	_, err = downloader.Download(ctx, tmp, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	closeErr := tmp.Close()
	if err != nil {
		remove()
		return nil, fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	if closeErr != nil {
		remove()
		return nil, fmt.Errorf("close temp file: %w", closeErr)
	}

	src, err := OpenParquet(tmp.Name())
	if err != nil {
		remove()
		return nil, err
	}
	src.path = fmt.Sprintf("s3://%s/%s", bucket, key)
	src.cleanup = remove
	return src, nil
}
