package s3

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"
)

// newClient builds the S3 API client and, when enabled, the CargoShip
// transporter used for uploads.
func newClient(ctx context.Context, opts Options, logger *slog.Logger) (*s3.Client, *cargoships3.Transporter, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.ForcePathStyle
	})

	if !opts.UseCargoship {
		return client, nil, nil
	}

	transporter := cargoships3.NewTransporter(client, awsconfig.S3Config{
		Bucket:             opts.Bucket,
		StorageClass:       storageClasses[opts.StorageClass].cargo,
		MultipartThreshold: defaultThreshold,
		MultipartChunkSize: defaultChunkSize,
		Concurrency:        opts.Concurrency,
	})
	logger.Info("CargoShip uploads enabled",
		"bucket", opts.Bucket,
		"chunk_size", "16MB",
		"concurrency", opts.Concurrency)

	return client, transporter, nil
}
