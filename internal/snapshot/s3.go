package snapshot

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// S3Fetcher fetches a single msgpack-encoded warm-cache object from an
// S3-compatible bucket, written by an external snapshot job. Cloudflare
// R2 and similar providers are S3-compatible, so the same
// aws-sdk-go-v2 service/s3 client reaches them with a custom endpoint
// and path-style addressing.
type S3Fetcher struct {
	client *s3.Client
	bucket string
	key    string
	log    zerolog.Logger
}

// S3Config configures an S3Fetcher.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Key             string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Fetcher builds an S3Fetcher for the given endpoint and bucket.
func NewS3Fetcher(ctx context.Context, cfg S3Config, log zerolog.Logger) (*S3Fetcher, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &S3Fetcher{
		client: client,
		bucket: cfg.Bucket,
		key:    cfg.Key,
		log:    log.With().Str("component", "snapshot.s3").Logger(),
	}, nil
}

// Fetch implements Fetcher.
func (f *S3Fetcher) Fetch(ctx context.Context) (Snapshot, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetching snapshot object s3://%s/%s: %w", f.bucket, f.key, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading snapshot object: %w", err)
	}

	var wire wireSnapshot
	if err := msgpack.Unmarshal(raw, &wire); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot object: %w", err)
	}

	snap, err := wire.toSnapshot()
	if err != nil {
		return Snapshot{}, fmt.Errorf("converting snapshot object: %w", err)
	}

	f.log.Info().
		Int("ticks", len(snap.Ticks)).
		Int("rates", len(snap.Rates)).
		Int("accounts", len(snap.Accounts)).
		Msg("fetched warm-cache snapshot from s3")

	return snap, nil
}
