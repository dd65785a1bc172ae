// Package archive copies verified snapshots to S3-compatible object storage
// so a replica with an empty database can still recover without replaying
// the full command log.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"

	"PredictLedger/internal/observability"
	"PredictLedger/internal/persistence"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Options configures the S3 client. Endpoint is empty for AWS itself.
type Options struct {
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// ObjectPutter is the part of the S3 API the archiver uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// KeyRecorder stores the object key next to the snapshot row.
type KeyRecorder interface {
	SetArchivedKey(ctx context.Context, sequence int64, key string) error
}

// Archiver uploads snapshot records.
type Archiver struct {
	client   ObjectPutter
	bucket   string
	prefix   string
	recorder KeyRecorder
	metrics  *observability.Metrics
	log      zerolog.Logger
}

// NewClient builds an S3 client. Static credentials are used when given,
// otherwise the default AWS chain applies.
func NewClient(ctx context.Context, opts Options) (*s3.Client, error) {
	if opts.Bucket == "" || opts.Region == "" {
		return nil, fmt.Errorf("archive: bucket and region are required")
	}

	loaders := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" {
		endpoint := opts.Endpoint
		if u, err := url.Parse(endpoint); err != nil || u.Scheme == "" {
			endpoint = "https://" + endpoint
		}
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if opts.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

func New(client ObjectPutter, bucket, prefix string, recorder KeyRecorder, metrics *observability.Metrics) *Archiver {
	return &Archiver{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		recorder: recorder,
		metrics:  metrics,
		log:      observability.NewLogger("archive"),
	}
}

// ObjectKey is <prefix><sequence, zero padded>.json, so keys sort by
// sequence.
func (a *Archiver) ObjectKey(sequence int64) string {
	return fmt.Sprintf("%s%020d.json", a.prefix, sequence)
}

// Archive uploads rec and records its key. The upload is idempotent: the
// same sequence always maps to the same key.
func (a *Archiver) Archive(ctx context.Context, rec *persistence.SnapshotRecord) (string, error) {
	key := a.ObjectKey(rec.Sequence)
	sum := sha256.Sum256(rec.Data)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(rec.Data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"sequence":    strconv.FormatInt(rec.Sequence, 10),
			"snapshot-id": rec.ID.String(),
			"sha256":      hex.EncodeToString(sum[:]),
		},
	})
	if err != nil {
		a.count("error")
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}

	if a.recorder != nil {
		if err := a.recorder.SetArchivedKey(ctx, rec.Sequence, key); err != nil {
			a.count("error")
			return key, err
		}
	}

	a.count("ok")
	a.log.Info().Int64("sequence", rec.Sequence).Str("key", key).Int("bytes", len(rec.Data)).Msg("snapshot archived")
	return key, nil
}

func (a *Archiver) count(status string) {
	if a.metrics != nil {
		a.metrics.SnapshotArchived.WithLabelValues(status).Inc()
	}
}
