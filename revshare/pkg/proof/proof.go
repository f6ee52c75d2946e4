// Package proof checks that a payment-proof reference points at an uploaded object.
package proof

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var (
	ErrProofNotFound = errors.New("payment proof not found")
	ErrProofInvalid  = errors.New("payment proof reference is invalid")
)

// HeadObjectAPI is the part of the S3 client the verifier uses.
type HeadObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type Config struct {
	Logger *slog.Logger
	Client HeadObjectAPI
	Bucket string
	// Prefix is prepended to bare keys, e.g. "disbursements/".
	Prefix string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("s3 client is required")
	}
	if cfg.Bucket == "" {
		return errors.New("bucket is required")
	}
	return nil
}

// Verifier resolves proof references against one bucket. A reference is
// either "s3://<bucket>/<key>" or a bare key.
type Verifier struct {
	log *slog.Logger
	cfg Config
}

func NewVerifier(cfg Config) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Verifier{log: cfg.Logger, cfg: cfg}, nil
}

// NewS3Client builds a client from the default AWS credential chain. A
// non-empty endpoint selects an S3-compatible store with path-style addressing.
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (v *Verifier) key(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if rest, ok := strings.CutPrefix(ref, "s3://"); ok {
		bucket, key, found := strings.Cut(rest, "/")
		if !found || key == "" {
			return "", fmt.Errorf("%w: %q", ErrProofInvalid, ref)
		}
		if bucket != v.cfg.Bucket {
			return "", fmt.Errorf("%w: bucket %q is not the proof bucket", ErrProofInvalid, bucket)
		}
		return key, nil
	}
	if ref == "" || strings.Contains(ref, "://") {
		return "", fmt.Errorf("%w: %q", ErrProofInvalid, ref)
	}
	return v.cfg.Prefix + strings.TrimPrefix(ref, "/"), nil
}

// Verify returns nil when the referenced object exists.
func (v *Verifier) Verify(ctx context.Context, ref string) error {
	key, err := v.key(ref)
	if err != nil {
		return err
	}
	_, err = v.cfg.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		v.log.Info("proof: object missing", "bucket", v.cfg.Bucket, "key", key)
		return fmt.Errorf("%w: s3://%s/%s", ErrProofNotFound, v.cfg.Bucket, key)
	}
	return fmt.Errorf("failed to check proof s3://%s/%s: %w", v.cfg.Bucket, key, err)
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "Forbidden":
			return true
		}
	}
	return false
}
