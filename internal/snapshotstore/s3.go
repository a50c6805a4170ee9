package snapshotstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/lattice-editor/server/internal/apperror"
	"go.uber.org/zap"
)

// S3Config describes the object storage backend. All fields are required
// for S3Store to be constructed; AppConfig.BlobConfigured reports whether
// the caller should even attempt it.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Logger          *zap.Logger
}

// S3Store is the object-storage-backed Store implementation, used when
// BLOB_* configuration is present.
type S3Store struct {
	client *s3.Client
	bucket string
	logger *zap.Logger
}

// NewS3Store builds an S3 client from static credentials and an optional
// custom endpoint (for S3-compatible services such as MinIO or R2).
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("snapshotstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (s *S3Store) Put(ctx context.Context, documentID string, seq int64, payload []byte) (string, error) {
	key := Key(documentID, seq)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(payload),
	})
	if err != nil {
		s.logger.Error("failed to upload snapshot object", zap.Error(err), zap.String("key", key))
		return "", apperror.Transient("failed to upload snapshot object")
	}
	return key, nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrNotFound
		}
		s.logger.Error("failed to download snapshot object", zap.Error(err), zap.String("key", key))
		return nil, apperror.Transient("failed to download snapshot object")
	}
	defer output.Body.Close()

	payload, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, apperror.Transient("failed to read snapshot object body")
	}
	return payload, nil
}

// Prune lists all objects under the document's snapshot prefix and deletes
// all but the keepNewest most recently created, using the S3 key ordering
// (sequence numbers are zero-padding-free but monotonic, so lexical sort on
// the numeric suffix requires care; we sort by the parsed sequence instead
// of the raw key).
func (s *S3Store) Prune(ctx context.Context, documentID string, keepNewest int) error {
	if keepNewest <= 0 {
		return nil
	}

	prefix := fmt.Sprintf("docs/%s/snapshots/", documentID)
	listOutput, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		s.logger.Warn("failed to list snapshot objects for pruning", zap.Error(err), zap.String("document_id", documentID))
		return nil
	}

	keys := make([]string, 0, len(listOutput.Contents))
	for _, object := range listOutput.Contents {
		keys = append(keys, aws.ToString(object.Key))
	}
	sort.Slice(keys, func(i, j int) bool { return parseSnapshotSeq(keys[i]) < parseSnapshotSeq(keys[j]) })
	if len(keys) <= keepNewest {
		return nil
	}

	for _, key := range keys[:len(keys)-keepNewest] {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}); err != nil {
			s.logger.Warn("failed to delete pruned snapshot object", zap.Error(err), zap.String("key", key))
		}
	}
	return nil
}

// parseSnapshotSeq extracts the numeric sequence from a key produced by
// Key, so pruning orders by sequence rather than lexical key order
// (which breaks once sequences cross a power of ten).
func parseSnapshotSeq(key string) int64 {
	base := key[strings.LastIndex(key, "/")+1:]
	base = strings.TrimSuffix(base, ".bin")
	seq, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return 0
	}
	return seq
}
