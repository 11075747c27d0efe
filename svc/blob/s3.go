package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"
)

const s3OpTimeout = 10 * time.Second

// S3Store stores content in an S3-compatible bucket under
// <prefix>/<id>/<hash>.txt, with the metadata sidecar at
// <prefix>/<id>/metadata.json. A custom endpoint makes it work against
// MinIO and other S3 clones.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Store(ctx context.Context, bucket, prefix, endpoint string) (*S3Store, error) {
	if bucket == "" {
		return nil, errors.New("s3 bucket must not be empty")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *S3Store) contentKey(pasteID int64, hash string) string {
	return path.Join(s.prefix, fmt.Sprintf("%d/%s.txt", pasteID, hash))
}

func (s *S3Store) metadataKey(pasteID int64) string {
	return path.Join(s.prefix, fmt.Sprintf("%d/metadata.json", pasteID))
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}

func (s *S3Store) Put(ctx context.Context, pasteID int64, content []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s3OpTimeout)
	defer cancel()
	hash := HashContent(content)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.contentKey(pasteID, hash)),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
		ContentType:   aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return "", errors.Wrap(err, "s3 put content")
	}
	return hash, nil
}

func (s *S3Store) Get(ctx context.Context, pasteID int64, contentHash string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s3OpTimeout)
	defer cancel()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.contentKey(pasteID, contentHash)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "s3 get content")
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(err, "s3 read content body")
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, pasteID int64, contentHash string) error {
	ctx, cancel := context.WithTimeout(ctx, s3OpTimeout)
	defer cancel()
	key := s.contentKey(pasteID, contentHash)
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		if isS3NotFound(err) {
			return ErrNotFound
		}
		return errors.Wrap(err, "s3 head content")
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return errors.Wrap(err, "s3 delete content")
	}
	return nil
}

func (s *S3Store) PutMetadata(ctx context.Context, pasteID int64, meta *Metadata) error {
	ctx, cancel := context.WithTimeout(ctx, s3OpTimeout)
	defer cancel()
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.metadataKey(pasteID)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	return errors.Wrap(err, "s3 put metadata")
}

func (s *S3Store) GetMetadata(ctx context.Context, pasteID int64) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, s3OpTimeout)
	defer cancel()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.metadataKey(pasteID)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "s3 get metadata")
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrap(err, "s3 read metadata body")
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrap(err, "unmarshal metadata")
	}
	return &meta, nil
}

func (s *S3Store) DeleteMetadata(ctx context.Context, pasteID int64) error {
	ctx, cancel := context.WithTimeout(ctx, s3OpTimeout)
	defer cancel()
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.metadataKey(pasteID)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return ErrNotFound
		}
		return errors.Wrap(err, "s3 delete metadata")
	}
	return nil
}
