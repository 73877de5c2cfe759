// Package s3 stores photos in an S3 compatible bucket (AWS or MinIO).
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/m-mizutani/goerr/v2"

	"github.com/vbonduro/treebank/internal/photostore"
)

type Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool

	// Credentials overrides the default AWS credential chain.
	Credentials aws.CredentialsProvider
	// HTTPClient overrides the SDK transport.
	HTTPClient *http.Client
}

type Store struct {
	client *s3.Client
	bucket string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, goerr.New("s3 bucket is required")
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.Credentials != nil {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(cfg.Credentials))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
	})
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *Store) Save(ctx context.Context, prefix, mimeType string, r io.Reader) (string, error) {
	key := photostore.NewKey(prefix, mimeType)

	// PutObject needs a seekable body to hash the payload.
	data, err := io.ReadAll(r)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read photo", goerr.V("key", key))
	}

	contentType := mimeType
	if contentType == "" {
		contentType = photostore.MIMEForKey(key)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to upload photo", goerr.V("bucket", s.bucket), goerr.V("key", key))
	}
	return key, nil
}

func (s *Store) Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error) {
	if err := photostore.ValidKey(storageKey); err != nil {
		return nil, "", err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storageKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, "", goerr.Wrap(photostore.ErrNotFound, "no photo for key", goerr.V("key", storageKey))
		}
		return nil, "", goerr.Wrap(err, "failed to download photo", goerr.V("bucket", s.bucket), goerr.V("key", storageKey))
	}

	contentType := aws.ToString(out.ContentType)
	if contentType == "" || contentType == "binary/octet-stream" {
		contentType = photostore.MIMEForKey(storageKey)
	}
	return out.Body, contentType, nil
}

// Delete removes the object. S3 does not report missing keys on delete, so
// the object is checked first to keep ErrNotFound semantics.
func (s *Store) Delete(ctx context.Context, storageKey string) error {
	if err := photostore.ValidKey(storageKey); err != nil {
		return err
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storageKey),
	})
	if err != nil {
		if isNotFound(err) {
			return goerr.Wrap(photostore.ErrNotFound, "no photo for key", goerr.V("key", storageKey))
		}
		return goerr.Wrap(err, "failed to stat photo", goerr.V("key", storageKey))
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storageKey),
	}); err != nil {
		return goerr.Wrap(err, "failed to delete photo", goerr.V("bucket", s.bucket), goerr.V("key", storageKey))
	}
	return nil
}

func isNotFound(err error) bool {
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
