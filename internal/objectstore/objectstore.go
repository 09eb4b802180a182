// Package objectstore wraps the S3 operations the console needs: paginated
// listing, small text writes, existence checks, and presigned GET/PUT URLs.
//
// Callers pass the bucket on every call so one Client serves the unprocessed,
// processed, and assets buckets.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// DefaultMaxPages bounds a single List call when Client.MaxPages is unset.
const DefaultMaxPages = 50

// maxTextSize caps GetText reads. Vector files are a few hundred bytes.
const maxTextSize = 1 << 20

// projectTag is the URL-encoded S3 object tagging string for cost allocation.
const projectTag = "Project=traffic-console"

// API is the subset of *s3.Client used here.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Presigner is the subset of *s3.PresignClient used here.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Object is one listing entry. Metadata holds user metadata (without the
// x-amz-meta- prefix) and is only populated by Head.
type Object struct {
	Key          string            `json:"key"`
	LastModified time.Time         `json:"lastModified"`
	Size         int64             `json:"size"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Client is the object store client.
type Client struct {
	API       API
	Presigner Presigner
	// MaxPages bounds List; zero means DefaultMaxPages.
	MaxPages int
}

// New builds a Client from an SDK client.
func New(client *s3.Client, maxPages int) *Client {
	return &Client{
		API:       client,
		Presigner: s3.NewPresignClient(client),
		MaxPages:  maxPages,
	}
}

// List returns every object under prefix, following continuation tokens up
// to MaxPages pages. Directory placeholder keys (ending in "/") are skipped.
// Hitting the page cap is logged and the partial listing is returned.
func (c *Client) List(ctx context.Context, bucket, prefix string) ([]Object, error) {
	maxPages := c.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	paginator := s3.NewListObjectsV2Paginator(c.API, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	var objects []Object
	pages := 0
	for paginator.HasMorePages() {
		if pages == maxPages {
			log.Warn().
				Str("bucket", bucket).
				Str("prefix", prefix).
				Int("pages", pages).
				Int("objects", len(objects)).
				Msg("Listing truncated at page limit")
			break
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("S3 ListObjectsV2 %s/%s: %w", bucket, prefix, err)
		}
		pages++
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			objects = append(objects, Object{
				Key:          key,
				LastModified: aws.ToTime(obj.LastModified),
				Size:         aws.ToInt64(obj.Size),
			})
		}
	}

	log.Debug().
		Str("bucket", bucket).
		Str("prefix", prefix).
		Int("pages", pages).
		Int("objects", len(objects)).
		Msg("S3 listing complete")
	return objects, nil
}

// PutText writes a small text object, replacing any existing one.
func (c *Client) PutText(ctx context.Context, bucket, key, body string) error {
	_, err := c.API.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(body),
		ContentType: aws.String("text/plain; charset=utf-8"),
		Tagging:     aws.String(projectTag),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s/%s: %w", bucket, key, err)
	}
	log.Info().Str("bucket", bucket).Str("key", key).Int("bytes", len(body)).Msg("Text object written")
	return nil
}

// GetText reads a small text object.
func (c *Client) GetText(ctx context.Context, bucket, key string) (string, error) {
	out, err := c.API.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if IsNotFound(err) {
			return "", fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
		}
		return "", fmt.Errorf("S3 GetObject %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxTextSize))
	if err != nil {
		return "", fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	return string(data), nil
}

// Head returns metadata for key, or ErrNotFound.
func (c *Client) Head(ctx context.Context, bucket, key string) (Object, error) {
	out, err := c.API.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if IsNotFound(err) {
			return Object{}, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
		}
		return Object{}, fmt.Errorf("S3 HeadObject %s/%s: %w", bucket, key, err)
	}
	return Object{
		Key:          key,
		LastModified: aws.ToTime(out.LastModified),
		Size:         aws.ToInt64(out.ContentLength),
		Metadata:     out.Metadata,
	}, nil
}

// PresignGet returns a time-limited download URL.
func (c *Client) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	req, err := c.Presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject: %w", err)
	}
	return req.URL, nil
}

// PresignPut returns a time-limited upload URL. The browser must send the
// same Content-Type header and an x-amz-meta-{name} header for each metadata
// entry, since both are signed.
func (c *Client) PresignPut(ctx context.Context, bucket, key, contentType string, metadata map[string]string, ttl time.Duration) (string, error) {
	req, err := c.Presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("presign PutObject: %w", err)
	}
	return req.URL, nil
}

// IsNotFound reports whether err is an S3 missing-object error. HeadObject
// returns a bare 404 with code "NotFound"; GetObject returns "NoSuchKey".
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
