package archive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"parkstatus-backend/config"
)

// s3API is the slice of the S3 client the source needs.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads archive blobs from an S3-compatible bucket laid out as
// <destination-uuid>/<YYYY-MM-DD>.json.zz. Fetches are rate limited so bulk
// imports stay polite to the archive host.
type S3Source struct {
	client  s3API
	bucket  string
	limiter *rate.Limiter
}

// NewS3Source builds an S3-backed source from the archive configuration.
func NewS3Source(ctx context.Context, cfg config.ArchiveConfig) (*S3Source, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Source(client, cfg.Bucket, cfg.RequestsPerSec), nil
}

func newS3Source(client s3API, bucket string, rps float64) *S3Source {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &S3Source{
		client:  client,
		bucket:  bucket,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// ListDestinations enumerates top-level prefixes that parse as UUIDs.
func (s *S3Source) ListDestinations(ctx context.Context) ([]string, error) {
	var dests []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list destinations: %w", err)
		}

		for _, p := range out.CommonPrefixes {
			name := strings.TrimSuffix(aws.ToString(p.Prefix), "/")
			if _, err := uuid.Parse(name); err != nil {
				continue
			}
			dests = append(dests, name)
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return dests, nil
}

// ListFiles enumerates dated blobs under the destination prefix, filtered to
// the optional date range and sorted chronologically.
func (s *S3Source) ListFiles(ctx context.Context, destinationID string, start, end *time.Time) ([]FileRef, error) {
	prefix := destinationID + "/"

	var refs []FileRef
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list files for %s: %w", destinationID, err)
		}

		for _, obj := range out.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if !strings.HasSuffix(key, blobSuffix) {
				continue
			}
			d, ok := parseFileDate(key)
			if !ok || !inRange(d, start, end) {
				continue
			}
			refs = append(refs, FileRef{Key: key, Date: d})
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	sortRefs(refs)
	return refs, nil
}

// Fetch downloads one blob.
func (s *S3Source) Fetch(ctx context.Context, destinationID string, ref FileRef) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(destinationID + "/" + ref.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", destinationID, ref.Key, err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}
