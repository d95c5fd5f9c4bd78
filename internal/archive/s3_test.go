package archive

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves a fixed object map, one page per listPageSize keys.
type fakeS3 struct {
	objects      map[string]string
	listPageSize int
	listCalls    int
}

func (f *fakeS3) sortedKeys(prefix string) []string {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	// the real API lists lexicographically
	sort.Strings(keys)
	return keys
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listCalls++

	prefix := aws.ToString(params.Prefix)
	keys := f.sortedKeys(prefix)

	start := 0
	if tok := aws.ToString(params.ContinuationToken); tok != "" {
		for i, k := range keys {
			if k > tok {
				start = i
				break
			}
		}
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}

	if aws.ToString(params.Delimiter) == "/" {
		seen := map[string]bool{}
		for _, k := range keys {
			if i := strings.Index(k, "/"); i >= 0 {
				p := k[:i+1]
				if !seen[p] {
					seen[p] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(p)})
				}
			}
		}
		return out, nil
	}

	end := len(keys)
	if f.listPageSize > 0 && start+f.listPageSize < end {
		end = start + f.listPageSize
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[end-1])
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestS3Source_ListDestinations(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{
		destA + "/2023-06-01.json.zz": "a",
		destB + "/2023-06-01.json.zz": "b",
		"misc/readme.txt":             "x",
	}}
	src := newS3Source(fake, "archive", 0)

	dests, err := src.ListDestinations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{destA, destB}, dests)
}

func TestS3Source_ListFiles_Paginated(t *testing.T) {
	fake := &fakeS3{
		objects: map[string]string{
			destA + "/2023-06-01.json.zz": "a",
			destA + "/2023-06-02.json.zz": "b",
			destA + "/2023-06-03.json.zz": "c",
			destA + "/manifest.json":      "m",
			destB + "/2023-06-01.json.zz": "other",
		},
		listPageSize: 2,
	}
	src := newS3Source(fake, "archive", 0)

	refs, err := src.ListFiles(context.Background(), destA, nil, nil)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, "2023-06-01.json.zz", refs[0].Key)
	assert.Equal(t, "2023-06-03.json.zz", refs[2].Key)
	assert.Greater(t, fake.listCalls, 1, "expected the listing to paginate")
}

func TestS3Source_Fetch(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{
		destA + "/2023-06-01.json.zz": "payload",
	}}
	src := newS3Source(fake, "archive", 0)

	b, err := src.Fetch(context.Background(), destA, FileRef{Key: "2023-06-01.json.zz"})
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), b)

	_, err = src.Fetch(context.Background(), destA, FileRef{Key: "2023-06-09.json.zz"})
	assert.Error(t, err)
}
