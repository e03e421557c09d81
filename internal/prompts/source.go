package prompts

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultCatalog []byte

// Source fetches one prompt version.
type Source interface {
	Fetch(ctx context.Context, ref Ref) (Document, error)
}

// FileSource reads a YAML catalog of the form `prompts: [Document...]`. The
// file is re-read on every Fetch so edits to drafts show up on refresh.
type FileSource struct {
	read func() ([]byte, error)
	Path string
}

// NewFileSource reads from path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path, read: func() ([]byte, error) { return os.ReadFile(path) }}
}

// DefaultSource serves the prompts compiled into the binary.
func DefaultSource() *FileSource {
	return &FileSource{Path: "", read: func() ([]byte, error) { return defaultCatalog, nil }}
}

type catalogFile struct {
	Prompts []Document `yaml:"prompts"`
}

// Fetch finds the document with ref's ID and version. A draft reference
// matches a document with no version or version DRAFT.
func (s *FileSource) Fetch(_ context.Context, ref Ref) (Document, error) {
	data, err := s.read()
	if err != nil {
		return Document{}, fmt.Errorf("read prompt catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Document{}, fmt.Errorf("decode prompt catalog: %w", err)
	}
	want := ref.version()
	for _, d := range f.Prompts {
		v := d.Version
		if v == "" {
			v = Draft
		}
		if d.ID == ref.ID && strings.EqualFold(v, want) {
			return d, nil
		}
	}
	return Document{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
}

// IDs lists the prompt IDs in the catalog.
func (s *FileSource) IDs() ([]string, error) {
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode prompt catalog: %w", err)
	}
	seen := map[string]bool{}
	var ids []string
	for _, d := range f.Prompts {
		if !seen[d.ID] {
			seen[d.ID] = true
			ids = append(ids, d.ID)
		}
	}
	return ids, nil
}

// S3API is the part of the S3 client S3Source uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads one YAML document per object at <prefix><id>/<version>.yaml.
type S3Source struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Source wraps an existing client.
func NewS3Source(client S3API, bucket, prefix string) *S3Source {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Source{client: client, bucket: bucket, prefix: prefix}
}

// NewS3SourceFromEnv builds a client from the default AWS credential chain.
// A non-empty endpoint targets an S3-compatible store with path-style
// addressing.
func NewS3SourceFromEnv(ctx context.Context, region, endpoint, bucket, prefix string) (*S3Source, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Source(client, bucket, prefix), nil
}

func (s *S3Source) key(ref Ref) string {
	return s.prefix + ref.ID + "/" + ref.version() + ".yaml"
}

// Fetch downloads and decodes one document.
func (s *S3Source) Fetch(ctx context.Context, ref Ref) (Document, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return Document{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return Document{}, fmt.Errorf("get s3://%s/%s: %w", s.bucket, s.key(ref), err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(out.Body, 1<<20)); err != nil {
		return Document{}, fmt.Errorf("read s3://%s/%s: %w", s.bucket, s.key(ref), err)
	}
	d, err := decodeDocument(buf.Bytes())
	if err != nil {
		return Document{}, err
	}
	if d.ID == "" {
		d.ID = ref.ID
	}
	if d.Version == "" && ref.Pinned() {
		d.Version = ref.Version
	}
	return d, nil
}
