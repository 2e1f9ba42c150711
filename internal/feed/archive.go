package feed

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Archiver delivers a durable copy of each fetched CIF extract to S3. This
// enriches spec.md's bare tmp-dir retention (§4.B's housekeeping pass only
// ever protects a local disk) with the teacher's storage/s3aws.go upload
// pattern, adapted down to the one-file-at-a-time case this domain needs.
type Archiver struct {
	bucket   string
	uploader *manager.Uploader
}

// ArchiveCredentials supplies an explicit access key/secret pair, matching
// the teacher's storage/s3aws.go pattern of passing static credentials for
// non-AWS S3-compatible endpoints rather than relying on the IMDS/env/shared
// config chain. Leave both fields blank to fall back to the default chain.
type ArchiveCredentials struct {
	AccessKey string
	SecretKey string
}

// NewArchiver builds an Archiver against the given bucket. If creds supplies
// a non-blank access key, a static credentials provider is used (the
// teacher's pattern for MinIO/Hetzner/LakeFS-style endpoints); otherwise the
// default AWS credential chain and region resolution apply.
func NewArchiver(ctx context.Context, bucket string, creds ArchiveCredentials) (*Archiver, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if creds.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("feed: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &Archiver{bucket: bucket, uploader: manager.NewUploader(client)}, nil
}

// Upload streams path to the archive bucket under objectKey.
func (a *Archiver) Upload(ctx context.Context, path, objectKey string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("feed: open %s for archival: %w", path, err)
	}
	defer f.Close()

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(objectKey),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("feed: upload %s to s3://%s/%s: %w", path, a.bucket, objectKey, err)
	}
	return nil
}

// ArchiveObjectKey builds a collision-resistant object key for a fetched
// extract: <prog>/<uuid>-<basename>, so retries of the same file never
// clobber a previous archival copy.
func ArchiveObjectKey(prog, filename string) string {
	return fmt.Sprintf("%s/%s-%s", prog, uuid.NewString(), filename)
}
