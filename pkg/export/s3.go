package export

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PutObjectAPI is the part of the S3 client the uploader uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader copies result directories into a bucket.
type Uploader struct {
	Client PutObjectAPI
	Bucket string
	Prefix string
	Log    *slog.Logger
}

// NewUploader loads the default AWS configuration, optionally pinned to region.
func NewUploader(ctx context.Context, region, bucket, prefix string) (*Uploader, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &Uploader{Client: s3.NewFromConfig(cfg), Bucket: bucket, Prefix: prefix}, nil
}

func (u *Uploader) log() *slog.Logger {
	if u.Log != nil {
		return u.Log
	}
	return slog.Default()
}

// Key maps a path relative to the uploaded directory to an object key. The
// directory's own name is kept so that commits do not collide.
func (u *Uploader) Key(dir, rel string) string {
	return path.Join(u.Prefix, filepath.Base(filepath.Clean(dir)), filepath.ToSlash(rel))
}

// UploadDir uploads every regular file under dir and returns how many were sent.
func (u *Uploader) UploadDir(ctx context.Context, dir string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if err := u.upload(ctx, p, u.Key(dir, rel)); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

func (u *Uploader) upload(ctx context.Context, p, key string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	in := &s3.PutObjectInput{
		Bucket: aws.String(u.Bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if ct := mime.TypeByExtension(filepath.Ext(p)); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if _, err := u.Client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	u.log().Info("Uploaded", "bucket", u.Bucket, "key", key)
	return nil
}
