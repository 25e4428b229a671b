package archive

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/robometrics/robometrics/pkg/config"
	"github.com/sirupsen/logrus"
)

// s3Mirror uploads archived run directories to S3-compatible storage.
type s3Mirror struct {
	log    logrus.FieldLogger
	cfg    *config.S3MirrorConfig
	client *s3.Client
}

// Ensure interface compliance.
var _ Mirror = (*s3Mirror)(nil)

// NewS3Mirror creates a Mirror from the given configuration.
func NewS3Mirror(
	log logrus.FieldLogger,
	cfg *config.S3MirrorConfig,
) Mirror {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return &s3Mirror{
		log:    log.WithField("component", "s3-mirror"),
		cfg:    cfg,
		client: s3.New(s3.Options{}, opts...),
	}
}

// Upload walks localDir and uploads every file under
// <prefix>/<runID>/<relative path>.
func (m *s3Mirror) Upload(ctx context.Context, localDir, runID string) error {
	prefix := runID
	if m.cfg.Prefix != "" {
		prefix = strings.TrimRight(m.cfg.Prefix, "/") + "/" + runID
	}

	var count int

	err := filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(localDir, path)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}

		key := prefix + "/" + filepath.ToSlash(relPath)

		if err := m.uploadFile(ctx, path, key); err != nil {
			return fmt.Errorf("uploading %s: %w", relPath, err)
		}

		count++

		return nil
	})
	if err != nil {
		return fmt.Errorf("walking directory %s: %w", localDir, err)
	}

	m.log.WithFields(logrus.Fields{
		"files":  count,
		"bucket": m.cfg.Bucket,
		"prefix": prefix,
	}).Info("Archive mirrored")

	return nil
}

// uploadFile uploads a single file to S3.
func (m *s3Mirror) uploadFile(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("putting object %q: %w", key, err)
	}

	return nil
}
