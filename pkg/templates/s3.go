package templates

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/AOT-Technologies/m8flow/pkg/config"
	"github.com/AOT-Technologies/m8flow/pkg/tenancy"
)

// S3Storage stores template files in an S3-compatible bucket under
// templates/{tenant}/{key}/{version}/{name}.
type S3Storage struct {
	client *s3.Client
	bucket string
}

// NewS3Storage creates an S3 backend. Static credentials are used when
// configured (MinIO, explicit keys); otherwise the default AWS
// credential chain applies.
func NewS3Storage(cfg config.TemplateConfig) (*S3Storage, error) {
	ctx := context.Background()

	var awsConfig aws.Config
	var err error
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKey,
				cfg.S3SecretKey,
				"",
			)),
		)
	} else {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		if cfg.S3UsePathStyle || cfg.S3ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Storage{client: client, bucket: cfg.S3Bucket}, nil
}

func (s *S3Storage) objectKey(tenantID, templateKey, version, fileName string) (string, error) {
	parts := make([]string, 0, 4)
	for _, raw := range []string{tenantID, templateKey, version, fileName} {
		clean, err := sanitizeComponent(raw)
		if err != nil {
			return "", err
		}
		parts = append(parts, clean)
	}
	return "templates/" + strings.Join(parts, "/"), nil
}

func (s *S3Storage) versionPrefix(tenantID, templateKey, version string) (string, error) {
	parts := make([]string, 0, 3)
	for _, raw := range []string{tenantID, templateKey, version} {
		clean, err := sanitizeComponent(raw)
		if err != nil {
			return "", err
		}
		parts = append(parts, clean)
	}
	return "templates/" + strings.Join(parts, "/") + "/", nil
}

func (s *S3Storage) StoreFile(ctx context.Context, tenantID, templateKey, version, fileName string, content []byte) error {
	key, err := s.objectKey(tenantID, templateKey, version, fileName)
	if err != nil {
		return err
	}

	hash := sha256.Sum256(content)
	checksum := hex.EncodeToString(hash[:])

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
		Metadata: map[string]string{
			"checksum-sha256": checksum,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload template file to s3: %w", err)
	}
	return nil
}

func (s *S3Storage) GetFile(ctx context.Context, tenantID, templateKey, version, fileName string) ([]byte, error) {
	key, err := s.objectKey(tenantID, templateKey, version, fileName)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, tenancy.NewAPIError(tenancy.CodeNotFound, http.StatusNotFound,
				"File not found: %s", fileName)
		}
		return nil, fmt.Errorf("failed to get template file from s3: %w", err)
	}
	defer result.Body.Close()

	content, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file from s3: %w", err)
	}
	return content, nil
}

func (s *S3Storage) ListFiles(ctx context.Context, tenantID, templateKey, version string) ([]FileEntry, error) {
	prefix, err := s.versionPrefix(tenantID, templateKey, version)
	if err != nil {
		return nil, err
	}

	files := []FileEntry{}
	var continuation *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list template files in s3: %w", err)
		}
		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			name := strings.TrimPrefix(*obj.Key, prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			files = append(files, FileEntry{FileName: name, FileType: FileTypeFromName(name)})
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuation = out.NextContinuationToken
	}
	return files, nil
}

func (s *S3Storage) DeleteFile(ctx context.Context, tenantID, templateKey, version, fileName string) error {
	key, err := s.objectKey(tenantID, templateKey, version, fileName)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete template file from s3: %w", err)
	}
	return nil
}

func isS3NotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "NotFound")
}
