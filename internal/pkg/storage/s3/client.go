package s3aws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"storefront-checkout/internal/pkg/logger"
	"storefront-checkout/internal/pkg/redis"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

type S3Config struct {
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	// Endpoint targets an S3 compatible store (minio); empty means AWS.
	Endpoint string
	LinkTTL  time.Duration
}

// S3Client signs download links for purchased products kept in one bucket.
type S3Client struct {
	Client     *s3.S3
	BucketName string
	ctx        context.Context
	redis      redis.IRedis
	linkTTL    time.Duration
}

type Is3 interface {
	GetBucketName() string
	GetPresignedURL(key string) (string, error)
}

func newSession(cfg S3Config) (*session.Session, error) {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.AWSRegion),
		Credentials: credentials.NewStaticCredentials(
			cfg.AWSAccessKeyID,
			cfg.AWSSecretAccessKey,
			"",
		),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	return session.NewSession(awsCfg)
}

func newClient(ctx context.Context, sess *session.Session, cfg S3Config, bucketName string, rds redis.IRedis) *S3Client {
	ttl := cfg.LinkTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &S3Client{
		Client:     s3.New(sess),
		BucketName: bucketName,
		ctx:        ctx,
		redis:      rds,
		linkTTL:    ttl,
	}
}

// NewS3Client fails when the product bucket does not exist; products are
// uploaded out of band so the bucket is never created here.
func NewS3Client(ctx context.Context, cfg S3Config, bucketName string, rds redis.IRedis) (*S3Client, error) {
	sess, err := newSession(cfg)
	if err != nil {
		return nil, err
	}

	s3Client := newClient(ctx, sess, cfg, bucketName, rds)

	exists, err := CheckBucketExists(s3Client)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("product bucket %s does not exist", bucketName)
	}

	return s3Client, nil
}

func CheckBucketExists(client *S3Client) (bool, error) {
	_, err := client.Client.HeadBucketWithContext(client.ctx, &s3.HeadBucketInput{
		Bucket: aws.String(client.BucketName),
	})

	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchBucket, "NotFound":
				return false, nil
			default:
				return false, err
			}
		}
		return false, err
	}

	return true, nil
}

func (s *S3Client) GetBucketName() string {
	return s.BucketName
}

func (s *S3Client) cacheKey(key string) string {
	return fmt.Sprintf("s3:%s:%s", s.BucketName, key)
}

// GetPresignedURL returns a download link for key. Links are cached for half
// their lifetime so a cached link always has time left when handed out.
func (s *S3Client) GetPresignedURL(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}

	if s.redis != nil {
		var cached string
		raw, err := s.redis.Get(s.cacheKey(key))
		if err == nil && raw != "" && json.Unmarshal([]byte(raw), &cached) == nil && strings.HasPrefix(cached, "http") {
			return cached, nil
		}
	}

	req, _ := s.Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket:                     aws.String(s.BucketName),
		Key:                        aws.String(key),
		ResponseContentType:        aws.String(getContentTypeFromKey(key)),
		ResponseContentDisposition: aws.String(contentDisposition(key)),
	})

	urlStr, err := req.Presign(s.linkTTL)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	if s.redis != nil {
		if err := s.redis.Set(s.cacheKey(key), urlStr, s.linkTTL/2); err != nil {
			logger.Warning.Printf("Failed to cache presigned URL for %s: %v", key, err)
		}
	}

	return urlStr, nil
}

func contentDisposition(key string) string {
	return fmt.Sprintf("attachment; filename=%q; filename*=UTF-8''%s", path.Base(key), url.PathEscape(path.Base(key)))
}

func getContentTypeFromKey(key string) string {
	ext := strings.ToLower(filepath.Ext(key))

	contentTypes := map[string]string{
		".pdf":  "application/pdf",
		".epub": "application/epub+zip",
		".zip":  "application/zip",
		".rar":  "application/x-rar-compressed",
		".mp3":  "audio/mpeg",
		".mp4":  "video/mp4",
		".mov":  "video/quicktime",
		".png":  "image/png",
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".txt":  "text/plain",
		".csv":  "text/csv",
		".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	}

	if contentType, exists := contentTypes[ext]; exists {
		return contentType
	}

	return "application/octet-stream"
}
