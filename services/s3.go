package services

import (
	"context"
	"fmt"
	"os"
	"path"

	"multisvg/config"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

type S3Service struct {
	session  *session.Session
	bucket   string
	uploader *s3manager.Uploader
}

func NewS3Service(cfg *config.Config) *S3Service {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.S3Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AWSS3AccessKey,
			cfg.AWSS3SecretKey,
			"",
		),
	}

	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
	}

	if cfg.S3UsePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess := session.Must(session.NewSession(awsCfg))

	return &S3Service{
		session:  sess,
		bucket:   cfg.S3Bucket,
		uploader: s3manager.NewUploader(sess),
	}
}

// ArtifactKey is the object key an archived artifact is stored under.
func ArtifactKey(submissionID string, locator string) string {
	name := path.Base(locatorPath(locator))
	if name == "." || name == "/" {
		name = "artifact"
	}
	return fmt.Sprintf("artifacts/%s/%s", submissionID, name)
}

func (s *S3Service) Upload(ctx context.Context, localPath string, key string, contentType string) error {
	// Open file
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	// Upload to S3
	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
	})

	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	return nil
}

func (s *S3Service) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	return os.Remove(path)
}
