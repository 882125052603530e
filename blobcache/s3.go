package blobcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Config holds the settings for provisioning an S3 or S3-compatible
// bucket, such as MinIO.
type S3Config struct {
	// Endpoint of the S3 service. Empty means the AWS default for the
	// region.
	Endpoint string

	// Region of the bucket.
	Region string

	// AccessKey and SecretKey are static credentials. When both are
	// empty the default AWS credential chain applies.
	AccessKey string
	SecretKey string

	// DisableSSL connects over plain HTTP, for local S3-compatible
	// servers.
	DisableSSL bool

	// ForcePathStyle addresses buckets as path components instead of
	// subdomains. Required by most S3-compatible servers.
	ForcePathStyle bool
}

// S3BucketURL returns the Go CDK bucket URL for bucketName under config,
// suitable for Config.BucketURL.
func S3BucketURL(bucketName string, config S3Config) string {
	url := fmt.Sprintf("s3://%s?region=%s", bucketName, config.Region)
	if config.Endpoint != "" {
		scheme := "https"
		if config.DisableSSL {
			scheme = "http"
		}
		url += fmt.Sprintf("&endpoint=%s://%s", scheme, config.Endpoint)
	}
	if config.ForcePathStyle {
		url += "&s3ForcePathStyle=true"
	}
	return url
}

// EnsureS3Bucket creates bucketName if it does not already exist and waits
// until it is available.
func EnsureS3Bucket(ctx context.Context, bucketName string, config S3Config) error {
	awsConfig := &aws.Config{
		Region:           aws.String(config.Region),
		DisableSSL:       aws.Bool(config.DisableSSL),
		S3ForcePathStyle: aws.Bool(config.ForcePathStyle),
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}
	if config.AccessKey != "" || config.SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return fmt.Errorf("failed to create AWS session: %w", err)
	}

	client := s3.New(sess)

	_, err = client.CreateBucketWithContext(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	})
	if err != nil {
		var aerr awserr.Error
		alreadyOwned := false
		if errors.As(err, &aerr) {
			switch aerr.Code() {
			case s3.ErrCodeBucketAlreadyExists, s3.ErrCodeBucketAlreadyOwnedByYou:
				alreadyOwned = true
			}
		}
		if !alreadyOwned {
			return fmt.Errorf("failed to create bucket %q: %w", bucketName, err)
		}
	}

	if err := client.WaitUntilBucketExistsWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucketName),
	}); err != nil {
		return fmt.Errorf("bucket %q not available: %w", bucketName, err)
	}
	return nil
}
