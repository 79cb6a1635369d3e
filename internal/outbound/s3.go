package outbound

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"torrentsready/internal/config"
	"torrentsready/internal/trd"
)

// consentMarker is the object whose presence makes a user a known recipient.
const consentMarker = ".consent"

type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3Uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Outbound uploads artifacts to a bucket under <prefix>/<messengerID>/.
type S3Outbound struct {
	client   s3API
	uploader s3Uploader
	bucket   string
	prefix   string
}

var (
	_ trd.Outbound        = (*S3Outbound)(nil)
	_ trd.ConsentRecorder = (*S3Outbound)(nil)
)

// NewS3Outbound loads AWS configuration from the environment, overridden by
// any region, endpoint or static credentials set in cfg.
func NewS3Outbound(ctx context.Context, cfg config.OutboundConfig) (*S3Outbound, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 outbound requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Outbound(client, manager.NewUploader(client), cfg.S3Bucket, cfg.S3Prefix), nil
}

func newS3Outbound(client s3API, uploader s3Uploader, bucket, prefix string) *S3Outbound {
	return &S3Outbound{
		client:   client,
		uploader: uploader,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

func (o *S3Outbound) key(messengerID int64, name string) string {
	return path.Join(o.prefix, strconv.FormatInt(messengerID, 10), name)
}

func (o *S3Outbound) IsKnownRecipient(ctx context.Context, messengerID int64) (bool, error) {
	_, err := o.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key(messengerID, consentMarker)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking consent marker: %w", err)
	}
	return true, nil
}

func (o *S3Outbound) RecordConsent(ctx context.Context, messengerID int64) error {
	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key(messengerID, consentMarker)),
		Body:   strings.NewReader(""),
	})
	if err != nil {
		return fmt.Errorf("writing consent marker: %w", err)
	}
	return nil
}

// SendDocument uploads the file and returns its object location.
func (o *S3Outbound) SendDocument(ctx context.Context, messengerID int64, filePath string) (string, error) {
	known, err := o.IsKnownRecipient(ctx, messengerID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", trd.ErrTransport, err)
	}
	if !known {
		return "", fmt.Errorf("%w: no consent marker for %d", trd.ErrRecipientUnreachable, messengerID)
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", trd.ErrArtifactMissing, filePath)
		}
		return "", fmt.Errorf("%w: opening artifact: %v", trd.ErrTransport, err)
	}
	defer f.Close()

	key := o.key(messengerID, filepath.Base(filePath))
	out, err := o.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("%w: uploading %s: %v", trd.ErrTransport, key, err)
	}
	if out.Location != "" {
		return out.Location, nil
	}
	return "s3://" + o.bucket + "/" + key, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
