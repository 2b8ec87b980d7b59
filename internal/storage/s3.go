package storage

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/lfsgate/lfsgate/internal/apierr"
)

// S3 is an AWS S3-backed ExternalStorage: clients upload/download directly
// against pre-signed URLs this backend mints.
type S3 struct {
	client     *s3.Client
	presign    *s3.PresignClient
	bucket     string
	pathPrefix string
	expire     time.Duration
}

// S3Config configures an S3 backend. Endpoint/ForcePathStyle support
// S3-compatible stores (MinIO etc).
type S3Config struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	Bucket         string
	PathPrefix     string
	ForcePathStyle bool
	Expire         time.Duration
}

// NewS3 builds an S3 backend from static credentials or, if AccessKey is
// empty, the default AWS credential chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	var optFns []func(*config.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, apierr.Wrap(apierr.StorageError, "failed to load AWS config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	expire := cfg.Expire
	if expire <= 0 {
		expire = 15 * time.Minute
	}

	return &S3{
		client:     client,
		presign:    s3.NewPresignClient(client),
		bucket:     cfg.Bucket,
		pathPrefix: cfg.PathPrefix,
		expire:     expire,
	}, nil
}

func (s *S3) key(prefix, oid string) string {
	return blobPath(s.pathPrefix, prefix, oid)
}

// hexToBase64 converts a hex-encoded OID into the base64 form S3 expects
// for x-amz-checksum-sha256.
func hexToBase64(hexStr string) (string, error) {
	bin, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(bin), nil
}

var safeFilenameRe = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// safeFilename sanitizes filename down to alphanumerics, underscore, dot,
// and hyphen for use in a Content-Disposition filename, replacing
// anything else with "_".
func safeFilename(filename string) string {
	return safeFilenameRe.ReplaceAllString(filename, "_")
}

func (s *S3) GetUploadAction(ctx context.Context, prefix, oid string, size int64, expiresIn int, extra map[string]string) (Action, error) {
	checksum, err := hexToBase64(oid)
	if err != nil {
		return Action{}, apierr.NewInvalidPayload("oid is not valid hex")
	}
	key := s.key(prefix, oid)

	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		ChecksumAlgorithm: "SHA256",
		ChecksumSHA256:    aws.String(checksum),
	}, s3.WithPresignExpires(expiryOrDefault(expiresIn, s.expire)))
	if err != nil {
		return Action{}, apierr.Wrap(apierr.StorageError, "failed to presign S3 PUT", err)
	}

	return Action{
		Href:   req.URL,
		Method: "PUT",
		Header: map[string]string{
			"Content-Type":          "application/octet-stream",
			"x-amz-checksum-sha256": checksum,
		},
		ExpiresIn: expiresIn,
	}, nil
}

func (s *S3) GetDownloadAction(ctx context.Context, prefix, oid string, size int64, expiresIn int, extra map[string]string) (Action, error) {
	key := s.key(prefix, oid)
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if filename := safeFilename(extra["filename"]); filename != "" {
		input.ResponseContentDisposition = aws.String(fmt.Sprintf(`attachment; filename="%s"`, filename))
	}

	req, err := s.presign.PresignGetObject(ctx, input, s3.WithPresignExpires(expiryOrDefault(expiresIn, s.expire)))
	if err != nil {
		return Action{}, apierr.Wrap(apierr.StorageError, "failed to presign S3 GET", err)
	}
	return Action{Href: req.URL, Method: "GET", ExpiresIn: expiresIn}, nil
}

func (s *S3) Exists(ctx context.Context, prefix, oid string) (bool, error) {
	_, err := s.head(ctx, prefix, oid)
	if err != nil {
		if apiErr, ok := apierr.As(err); ok && apiErr.Kind == apierr.NotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3) GetSize(ctx context.Context, prefix, oid string) (int64, error) {
	out, err := s.head(ctx, prefix, oid)
	if err != nil {
		return 0, err
	}
	if out.ContentLength == nil {
		return 0, nil
	}
	return *out.ContentLength, nil
}

func (s *S3) head(ctx context.Context, prefix, oid string) (*s3.HeadObjectOutput, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(prefix, oid)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, apierr.NewNotFound("object not found")
		}
		return nil, apierr.Wrap(apierr.StorageError, "failed to head S3 object", err)
	}
	return out, nil
}

func (s *S3) VerifyObject(ctx context.Context, prefix, oid string, size int64) (bool, error) {
	actual, err := s.GetSize(ctx, prefix, oid)
	if err != nil {
		if apiErr, ok := apierr.As(err); ok && apiErr.Kind == apierr.NotFound {
			return false, nil
		}
		return false, err
	}
	return defaultVerify(size, actual, false)
}

func isS3NotFound(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}
	return false
}

func expiryOrDefault(seconds int, def time.Duration) time.Duration {
	if seconds <= 0 {
		return def
	}
	return time.Duration(seconds) * time.Second
}

var _ External = (*S3)(nil)
