package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iamcredentials/v1"
	"google.golang.org/api/option"

	"github.com/lfsgate/lfsgate/internal/apierr"
)

// maxImpersonationLifetime caps Workload Identity-impersonated signing
// tokens at one hour.
const maxImpersonationLifetime = time.Hour

// GCS is a Google Cloud Storage-backed External store using V4 signed
// URLs. Credentials are loaded one of three ways: a JSON key file, a
// base64-encoded JSON key, or Workload Identity impersonation of a
// configured service account.
type GCS struct {
	client         *gcs.Client
	iamClient      *iamcredentials.Service
	bucket         string
	pathPrefix     string
	expire         time.Duration
	signerEmail    string
	privateKey     []byte
	impersonate    bool
	impersonateSvc string
}

type GCSConfig struct {
	Bucket     string
	PathPrefix string
	Expire     time.Duration

	// Exactly one of the following credential modes is used, in this
	// priority order.
	CredentialsFile       string // (a) JSON key file path
	CredentialsJSONBase64 string // (b) base64-encoded JSON key
	ImpersonateServiceAccount string // (c) Workload Identity impersonation target
}

func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	var opts []option.ClientOption
	var signerEmail string
	var privateKey []byte
	var iamSvc *iamcredentials.Service
	impersonating := false

	switch {
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		email, key, err := readServiceAccountFile(cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		signerEmail, privateKey = email, key

	case cfg.CredentialsJSONBase64 != "":
		raw, err := base64.StdEncoding.DecodeString(cfg.CredentialsJSONBase64)
		if err != nil {
			return nil, apierr.Wrap(apierr.StorageError, "failed to decode base64 GCS credentials", err)
		}
		opts = append(opts, option.WithCredentialsJSON(raw))
		email, key, err := readServiceAccountJSON(raw)
		if err != nil {
			return nil, err
		}
		signerEmail, privateKey = email, key

	case cfg.ImpersonateServiceAccount != "":
		impersonating = true
		creds, err := google.FindDefaultCredentials(ctx, gcs.ScopeReadWrite)
		if err != nil {
			return nil, apierr.Wrap(apierr.StorageError, "failed to load default GCP credentials", err)
		}
		opts = append(opts, option.WithCredentials(creds))
		signerEmail = cfg.ImpersonateServiceAccount

		iamSvc, err = iamcredentials.NewService(ctx, option.WithCredentials(creds))
		if err != nil {
			return nil, apierr.Wrap(apierr.StorageError, "failed to create IAM credentials client", err)
		}

	default:
		return nil, apierr.NewInvalidPayload("GCS backend requires one of CredentialsFile, CredentialsJSONBase64, or ImpersonateServiceAccount")
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, apierr.Wrap(apierr.StorageError, "failed to create GCS client", err)
	}

	expire := cfg.Expire
	if expire <= 0 {
		expire = 15 * time.Minute
	}

	return &GCS{
		client:         client,
		iamClient:      iamSvc,
		bucket:         cfg.Bucket,
		pathPrefix:     cfg.PathPrefix,
		expire:         expire,
		signerEmail:    signerEmail,
		privateKey:     privateKey,
		impersonate:    impersonating,
		impersonateSvc: cfg.ImpersonateServiceAccount,
	}, nil
}

func readServiceAccountFile(path string) (email string, key []byte, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", nil, apierr.Wrap(apierr.StorageError, "failed to read GCS credentials file", err)
	}
	return readServiceAccountJSON(raw)
}

func readServiceAccountJSON(raw []byte) (email string, key []byte, err error) {
	type sa struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	var out sa
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", nil, apierr.Wrap(apierr.StorageError, "failed to parse GCS service account JSON", err)
	}
	return out.ClientEmail, []byte(out.PrivateKey), nil
}

func (g *GCS) key(prefix, oid string) string {
	return blobPath(g.pathPrefix, prefix, oid)
}

func (g *GCS) object(prefix, oid string) *gcs.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(g.key(prefix, oid))
}

func (g *GCS) Exists(ctx context.Context, prefix, oid string) (bool, error) {
	_, err := g.object(prefix, oid).Attrs(ctx)
	if err != nil {
		if err == gcs.ErrObjectNotExist {
			return false, nil
		}
		return false, apierr.Wrap(apierr.StorageError, "failed to get GCS object attrs", err)
	}
	return true, nil
}

func (g *GCS) GetSize(ctx context.Context, prefix, oid string) (int64, error) {
	attrs, err := g.object(prefix, oid).Attrs(ctx)
	if err != nil {
		if err == gcs.ErrObjectNotExist {
			return 0, apierr.NewNotFound("object not found")
		}
		return 0, apierr.Wrap(apierr.StorageError, "failed to get GCS object attrs", err)
	}
	return attrs.Size, nil
}

func (g *GCS) VerifyObject(ctx context.Context, prefix, oid string, size int64) (bool, error) {
	actual, err := g.GetSize(ctx, prefix, oid)
	if err != nil {
		if apiErr, ok := apierr.As(err); ok && apiErr.Kind == apierr.NotFound {
			return false, nil
		}
		return false, err
	}
	return defaultVerify(size, actual, false)
}

func (g *GCS) signedURL(ctx context.Context, method, prefix, oid string, expire time.Duration, responseDisposition string) (string, error) {
	if g.impersonate && expire > maxImpersonationLifetime {
		expire = maxImpersonationLifetime
	}

	opts := &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  method,
		Expires: time.Now().Add(expire),
	}
	if responseDisposition != "" {
		opts.QueryParameters = map[string][]string{"response-content-disposition": {responseDisposition}}
	}

	if g.impersonate {
		opts.GoogleAccessID = g.impersonateSvc
		opts.SignBytes = func(b []byte) ([]byte, error) {
			name := fmt.Sprintf("projects/-/serviceAccounts/%s", g.impersonateSvc)
			resp, err := g.iamClient.Projects.ServiceAccounts.
				SignBlob(name, &iamcredentials.SignBlobRequest{Payload: base64.StdEncoding.EncodeToString(b)}).
				Context(ctx).Do()
			if err != nil {
				return nil, fmt.Errorf("signBlob via impersonated service account: %w", err)
			}
			return base64.StdEncoding.DecodeString(resp.SignedBlob)
		}
	} else {
		opts.GoogleAccessID = g.signerEmail
		opts.PrivateKey = g.privateKey
	}

	url, err := gcs.SignedURL(g.bucket, g.key(prefix, oid), opts)
	if err != nil {
		return "", apierr.Wrap(apierr.StorageError, "failed to sign GCS URL", err)
	}
	return url, nil
}

func (g *GCS) GetUploadAction(ctx context.Context, prefix, oid string, size int64, expiresIn int, extra map[string]string) (Action, error) {
	url, err := g.signedURL(ctx, "PUT", prefix, oid, expiryOrDefault(expiresIn, g.expire), "")
	if err != nil {
		return Action{}, err
	}
	return Action{Href: url, Method: "PUT", Header: map[string]string{"Content-Type": "application/octet-stream"}, ExpiresIn: expiresIn}, nil
}

func (g *GCS) GetDownloadAction(ctx context.Context, prefix, oid string, size int64, expiresIn int, extra map[string]string) (Action, error) {
	var disposition string
	if filename := safeFilename(extra["filename"]); filename != "" {
		disposition = fmt.Sprintf(`attachment; filename="%s"`, filename)
	}
	url, err := g.signedURL(ctx, "GET", prefix, oid, expiryOrDefault(expiresIn, g.expire), disposition)
	if err != nil {
		return Action{}, err
	}
	return Action{Href: url, Method: "GET", ExpiresIn: expiresIn}, nil
}

var _ External = (*GCS)(nil)
