package config

import (
	"context"
	"fmt"
	"time"

	"github.com/lfsgate/lfsgate/internal/auth"
	"github.com/lfsgate/lfsgate/internal/storage"
	"github.com/lfsgate/lfsgate/internal/transfer"
)

// buildStorage resolves a {factory, options} spec naming one of the four
// storage backends via a fixed factory-key registry ("local", "s3",
// "azure", "gcs"), since Go has no dynamic symbol loading to resolve an
// arbitrary dotted import path at runtime.
func buildStorage(ctx context.Context, cfg AdapterConfig) (any, error) {
	switch cfg.Factory {
	case "local":
		path := optString(cfg.Options, "path", "lfs-storage")
		return storage.NewLocal(path), nil

	case "s3":
		o := cfg.Options
		return storage.NewS3(ctx, storage.S3Config{
			Endpoint:       optString(o, "endpoint", ""),
			Region:         optString(o, "region", ""),
			AccessKey:      optString(o, "access_key_id", ""),
			SecretKey:      optString(o, "secret_access_key", ""),
			Bucket:         optString(o, "bucket_name", ""),
			PathPrefix:     optString(o, "path_prefix", ""),
			ForcePathStyle: optBool(o, "force_path_style", false),
			Expire:         optDuration(o, "expire", 15*time.Minute),
		})

	case "azure":
		o := cfg.Options
		return storage.NewAzure(storage.AzureConfig{
			AccountName:   optString(o, "account_name", ""),
			AccountKey:    optString(o, "account_key", ""),
			ContainerName: optString(o, "container_name", ""),
			EndpointURL:   optString(o, "endpoint_url", ""),
			PathPrefix:    optString(o, "path_prefix", ""),
			Expire:        optDuration(o, "expire", 15*time.Minute),
		})

	case "gcs":
		o := cfg.Options
		return storage.NewGCS(ctx, storage.GCSConfig{
			Bucket:                    optString(o, "bucket_name", ""),
			PathPrefix:                optString(o, "path_prefix", ""),
			Expire:                    optDuration(o, "expire", 15*time.Minute),
			CredentialsFile:           optString(o, "credentials_file", ""),
			CredentialsJSONBase64:     optString(o, "credentials_json_base64", ""),
			ImpersonateServiceAccount: optString(o, "impersonate_service_account", ""),
		})

	default:
		return nil, fmt.Errorf("unknown storage factory %q", cfg.Factory)
	}
}

// buildAdapter resolves a transfer adapter's {factory, options} spec. Each
// adapter nests its own "storage" sub-spec, resolved with buildStorage,
// and asserts it to the capability interface the adapter needs — a
// storage.S3/Azure/GCS backend under a "basic-external" factory satisfies
// storage.External, and an Azure backend under "multipart" also satisfies
// storage.Multipart (azure.go is the only backend implementing it today).
func buildAdapter(ctx context.Context, cfg AdapterConfig) (transfer.Adapter, error) {
	storageCfg := optSubOptions(cfg.Options, "storage")
	backendCfg := AdapterConfig{
		Factory: optString(storageCfg, "factory", "local"),
		Options: optSubOptions(storageCfg, "options"),
	}
	backend, err := buildStorage(ctx, backendCfg)
	if err != nil {
		return nil, err
	}

	lifetime := optInt(cfg.Options, "action_lifetime", 900)

	switch cfg.Factory {
	case "basic-streaming":
		streaming, ok := backend.(storage.Streaming)
		if !ok {
			return nil, fmt.Errorf("storage backend %q does not implement streaming", backendCfg.Factory)
		}
		return transfer.NewBasicStreaming(streaming, lifetime), nil

	case "basic-external":
		external, ok := backend.(storage.External)
		if !ok {
			return nil, fmt.Errorf("storage backend %q does not implement external actions", backendCfg.Factory)
		}
		return transfer.NewBasicExternal(external, lifetime), nil

	case "multipart":
		multipart, ok := backend.(storage.Multipart)
		if !ok {
			return nil, fmt.Errorf("storage backend %q does not implement multipart uploads", backendCfg.Factory)
		}
		maxPartSize := optInt64(cfg.Options, "max_part_size", 0)
		return transfer.NewMultipart(multipart, lifetime, maxPartSize), nil

	default:
		return nil, fmt.Errorf("unknown transfer adapter factory %q", cfg.Factory)
	}
}

// buildAuthenticator resolves an auth_providers entry or the
// pre_authorized_action_provider spec into a concrete Authenticator.
func buildAuthenticator(cfg AdapterConfig) (auth.Authenticator, error) {
	o := cfg.Options

	switch cfg.Factory {
	case "basic":
		return auth.NewStaticBasicAuthenticator(
			optString(o, "username", ""),
			optString(o, "password", ""),
			optBool(o, "writable", false),
		), nil

	case "jwt":
		j := auth.NewJWTAuthenticator()
		if v := optString(o, "private_key", ""); v != "" {
			j.PrivateKey = []byte(v)
		}
		if v := optString(o, "public_key", ""); v != "" {
			j.PublicKey = []byte(v)
		}
		if v := optString(o, "algorithm", ""); v != "" {
			j.Algorithm = v
		}
		if v := optDuration(o, "default_lifetime", 0); v > 0 {
			j.DefaultLifetime = v
		}
		if v := optDuration(o, "leeway", 0); v > 0 {
			j.Leeway = v
		}
		j.Issuer = optString(o, "issuer", j.Issuer)
		j.Audience = optString(o, "audience", j.Audience)
		j.KeyID = optString(o, "key_id", j.KeyID)
		j.BasicAuthUser = optString(o, "basic_auth_user", j.BasicAuthUser)
		return j, nil

	case "github":
		cc := auth.DefaultGitHubCacheConfig()
		if v := optInt(o, "user_cache_size", 0); v > 0 {
			cc.UserMaxSize = v
		}
		if v := optInt(o, "token_cache_size", 0); v > 0 {
			cc.TokenMaxSize = v
		}
		if v := optInt(o, "authz_cache_size", 0); v > 0 {
			cc.AuthMaxSize = v
		}
		if v := optDuration(o, "authz_write_ttl", 0); v > 0 {
			cc.AuthWriteTTL = v
		}
		if v := optDuration(o, "authz_other_ttl", 0); v > 0 {
			cc.AuthOtherTTL = v
		}
		if v := optDuration(o, "proxy_min_ttl", 0); v > 0 {
			cc.ProxyMinTTL = v
		}

		var restriction map[string][]string
		if raw, ok := o["restrict_to"]; ok {
			if m, ok := raw.(map[string]any); ok {
				restriction = make(map[string][]string, len(m))
				for org, repos := range m {
					if list, ok := repos.([]any); ok {
						names := make([]string, 0, len(list))
						for _, r := range list {
							if s, ok := r.(string); ok {
								names = append(names, s)
							}
						}
						restriction[org] = names
					}
				}
			}
		}

		return auth.NewGitHubAuthenticator(auth.GitHubAuthenticatorConfig{
			APIURL:      optString(o, "api_url", ""),
			APIVersion:  optString(o, "api_version", ""),
			Cache:       cc,
			Restriction: restriction,
		}), nil

	default:
		return nil, fmt.Errorf("unknown auth provider factory %q", cfg.Factory)
	}
}
