package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lfsgate/lfsgate/internal/apierr"
	"github.com/lfsgate/lfsgate/internal/identity"
)

const (
	defaultJWTAlgorithm    = "HS256"
	defaultJWTLifetime     = 60 * time.Second
	defaultJWTLeeway       = 10 * time.Second
	defaultBasicAuthJWTUser = "_jwt"
)

var permissionsMap = map[string][]identity.Permission{
	"read":   {identity.Read, identity.ReadMeta},
	"write":  {identity.Write},
	"verify": {identity.ReadMeta},
}

// JWTAuthenticator both verifies incoming bearer tokens and, via
// PreAuthorizer, mints short-lived scoped tokens that transfer adapters
// embed in action URLs/headers.
type JWTAuthenticator struct {
	PrivateKey     []byte // HS* secret, or RS* private key for minting
	PublicKey      []byte // RS* public key for verification
	Algorithm      string
	DefaultLifetime time.Duration
	Leeway         time.Duration
	Issuer         string
	Audience       string
	KeyID          string
	BasicAuthUser  string // default "_jwt"; empty disables the Basic-auth carrier
}

func NewJWTAuthenticator() *JWTAuthenticator {
	return &JWTAuthenticator{
		Algorithm:       defaultJWTAlgorithm,
		DefaultLifetime: defaultJWTLifetime,
		Leeway:          defaultJWTLeeway,
		BasicAuthUser:   defaultBasicAuthJWTUser,
	}
}

func (j *JWTAuthenticator) signingMethod() jwt.SigningMethod {
	return jwt.GetSigningMethod(j.Algorithm)
}

func (j *JWTAuthenticator) verificationKey() (any, error) {
	if strings.HasPrefix(j.Algorithm, "HS") {
		if j.PrivateKey == nil {
			return nil, apierr.NewStorageError("JWT authenticator has no key configured for verification")
		}
		return j.PrivateKey, nil
	}
	if j.PublicKey == nil {
		return nil, apierr.NewStorageError("JWT authenticator has no public key configured for verification")
	}
	return jwt.ParseRSAPublicKeyFromPEM(j.PublicKey)
}

// signingKey mirrors verificationKey on the minting side: HS* signs with
// the raw shared secret, RS* needs the PEM-encoded private key parsed into
// an *rsa.PrivateKey first.
func (j *JWTAuthenticator) signingKey() (any, error) {
	if strings.HasPrefix(j.Algorithm, "HS") {
		if j.PrivateKey == nil {
			return nil, apierr.NewStorageError("JWT authenticator has no key configured for signing")
		}
		return j.PrivateKey, nil
	}
	if j.PrivateKey == nil {
		return nil, apierr.NewStorageError("JWT authenticator has no private key configured for signing")
	}
	return jwt.ParseRSAPrivateKeyFromPEM(j.PrivateKey)
}

// Authenticate extracts a token from Bearer/Basic/query-param carriers,
// verifies it, and builds an Identity from its scopes claim. Returns
// (nil, nil) — abstain — when no token is present or the configured key ID
// doesn't match; returns an Unauthorized error for a present-but-invalid
// token.
func (j *JWTAuthenticator) Authenticate(r *http.Request) (identity.Identity, error) {
	token := tokenFromHeader(r, j.BasicAuthUser)
	if token == "" {
		token = r.URL.Query().Get("jwt")
	}
	if token == "" {
		return nil, nil
	}

	if j.KeyID != "" {
		unverified, _, err := new(jwt.Parser).ParseUnverified(token, jwt.MapClaims{})
		if err != nil {
			return nil, nil
		}
		if kid, _ := unverified.Header["kid"].(string); kid != j.KeyID {
			return nil, nil
		}
	}

	claims := jwt.MapClaims{}
	key, err := j.verificationKey()
	if err != nil {
		return nil, apierr.Wrap(apierr.Unauthorized, "JWT verification is not configured", err)
	}

	parserOpts := []jwt.ParserOption{jwt.WithLeeway(j.Leeway), jwt.WithValidMethods([]string{j.Algorithm})}
	if j.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(j.Issuer))
	}
	if j.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(j.Audience))
	}

	_, err = jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return key, nil }, parserOpts...)
	if err != nil {
		return nil, apierr.Wrap(apierr.Unauthorized, "expired or otherwise invalid JWT token", err)
	}

	return identityFromClaims(claims), nil
}

func tokenFromHeader(r *http.Request, basicAuthUser string) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	authzType, payload, ok := strings.Cut(header, " ")
	if !ok {
		return ""
	}
	switch strings.ToLower(authzType) {
	case "bearer":
		return payload
	case "basic":
		if basicAuthUser == "" {
			return ""
		}
		username, password, ok := r.BasicAuth()
		if ok && username == basicAuthUser {
			return password
		}
	}
	return ""
}

func identityFromClaims(claims jwt.MapClaims) identity.Identity {
	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	if name == "" {
		name = sub
	}

	id := identity.NewIdentity(sub, name, email)

	for _, scopeStr := range toStringSlice(claims["scopes"]) {
		applyScope(id, ParseScope(scopeStr))
	}
	return id
}

func toStringSlice(v any) []string {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	case string:
		return []string{val}
	default:
		return nil
	}
}

// applyScope parses one scope string into an Identity.Allow call; scopes
// whose entity type isn't "obj" grant nothing, matching _parse_scope.
func applyScope(id *identity.DefaultIdentity, scope Scope) {
	if scope.EntityType != "obj" {
		return
	}
	org, repo, oid := scope.EntityParts()
	perms := scopePermissions(scope)
	if len(perms) == 0 {
		return
	}
	id.Allow(org, repo, oid, perms...)
}

func scopePermissions(scope Scope) []identity.Permission {
	var perms []identity.Permission
	seen := map[identity.Permission]bool{}
	add := func(p identity.Permission) {
		if !seen[p] {
			seen[p] = true
			perms = append(perms, p)
		}
	}

	if len(scope.Actions) > 0 {
		for _, action := range scope.Actions {
			for _, p := range permissionsMap[action] {
				add(p)
			}
		}
	} else {
		add(identity.ReadMeta)
		add(identity.Read)
		add(identity.Write)
	}

	if scope.Subscope == "metadata" || scope.Subscope == "meta" {
		if seen[identity.ReadMeta] {
			return []identity.Permission{identity.ReadMeta}
		}
		return nil
	}
	return perms
}

// GetAuthzHeader mints a token for the requested (org, repo, actions, oid)
// grant and returns it as a Bearer Authorization header.
func (j *JWTAuthenticator) GetAuthzHeader(id identity.Identity, org, repo string, actions []string, oid string, lifetimeSeconds int) (map[string]string, error) {
	token, err := j.generateTokenForAction(id, org, repo, actions, oid, lifetimeSeconds)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

// GetAuthzQueryParams mints the same token for embedding as a `jwt` query
// parameter, for clients that can't set custom headers (e.g. the streaming
// GET endpoint reached via a plain pre-signed link).
func (j *JWTAuthenticator) GetAuthzQueryParams(id identity.Identity, org, repo string, actions []string, oid string, lifetimeSeconds int) (map[string]string, error) {
	token, err := j.generateTokenForAction(id, org, repo, actions, oid, lifetimeSeconds)
	if err != nil {
		return nil, err
	}
	return map[string]string{"jwt": token}, nil
}

func (j *JWTAuthenticator) generateTokenForAction(id identity.Identity, org, repo string, actions []string, oid string, lifetimeSeconds int) (string, error) {
	if j.PrivateKey == nil {
		return "", apierr.NewStorageError("JWT authenticator is not configured to generate tokens")
	}

	now := time.Now().UTC()
	lifetime := j.DefaultLifetime
	claims := jwt.MapClaims{
		"sub":    id.ID(),
		"scopes": []string{NewObjectScope(org, repo, oid, actions).String()},
		"iat":    now.Unix(),
		"nbf":    now.Unix(),
	}
	if lifetimeSeconds > 0 {
		lifetime = time.Duration(lifetimeSeconds) * time.Second
	}
	claims["exp"] = now.Add(lifetime).Unix()

	if j.Issuer != "" {
		claims["iss"] = j.Issuer
	}
	if j.Audience != "" {
		claims["aud"] = j.Audience
	}
	if id.Email() != "" {
		claims["email"] = id.Email()
	}
	if id.Name() != "" {
		claims["name"] = id.Name()
	}

	token := jwt.NewWithClaims(j.signingMethod(), claims)
	if j.KeyID != "" {
		token.Header["kid"] = j.KeyID
	}
	key, err := j.signingKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(key)
}

var (
	_ Authenticator = (*JWTAuthenticator)(nil)
	_ PreAuthorizer = (*JWTAuthenticator)(nil)
)
