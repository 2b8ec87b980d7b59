package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/lfsgate/lfsgate/internal/apierr"
	"github.com/lfsgate/lfsgate/internal/identity"
)

// GitHubCacheConfig tunes the multi-tier cache sizes/TTLs, matching the
// original's CacheConfig defaults.
type GitHubCacheConfig struct {
	UserMaxSize  int
	TokenMaxSize int
	AuthMaxSize  int
	AuthWriteTTL time.Duration
	AuthOtherTTL time.Duration
	// ProxyMinTTL is the minimum TTL the read-proxy cache guarantees an
	// entry survives for, so a freshly authorized permission is observable
	// by at least one subsequent check even if the main cache is full.
	ProxyMinTTL time.Duration
}

func DefaultGitHubCacheConfig() GitHubCacheConfig {
	return GitHubCacheConfig{
		UserMaxSize:  32,
		TokenMaxSize: 32,
		AuthMaxSize:  32,
		AuthWriteTTL: 15 * time.Minute,
		AuthOtherTTL: 30 * time.Second,
		ProxyMinTTL:  60 * time.Second,
	}
}

// userKey uniquely identifies a GitHub user across tokens — (login, id).
type userKey struct {
	login string
	id    string
}

// GitHubIdentity is one authenticated GitHub user or App installation.
// Multiple tokens for the same user share one GitHubIdentity instance (and
// its authorization cache) via GitHubAuthenticator's unique-user cache.
type GitHubIdentity struct {
	key   userKey
	name  string
	email string

	authCache *tlru // (org, repo) -> identity.PermissionSet, bounded, per-identity

	cc GitHubCacheConfig
}

func newGitHubIdentity(login, id, name, email string, cc GitHubCacheConfig) *GitHubIdentity {
	return &GitHubIdentity{
		key:       userKey{login: login, id: id},
		name:      name,
		email:     email,
		authCache: newTLRU(cc.AuthMaxSize),
		cc:        cc,
	}
}

func (g *GitHubIdentity) ID() string    { return g.key.id }
func (g *GitHubIdentity) Name() string  { return g.name }
func (g *GitHubIdentity) Email() string { return g.email }

func repoCacheKey(org, repo string) string { return org + "/" + repo }

// permissions returns the cached permission set for (org, repo), or
// (zero, false) if there is no unexpired entry.
func (g *GitHubIdentity) permissions(org, repo string) (identity.PermissionSet, bool) {
	if v, ok := g.authCache.Get(repoCacheKey(org, repo)); ok {
		return v.(identity.PermissionSet), true
	}
	return 0, false
}

// authorize writes a freshly resolved permission set into the bounded
// per-identity cache, with a TTL derived from whether the set includes
// WRITE: write grants live for AuthWriteTTL, every other set (including
// denials) for the shorter AuthOtherTTL.
func (g *GitHubIdentity) authorize(org, repo string, perms identity.PermissionSet) {
	ttl := g.cc.AuthOtherTTL
	if perms.Has(identity.Write) {
		ttl = g.cc.AuthWriteTTL
	}
	g.authCache.Set(repoCacheKey(org, repo), perms, ttl)
}

func (g *GitHubIdentity) IsAuthorized(org, repo string, perm identity.Permission, oid string) bool {
	perms, ok := g.permissions(org, repo)
	if !ok {
		return false
	}
	return perms.Has(perm)
}

// GitHubAuthenticator authenticates requests by proxying to the GitHub
// REST API, translating repository/installation permissions into this
// server's permission model, with a multi-tier thread-safe cache.
type GitHubAuthenticator struct {
	apiURL     string
	apiHeaders map[string]string
	httpClient *http.Client
	cc         GitHubCacheConfig

	// Restriction map[org] -> allowed repos; a nil map means unrestricted.
	// An org missing from the map is not allowed at all; a present org with
	// a nil slice allows every repo in it, and a non-nil slice allows only
	// the repos it lists. See checkRestriction.
	restriction map[string][]string

	mu          sync.Mutex
	userCache   map[userKey]*userCacheEntry
	tokenCache  *lru.Cache[string, userKey]
	readProxy   *tlru // unbounded, fronts each identity's authCache

	sfAuthenticate singleflight.Group // one GET /user per token
	sfAuthorize    singleflight.Group // one authorization resolution per (identity, org, repo)
}

// userCacheEntry explicit-reference-counts a GitHubIdentity: incremented
// on each token-cache insertion that points at it, decremented on
// eviction, destroyed at zero. Go has no weak references, so refcounting
// stands in for weak-value map semantics.
type userCacheEntry struct {
	identity *GitHubIdentity
	refs     int
}

type GitHubAuthenticatorConfig struct {
	APIURL      string
	APIVersion  string
	Cache       GitHubCacheConfig
	Restriction map[string][]string
	HTTPClient  *http.Client
}

func NewGitHubAuthenticator(cfg GitHubAuthenticatorConfig) *GitHubAuthenticator {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://api.github.com"
	}
	apiURL = strings.TrimSuffix(apiURL, "/")

	headers := map[string]string{"Accept": "application/vnd.github+json"}
	if cfg.APIVersion != "" {
		headers["X-GitHub-Api-Version"] = cfg.APIVersion
	}

	cc := cfg.Cache
	if cc == (GitHubCacheConfig{}) {
		cc = DefaultGitHubCacheConfig()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	a := &GitHubAuthenticator{
		apiURL:      apiURL,
		apiHeaders:  headers,
		httpClient:  client,
		cc:          cc,
		restriction: cfg.Restriction,
		userCache:   make(map[userKey]*userCacheEntry),
		readProxy:   newTLRU(0),
	}

	// Evicting a token drops its share of the unique-user reference count;
	// the underlying GitHubIdentity (and its authorization cache) is only
	// destroyed once no cached token references it anymore.
	tokenCache, _ := lru.NewWithEvict(max(cc.TokenMaxSize, 1), func(_ string, key userKey) {
		a.mu.Lock()
		a.releaseLocked(key)
		a.mu.Unlock()
	})
	a.tokenCache = tokenCache

	return a
}

func (a *GitHubAuthenticator) apiGet(ctx context.Context, uri, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiURL+uri, nil)
	if err != nil {
		return apierr.Wrap(apierr.Unauthorized, "failed to build GitHub API request", err)
	}
	for k, v := range a.apiHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.Unauthorized, "couldn't reach GitHub API", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apierr.New(apierr.Unauthorized, fmt.Sprintf("GitHub API returned %d for %s", resp.StatusCode, uri))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// getOrCreateIdentity returns the shared GitHubIdentity for (login, id),
// registering a new one if this is the first time it's seen, and bumps its
// reference count to account for the given token occupying a token-cache
// slot.
func (a *GitHubAuthenticator) getOrCreateIdentity(login, id, name, email, token string) *GitHubIdentity {
	a.mu.Lock()

	key := userKey{login: login, id: id}
	entry, ok := a.userCache[key]
	if !ok {
		entry = &userCacheEntry{identity: newGitHubIdentity(login, id, name, email, a.cc)}
		a.userCache[key] = entry
	}
	entry.refs++

	// Re-adding a token that is already cached replaces its value without
	// firing OnEvict, so the ref its old entry held is released here.
	if oldKey, ok := a.tokenCache.Peek(token); ok {
		a.releaseLocked(oldKey)
	}
	a.mu.Unlock()

	// A token pushed out at capacity is released by the cache's OnEvict
	// callback, which takes a.mu itself, so Add runs without a.mu held.
	a.tokenCache.Add(token, key)

	return entry.identity
}

func (a *GitHubAuthenticator) releaseLocked(key userKey) {
	entry, ok := a.userCache[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(a.userCache, key)
	}
}

// authenticate resolves a bearer token into a GitHubIdentity, single-
// flighted per token and cached per token so a burst of parallel requests
// with the same token makes exactly one GET /user call.
func (a *GitHubAuthenticator) authenticate(ctx context.Context, token string) (*GitHubIdentity, error) {
	if cachedKey, ok := a.tokenCache.Get(token); ok {
		a.mu.Lock()
		entry, ok := a.userCache[cachedKey]
		a.mu.Unlock()
		if ok {
			return entry.identity, nil
		}
	}

	v, err, _ := a.sfAuthenticate.Do(token, func() (any, error) {
		var user struct {
			Login string `json:"login"`
			ID    int64  `json:"id"`
			Name  string `json:"name"`
			Email string `json:"email"`
		}
		if err := a.apiGet(ctx, "/user", token, &user); err != nil {
			return nil, err
		}
		return a.getOrCreateIdentity(user.Login, strconv.FormatInt(user.ID, 10), user.Name, user.Email, token), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*GitHubIdentity), nil
}

// proxyKey scopes the global read-proxy cache by identity as well as
// (org, repo), since the proxy fronts every identity's own bounded cache.
func proxyKey(id *GitHubIdentity, org, repo string) string {
	return fmt.Sprintf("%s/%s|%s/%s", id.key.login, id.key.id, org, repo)
}

// checkCached consults the identity's own cache first, then the global
// read-proxy; a proxy hit is popped and promoted back into the identity's
// cache with its real TTL, guaranteeing at least one more authoritative
// read observes a permission that was just written but already evicted
// from the (bounded) main cache.
func (a *GitHubAuthenticator) checkCached(id *GitHubIdentity, org, repo string) (identity.PermissionSet, bool) {
	if perms, ok := id.permissions(org, repo); ok {
		return perms, true
	}
	if v, ok := a.readProxy.Pop(proxyKey(id, org, repo)); ok {
		perms := v.(identity.PermissionSet)
		id.authorize(org, repo, perms)
		return perms, true
	}
	return 0, false
}

func (a *GitHubAuthenticator) writeThrough(id *GitHubIdentity, org, repo string, perms identity.PermissionSet) {
	id.authorize(org, repo, perms)
	ttl := id.cc.AuthOtherTTL
	if perms.Has(identity.Write) {
		ttl = id.cc.AuthWriteTTL
	}
	if ttl < id.cc.ProxyMinTTL {
		ttl = id.cc.ProxyMinTTL
	}
	a.readProxy.Set(proxyKey(id, org, repo), perms, ttl)
}

// authorizeUser resolves and caches id's permission on (org, repo) by
// calling the GitHub collaborator-permission endpoint, single-flighted per
// (identity, org, repo) so concurrent requests for the same grant share one
// upstream call.
func (a *GitHubAuthenticator) authorizeUser(ctx context.Context, id *GitHubIdentity, org, repo, token string) error {
	if _, ok := a.checkCached(id, org, repo); ok {
		return nil
	}

	sfKey := fmt.Sprintf("%s/%s|%s/%s", id.key.login, id.key.id, org, repo)
	_, err, _ := a.sfAuthorize.Do(sfKey, func() (any, error) {
		if _, ok := a.checkCached(id, org, repo); ok {
			return nil, nil
		}

		var resp struct {
			Permission string `json:"permission"`
		}
		uri := fmt.Sprintf("/repos/%s/%s/collaborators/%s/permission", org, repo, id.key.login)
		if err := a.apiGet(ctx, uri, token, &resp); err != nil {
			return nil, err
		}

		var perms identity.PermissionSet
		switch resp.Permission {
		case "admin", "write":
			perms = identity.PermissionSet(identity.Read | identity.ReadMeta | identity.Write)
		case "read":
			perms = identity.PermissionSet(identity.Read | identity.ReadMeta)
		}
		a.writeThrough(id, org, repo, perms)
		return nil, nil
	})
	return err
}

// installation represents one entry from GET /orgs/{org}/installations or
// GET /installation/repositories, just the fields this authenticator uses.
type installation struct {
	ID                 int64  `json:"id"`
	AppID              int64  `json:"app_id"`
	ClientID           string `json:"client_id"`
	AppSlug            string `json:"app_slug"`
	RepositorySelection string `json:"repository_selection"`
	Permissions        struct {
		Contents string `json:"contents"`
	} `json:"permissions"`
}

func installationMatches(inst installation, username string) bool {
	if username == "" {
		return false
	}
	return strconv.FormatInt(inst.ID, 10) == username ||
		strconv.FormatInt(inst.AppID, 10) == username ||
		inst.ClientID == username ||
		inst.AppSlug == username
}

// authorizeInstallation implements the App-installation identity flow:
// locate the matching installation, translate its contents permission,
// and either grant at the org level (repository_selection == "all") or
// enumerate GET /installation/repositories looking for the target repo,
// opportunistically caching other repos encountered along the way.
func (a *GitHubAuthenticator) authorizeInstallation(ctx context.Context, id *GitHubIdentity, org, repo, username, token string) error {
	if _, ok := a.checkCached(id, org, repo); ok {
		return nil
	}

	sfKey := fmt.Sprintf("install|%s|%s/%s", username, org, repo)
	_, err, _ := a.sfAuthorize.Do(sfKey, func() (any, error) {
		if _, ok := a.checkCached(id, org, repo); ok {
			return nil, nil
		}

		var installs struct {
			Installations []installation `json:"installations"`
		}
		if err := a.apiGet(ctx, fmt.Sprintf("/orgs/%s/installations", org), token, &installs); err != nil {
			return nil, err
		}

		var matched *installation
		for i := range installs.Installations {
			if installationMatches(installs.Installations[i], username) {
				matched = &installs.Installations[i]
				break
			}
		}
		if matched == nil {
			return nil, apierr.NewUnauthorized("no matching GitHub App installation found")
		}

		var perms identity.PermissionSet
		switch matched.Permissions.Contents {
		case "write":
			perms = identity.PermissionSet(identity.Read | identity.ReadMeta | identity.Write)
		case "read":
			perms = identity.PermissionSet(identity.Read | identity.ReadMeta)
		}

		if matched.RepositorySelection == "all" {
			a.writeThrough(id, org, "", perms)
			a.writeThrough(id, org, repo, perms)
			return nil, nil
		}

		if err := a.enumerateInstallationRepos(ctx, id, org, repo, token, perms); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// enumerateInstallationRepos walks the paginated installation repository
// list, opportunistically caching permissions for every repo seen (not
// just the target) up to the identity's remaining cache capacity.
func (a *GitHubAuthenticator) enumerateInstallationRepos(ctx context.Context, id *GitHubIdentity, org, targetRepo, token string, perms identity.PermissionSet) error {
	id.authCache.mu.Lock()
	unbounded := id.authCache.maxSize <= 0
	free := id.authCache.maxSize - len(id.authCache.items)
	id.authCache.mu.Unlock()

	page := 1
	found := false
	for {
		var resp struct {
			Repositories []struct {
				Name  string `json:"name"`
				Owner struct {
					Login string `json:"login"`
				} `json:"owner"`
			} `json:"repositories"`
		}
		uri := fmt.Sprintf("/installation/repositories?per_page=100&page=%d", page)
		if err := a.apiGet(ctx, uri, token, &resp); err != nil {
			return err
		}
		if len(resp.Repositories) == 0 {
			break
		}
		for _, r := range resp.Repositories {
			if r.Owner.Login != org {
				continue
			}
			if r.Name == targetRepo {
				found = true
			} else if !unbounded {
				if free <= 0 {
					continue
				}
				free--
			}
			a.writeThrough(id, org, r.Name, perms)
		}
		page++
		if len(resp.Repositories) < 100 {
			break
		}
	}
	if !found {
		a.writeThrough(id, org, targetRepo, 0)
	}
	return nil
}

func (a *GitHubAuthenticator) checkRestriction(org, repo string) error {
	if a.restriction == nil {
		return nil
	}
	repos, ok := a.restriction[org]
	if !ok {
		return apierr.NewUnauthorized("organization is not in the allowed list")
	}
	if repos == nil {
		return nil
	}
	for _, r := range repos {
		if r == repo {
			return nil
		}
	}
	return apierr.NewUnauthorized("repository is not in the allowed list")
}

// Authenticate implements the GitHub proxy authenticator's request path:
// extract org/repo/token from the request, resolve a user or App
// installation identity, and resolve its permission on (org, repo).
func (a *GitHubAuthenticator) Authenticate(r *http.Request) (identity.Identity, error) {
	org, repo, ok := orgRepoFromPath(r.URL.Path)
	if !ok {
		return nil, nil
	}
	username, token, ok := r.BasicAuth()
	if !ok || token == "" {
		return nil, nil
	}

	if err := a.checkRestriction(org, repo); err != nil {
		return nil, err
	}

	ctx := r.Context()

	if strings.HasPrefix(token, "ghs_") {
		id := a.getOrCreateIdentity("installation:"+username, username, username, "", token)
		if err := a.authorizeInstallation(ctx, id, org, repo, username, token); err != nil {
			return nil, err
		}
		return id, nil
	}

	id, err := a.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := a.authorizeUser(ctx, id, org, repo, token); err != nil {
		return nil, err
	}
	return id, nil
}

// orgRepoFromPath extracts the leading <org>/<repo> path segments, the
// same way the original's CallContext.__post_init__ splits request.path.
func orgRepoFromPath(p string) (org, repo string, ok bool) {
	trimmed := strings.TrimPrefix(p, "/")
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	repo = strings.TrimSuffix(parts[1], ".git")
	return parts[0], repo, true
}

var _ Authenticator = (*GitHubAuthenticator)(nil)
