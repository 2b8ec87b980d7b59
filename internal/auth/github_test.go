package auth

import (
	"testing"
	"time"

	"github.com/lfsgate/lfsgate/internal/identity"
)

func TestOrgRepoFromPath(t *testing.T) {
	cases := []struct {
		path string
		org  string
		repo string
		ok   bool
	}{
		{"/myorg/somerepo.git/info/lfs/objects/batch", "myorg", "somerepo", true},
		{"/myorg/somerepo/info/lfs/objects/batch", "myorg", "somerepo", true},
		{"/myorg", "", "", false},
		{"/", "", "", false},
	}
	for _, c := range cases {
		org, repo, ok := orgRepoFromPath(c.path)
		if org != c.org || repo != c.repo || ok != c.ok {
			t.Errorf("orgRepoFromPath(%q) = (%q, %q, %v), want (%q, %q, %v)", c.path, org, repo, ok, c.org, c.repo, c.ok)
		}
	}
}

func TestInstallationMatches(t *testing.T) {
	inst := installation{ID: 123, AppID: 456, ClientID: "Iv1.abc", AppSlug: "my-app"}
	for _, username := range []string{"123", "456", "Iv1.abc", "my-app"} {
		if !installationMatches(inst, username) {
			t.Errorf("expected installation to match username %q", username)
		}
	}
	if installationMatches(inst, "someone-else") {
		t.Error("expected no match for unrelated username")
	}
	if installationMatches(inst, "") {
		t.Error("expected no match for empty username")
	}
}

func TestGitHubIdentityAuthorizeAndPermissions(t *testing.T) {
	cc := DefaultGitHubCacheConfig()
	id := newGitHubIdentity("octocat", "1", "The Octocat", "octocat@example.com", cc)

	if _, ok := id.permissions("myorg", "somerepo"); ok {
		t.Fatal("expected no cached permissions before authorize")
	}

	id.authorize("myorg", "somerepo", identity.PermissionSet(identity.Read|identity.ReadMeta))

	perms, ok := id.permissions("myorg", "somerepo")
	if !ok {
		t.Fatal("expected cached permissions after authorize")
	}
	if !perms.Has(identity.Read) || !perms.Has(identity.ReadMeta) {
		t.Error("expected read and read-meta permissions")
	}
	if perms.Has(identity.Write) {
		t.Error("did not expect write permission")
	}
	if id.IsAuthorized("myorg", "somerepo", identity.Write, "") {
		t.Error("write should not be authorized")
	}
}

func TestAuthenticatorReadProxyPromotion(t *testing.T) {
	a := NewGitHubAuthenticator(GitHubAuthenticatorConfig{
		Cache: GitHubCacheConfig{
			AuthMaxSize:  1,
			AuthWriteTTL: time.Minute,
			AuthOtherTTL: time.Minute,
			ProxyMinTTL:  time.Minute,
		},
	})
	id := newGitHubIdentity("octocat", "1", "", "", a.cc)

	a.writeThrough(id, "myorg", "repo-a", identity.PermissionSet(identity.Read|identity.ReadMeta))
	// Cache capacity of 1: writing repo-b evicts repo-a from id's own cache,
	// but it must still be retrievable via the read-proxy.
	a.writeThrough(id, "myorg", "repo-b", identity.PermissionSet(identity.Read|identity.ReadMeta))

	perms, ok := a.checkCached(id, "myorg", "repo-a")
	if !ok {
		t.Fatal("expected read-proxy to still hold the evicted entry")
	}
	if !perms.Has(identity.Read) {
		t.Error("expected read permission promoted from proxy")
	}

	if _, ok := id.permissions("myorg", "repo-a"); !ok {
		t.Error("expected promoted entry to now live in the identity's own cache")
	}
}

func TestCheckRestriction(t *testing.T) {
	a := NewGitHubAuthenticator(GitHubAuthenticatorConfig{
		Restriction: map[string][]string{"myorg": {"somerepo"}},
	})
	if err := a.checkRestriction("myorg", "somerepo"); err != nil {
		t.Errorf("expected allowed repo to pass restriction check, got %v", err)
	}
	if err := a.checkRestriction("myorg", "otherrepo"); err == nil {
		t.Error("expected disallowed repo to fail restriction check")
	}
	if err := a.checkRestriction("otherorg", "somerepo"); err == nil {
		t.Error("expected disallowed org to fail restriction check")
	}
}
