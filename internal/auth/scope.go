package auth

import (
	"sort"
	"strings"
)

// Scope is the compact grant grammar carried in a JWT's "scopes" claim:
// obj:<org>/<repo>/<oid>[:<subscope>]:<actions>
type Scope struct {
	EntityType string
	EntityRef  string // "" means wildcard
	Subscope   string // "" means no subscope, "metadata"/"meta" restricts to READ_META
	Actions    []string
}

// String renders the scope back to its wire form. Actions are sorted so
// the round-trip is canonical even if the input order differed.
func (s Scope) String() string {
	parts := []string{s.EntityType}

	entityRef := s.EntityRef
	subscope := s.Subscope
	var actions string
	if len(s.Actions) > 0 {
		sorted := append([]string(nil), s.Actions...)
		sort.Strings(sorted)
		actions = strings.Join(sorted, ",")
	}

	switch {
	case entityRef != "":
		parts = append(parts, entityRef)
	case subscope != "" || actions != "":
		parts = append(parts, "*")
	}

	if subscope != "" {
		parts = append(parts, subscope)
		if actions == "" {
			parts = append(parts, "*")
		}
	}

	if actions != "" {
		parts = append(parts, actions)
	}

	return strings.Join(parts, ":")
}

// ParseScope parses a scope string of 1-4 colon-separated segments.
func ParseScope(s string) Scope {
	parts := strings.Split(s, ":")
	scope := Scope{EntityType: parts[0]}

	if len(parts) > 1 && parts[1] != "*" {
		scope.EntityRef = parts[1]
	}
	if len(parts) == 3 && parts[2] != "*" {
		scope.Actions = parseActions(parts[2])
	}
	if len(parts) == 4 {
		if parts[2] != "*" {
			scope.Subscope = parts[2]
		}
		if parts[3] != "*" {
			scope.Actions = parseActions(parts[3])
		}
	}
	return scope
}

func parseActions(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// EntityParts splits EntityRef into up to 3 pieces (org, repo, oid); a
// missing piece or "*" becomes "" (wildcard). One piece means oid-only,
// two means org+repo, three means all three.
func (s Scope) EntityParts() (org, repo, oid string) {
	if s.EntityRef == "" {
		return "", "", ""
	}
	pieces := strings.SplitN(s.EntityRef, "/", 3)
	for i, p := range pieces {
		if p == "*" {
			pieces[i] = ""
		}
	}
	switch len(pieces) {
	case 3:
		return pieces[0], pieces[1], pieces[2]
	case 2:
		return pieces[0], pieces[1], ""
	case 1:
		return "", "", pieces[0]
	default:
		return "", "", ""
	}
}

// NewObjectScope builds the "obj:<org>/<repo>/<oid>[:actions]" scope used
// when minting a pre-auth token for a specific (org, repo, oid, actions)
// grant, matching _generate_action_scopes.
func NewObjectScope(org, repo, oid string, actions []string) Scope {
	if oid == "" {
		oid = "*"
	}
	return Scope{
		EntityType: "obj",
		EntityRef:  org + "/" + repo + "/" + oid,
		Actions:    actions,
	}
}
