package authz

import "strings"

const (
	suffixCompany = "_company"
	suffixAll     = "_all"
)

// Decision is the result of a single authorization check.
type Decision struct {
	Allowed bool
	// MatchedKey is the permission held by the context that satisfied the
	// request; empty when the request was unrestricted or denied.
	MatchedKey string
	// ViaAlternate is set when MatchedKey is the _company/_all counterpart
	// of a requested key rather than the key itself.
	ViaAlternate bool
	Reason       string
}

// ParseExpression splits a "|"-separated permission expression into distinct
// keys in order of first occurrence. Empty segments are dropped.
func ParseExpression(expr string) []string {
	if expr == "" {
		return nil
	}
	var keys []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(expr, "|") {
		key := strings.TrimSpace(part)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// AlternateKey maps a key ending in _company to the same prefix ending in
// _all and vice versa. Keys with neither suffix have no alternate.
func AlternateKey(key string) (string, bool) {
	switch {
	case strings.HasSuffix(key, suffixCompany):
		return strings.TrimSuffix(key, suffixCompany) + suffixAll, true
	case strings.HasSuffix(key, suffixAll):
		return strings.TrimSuffix(key, suffixAll) + suffixCompany, true
	default:
		return "", false
	}
}

// Resolve decides whether pc satisfies expr. Any one key of the expression is
// enough; for each key the alternate is tried after the key itself. An
// expression with no keys places no restriction and always allows.
func Resolve(pc *PermissionContext, expr string) Decision {
	keys := ParseExpression(expr)
	if len(keys) == 0 {
		return Decision{Allowed: true, Reason: "no permission required"}
	}
	if pc == nil {
		return Decision{Reason: "no permission context"}
	}

	for _, key := range keys {
		if pc.HasPermission(key) {
			return Decision{Allowed: true, MatchedKey: key, Reason: "granted"}
		}
		if alt, ok := AlternateKey(key); ok && pc.HasPermission(alt) {
			return Decision{Allowed: true, MatchedKey: alt, ViaAlternate: true, Reason: "granted via alternate"}
		}
	}
	return Decision{Reason: "missing permission " + strings.Join(keys, " or ")}
}
