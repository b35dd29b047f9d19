package identity

import "os"

// Policy decides how missing or unverifiable identities degrade. The shared
// fallback id exists for anonymous/dev sessions only; production deployments
// run with AllowFallback=false and every degradation path becomes a no-op.
type Policy struct {
	FallbackUserID string
	AllowFallback  bool
}

func PolicyFromEnv() Policy {
	allow := os.Getenv("GO_ENV") == "development" || os.Getenv("LIA_ALLOW_DEV_FALLBACK") == "true"

	fallback := os.Getenv("LIA_DEV_USER_ID")
	if fallback == "" {
		fallback = "00000000-0000-0000-0000-000000000001"
	}

	return Policy{FallbackUserID: fallback, AllowFallback: allow}
}

// Resolve returns userID unchanged when present, otherwise the fallback id if
// the policy allows one, otherwise "".
func (p Policy) Resolve(userID string) string {
	if userID != "" {
		return userID
	}
	if p.AllowFallback {
		return p.FallbackUserID
	}
	return ""
}

// SharedRetryID returns the id used for the one-shot "no memories for this
// user" retry, or "" when the policy forbids it or the user already is the
// shared id.
func (p Policy) SharedRetryID(userID string) string {
	if !p.AllowFallback || p.FallbackUserID == "" || userID == p.FallbackUserID {
		return ""
	}
	return p.FallbackUserID
}
