package identity

import "testing"

func TestResolve(t *testing.T) {
	dev := Policy{FallbackUserID: "shared-id", AllowFallback: true}
	prod := Policy{FallbackUserID: "shared-id", AllowFallback: false}

	if got := dev.Resolve("real-user"); got != "real-user" {
		t.Errorf("present id rewritten to %q", got)
	}
	if got := dev.Resolve(""); got != "shared-id" {
		t.Errorf("dev fallback = %q", got)
	}
	if got := prod.Resolve(""); got != "" {
		t.Errorf("prod policy leaked fallback %q", got)
	}
}

func TestSharedRetryID(t *testing.T) {
	dev := Policy{FallbackUserID: "shared-id", AllowFallback: true}

	if got := dev.SharedRetryID("real-user"); got != "shared-id" {
		t.Errorf("retry id = %q", got)
	}
	// Never retry against yourself.
	if got := dev.SharedRetryID("shared-id"); got != "" {
		t.Errorf("self retry id = %q", got)
	}
	prod := Policy{FallbackUserID: "shared-id", AllowFallback: false}
	if got := prod.SharedRetryID("real-user"); got != "" {
		t.Errorf("prod retry id = %q", got)
	}
}

func TestPolicyFromEnv(t *testing.T) {
	t.Setenv("GO_ENV", "development")
	t.Setenv("LIA_DEV_USER_ID", "")

	p := PolicyFromEnv()
	if !p.AllowFallback {
		t.Fatal("development env must allow fallback")
	}
	if p.FallbackUserID == "" {
		t.Fatal("no default fallback id")
	}

	t.Setenv("GO_ENV", "production")
	t.Setenv("LIA_ALLOW_DEV_FALLBACK", "")
	if PolicyFromEnv().AllowFallback {
		t.Fatal("production env must not allow fallback")
	}
}
