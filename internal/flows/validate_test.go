package flows

import (
	"context"
	"testing"
)

func TestValidateAccess(t *testing.T) {
	h := newHarness(t)
	tokens := h.loginTokens()
	ctx := context.Background()

	if res := h.service().ValidateAccess(ctx, tokens.AccessToken); res.Failure != ValidateFailureNone {
		t.Fatalf("valid token rejected: %+v", res)
	}
	if res := h.service().ValidateAccess(ctx, "nope"); res.Failure != ValidateFailureUnauthorized {
		t.Fatalf("garbage token: kind=%d", res.Failure)
	}

	if err := h.users.SetActive(ctx, h.user.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if res := h.service().ValidateAccess(ctx, tokens.AccessToken); res.Failure != ValidateFailureUserInactive {
		t.Fatalf("inactive user: kind=%d", res.Failure)
	}

	h.deps.Validate.CheckUser = false
	if res := h.service().ValidateAccess(ctx, tokens.AccessToken); res.Failure != ValidateFailureNone {
		t.Fatalf("stateless validation: kind=%d", res.Failure)
	}
}
