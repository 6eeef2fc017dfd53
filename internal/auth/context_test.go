// ABOUTME: Tests for identity propagation through context
// ABOUTME: Anonymous contexts must report a stable placeholder subject

package auth

import (
	"context"
	"testing"
)

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	if FromContext(ctx) != nil {
		t.Fatal("expected nil identity on bare context")
	}
	if got := SubjectFromContext(ctx); got != "anonymous" {
		t.Errorf("SubjectFromContext() = %q, want anonymous", got)
	}

	ctx = WithIdentity(ctx, &Identity{Subject: "ops"})
	if got := FromContext(ctx); got == nil || got.Subject != "ops" {
		t.Errorf("FromContext() = %+v, want subject ops", got)
	}
	if got := SubjectFromContext(ctx); got != "ops" {
		t.Errorf("SubjectFromContext() = %q, want ops", got)
	}
}
