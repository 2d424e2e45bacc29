package trace_test

import (
	"context"
	"strings"
	"testing"

	"github.com/bdobrica/myspaces/common/trace"
)

func TestGenerateID_Unique(t *testing.T) {
	a, b := trace.GenerateID(), trace.GenerateID()
	if a == b {
		t.Fatalf("expected distinct IDs, both %q", a)
	}
	if !strings.HasPrefix(a, "r_") {
		t.Errorf("expected r_ prefix, got %q", a)
	}
}

func TestFromContext_Absent(t *testing.T) {
	if got := trace.FromContext(context.Background()); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestEnsure(t *testing.T) {
	ctx, id := trace.Ensure(context.Background())
	if id == "" || trace.FromContext(ctx) != id {
		t.Fatalf("Ensure did not attach an ID: %q", id)
	}
	ctx2, id2 := trace.Ensure(ctx)
	if id2 != id || ctx2 != ctx {
		t.Errorf("Ensure replaced an existing ID: %q -> %q", id, id2)
	}
}
