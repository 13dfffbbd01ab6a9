package store

import (
	"reflect"
	"testing"
)

func TestMergeUserAddsFields(t *testing.T) {
	t.Parallel()

	analysis := map[string]any{
		"transcript": "hola",
		"user":       map[string]any{"userTags": []any{"a"}},
	}

	got := MergeUser(analysis, map[string]any{"userNotes": "x"})

	user, ok := got["user"].(map[string]any)
	if !ok {
		t.Fatalf("user block = %T", got["user"])
	}
	if !reflect.DeepEqual(user["userTags"], []any{"a"}) {
		t.Errorf("userTags = %v, want preserved", user["userTags"])
	}
	if user["userNotes"] != "x" {
		t.Errorf("userNotes = %v, want x", user["userNotes"])
	}
	if got["transcript"] != "hola" {
		t.Errorf("transcript = %v, want untouched", got["transcript"])
	}
}

func TestMergeUserIgnoresNil(t *testing.T) {
	t.Parallel()

	analysis := map[string]any{
		"user": map[string]any{"userTags": []any{"a"}, "status": "draft"},
	}

	got := MergeUser(analysis, map[string]any{"userTags": nil, "status": "reviewed"})

	user := got["user"].(map[string]any)
	if !reflect.DeepEqual(user["userTags"], []any{"a"}) {
		t.Errorf("userTags = %v, want not cleared by nil", user["userTags"])
	}
	if user["status"] != "reviewed" {
		t.Errorf("status = %v, want reviewed", user["status"])
	}
}

func TestMergeUserIdempotent(t *testing.T) {
	t.Parallel()

	analysis := map[string]any{"user": map[string]any{"userTags": []any{"a"}}}
	patch := map[string]any{"userNotes": "x"}

	once := MergeUser(analysis, patch)
	twice := MergeUser(once, patch)

	if !reflect.DeepEqual(once["user"], twice["user"]) {
		t.Errorf("merge not idempotent: %v vs %v", once["user"], twice["user"])
	}
}

func TestMergeUserCreatesBlock(t *testing.T) {
	t.Parallel()

	got := MergeUser(map[string]any{"transcript": "hola"}, map[string]any{"status": "readyToPublish"})

	user, ok := got["user"].(map[string]any)
	if !ok || user["status"] != "readyToPublish" {
		t.Fatalf("user = %v", got["user"])
	}
}

func TestMergeUserDoesNotAliasInput(t *testing.T) {
	t.Parallel()

	analysis := map[string]any{"user": map[string]any{"a": 1}}
	got := MergeUser(analysis, map[string]any{"b": 2})

	got["user"].(map[string]any)["a"] = 99
	if analysis["user"].(map[string]any)["a"] != 1 {
		t.Error("input analysis mutated through result")
	}
}

func TestMergeUserEmptyPatch(t *testing.T) {
	t.Parallel()

	got := MergeUser(map[string]any{}, nil)
	user, ok := got["user"].(map[string]any)
	if !ok || len(user) != 0 {
		t.Fatalf("user = %v, want empty block", got["user"])
	}
}

func TestInvitationsRemaining(t *testing.T) {
	t.Parallel()

	if got := (Profile{InvitationsGranted: 3, InvitationsUsed: 1}).InvitationsRemaining(); got != 2 {
		t.Errorf("remaining = %d, want 2", got)
	}
	if got := (Profile{InvitationsGranted: 1, InvitationsUsed: 5}).InvitationsRemaining(); got != 0 {
		t.Errorf("overdrawn remaining = %d, want 0", got)
	}
}
