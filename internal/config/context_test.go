package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestContext_IsEmpty(t *testing.T) {
	tests := []struct {
		name string
		ctx  Context
		want bool
	}{
		{name: "empty context", ctx: Context{}, want: true},
		{name: "opportunity", ctx: Context{OpportunityID: 42}, want: false},
		{name: "reference only", ctx: Context{ContactReference: "+5491155550000"}, want: false},
		{name: "blank reference", ctx: Context{ContactReference: "   "}, want: true},
		{name: "owner only", ctx: Context{OwnerID: 7}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ctx.IsEmpty(); got != tt.want {
				t.Errorf("Context.IsEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContext_String(t *testing.T) {
	tests := []struct {
		name string
		ctx  Context
		want string
	}{
		{name: "empty", ctx: Context{}, want: "(none)"},
		{name: "named", ctx: Context{OpportunityID: 42, DisplayName: "Ana Pérez"}, want: "Ana Pérez"},
		{name: "opportunity without name", ctx: Context{OpportunityID: 42}, want: "opportunity 42"},
		{name: "contact without name", ctx: Context{ContactID: 9}, want: "contact 9"},
		{name: "reference", ctx: Context{ContactReference: "ana@example.com"}, want: "ana@example.com"},
		{name: "with owner", ctx: Context{ContactID: 9, OwnerID: 3}, want: "contact 9 owner:3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ctx.String(); got != tt.want {
				t.Errorf("Context.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContext_SetConversationReplacesSelection(t *testing.T) {
	ctx := &Context{OwnerID: 3}
	ctx.SetConversation(42, 9, "", "Ana")
	ctx.SetConversation(0, 0, "  +5491155550000 ", "")

	if ctx.OpportunityID != 0 || ctx.ContactID != 0 {
		t.Errorf("stale identifiers kept: %+v", ctx)
	}
	if ctx.ContactReference != "+5491155550000" {
		t.Errorf("ContactReference = %q, want trimmed reference", ctx.ContactReference)
	}
	if ctx.OwnerID != 3 {
		t.Errorf("OwnerID = %d, want 3", ctx.OwnerID)
	}

	ctx.ClearConversation()
	if ctx.HasConversation() {
		t.Errorf("conversation not cleared")
	}
	if ctx.OwnerID != 3 {
		t.Errorf("owner should survive ClearConversation")
	}
}

func TestContextStore_SaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewContextStore(filepath.Join(tmpDir, "nested", "context.yaml"))

	ctx := &Context{}
	ctx.SetConversation(42, 9, "ana@example.com", "Ana")
	ctx.SetOwner(3)

	if err := store.Save(ctx); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.OpportunityID != 42 || loaded.ContactID != 9 || loaded.OwnerID != 3 {
		t.Errorf("loaded ids = %+v", loaded)
	}
	if loaded.ContactReference != "ana@example.com" || loaded.DisplayName != "Ana" {
		t.Errorf("loaded labels = %+v", loaded)
	}
}

func TestContextStore_LoadMissing(t *testing.T) {
	store := NewContextStore(filepath.Join(t.TempDir(), "missing.yaml"))

	ctx, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !ctx.IsEmpty() {
		t.Errorf("expected empty context, got %+v", ctx)
	}
}

func TestContextStore_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.yaml")
	if err := os.WriteFile(path, []byte("opportunity_id: [not a number"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewContextStore(path).Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestContextStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.yaml")
	store := NewContextStore(path)

	if err := store.Save(&Context{OpportunityID: 1}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("context file still exists")
	}
	if err := store.Clear(); err != nil {
		t.Errorf("Clear() on missing file error = %v", err)
	}
}
