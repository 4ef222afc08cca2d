package pathway

import (
	"testing"
)

func mustCompile(t *testing.T, spec Spec) *Pathway {
	t.Helper()
	p, err := Compile(spec)
	if err != nil {
		t.Fatalf("Compile(%q) error = %v", spec.Name, err)
	}
	return p
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry(nil)

	t.Run("register and get", func(t *testing.T) {
		p := mustCompile(t, Spec{Name: "summarize", Model: "gpt-4o", Template: "{{text}}"})
		if err := r.Register(p); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		got, ok := r.Get("summarize")
		if !ok {
			t.Fatal("pathway should exist after register")
		}
		if got.Name != "summarize" {
			t.Errorf("Name = %q, want %q", got.Name, "summarize")
		}
	})

	t.Run("identical re-register is a no-op", func(t *testing.T) {
		p := mustCompile(t, Spec{Name: "summarize", Model: "gpt-4o", Template: "{{text}}"})
		if err := r.Register(p); err != nil {
			t.Errorf("identical registration should succeed, got %v", err)
		}
	})

	t.Run("conflicting re-register fails", func(t *testing.T) {
		p := mustCompile(t, Spec{Name: "summarize", Model: "gpt-4o-mini", Template: "{{text}}"})
		if err := r.Register(p); err == nil {
			t.Error("expected error for conflicting fingerprint")
		}
	})

	t.Run("case-insensitive name collision fails", func(t *testing.T) {
		p := mustCompile(t, Spec{Name: "SUMMARIZE", Model: "gpt-4o", Template: "{{text}}"})
		if err := r.Register(p); err == nil {
			t.Error("expected error for case-insensitive collision")
		}
	})

	t.Run("nil pathway fails", func(t *testing.T) {
		if err := r.Register(nil); err == nil {
			t.Error("expected error for nil pathway")
		}
	})
}

func TestRegistryUpsert(t *testing.T) {
	r := NewRegistry(nil)

	first := mustCompile(t, Spec{Name: "extract", Model: "gpt-4o", Template: "v1 {{text}}"})
	if err := r.Upsert(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := mustCompile(t, Spec{Name: "extract", Model: "gpt-4o", Template: "v2 {{text}}"})
	if err := r.Upsert(second); err != nil {
		t.Fatalf("upsert should replace, got %v", err)
	}

	got, _ := r.Get("extract")
	if got.Fingerprint != second.Fingerprint {
		t.Error("upsert should have replaced the pathway")
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry(nil)
	p := mustCompile(t, Spec{Name: "tmp", Model: "gpt-4o", Template: "{{text}}"})
	if err := r.Register(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !r.Unregister("tmp") {
		t.Error("expected true for existing pathway")
	}
	if _, ok := r.Get("tmp"); ok {
		t.Error("pathway should not exist after unregister")
	}
	if r.Unregister("tmp") {
		t.Error("expected false for missing pathway")
	}
}

func TestRegistryResolveTool(t *testing.T) {
	r := NewRegistry(nil)
	p := mustCompile(t, Spec{Name: "sys_tool_Write_File", Model: "gpt-4o", Template: "{{text}}"})
	if err := r.Register(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name     string
		toolName string
		found    bool
	}{
		{name: "exact case", toolName: "Write_File", found: true},
		{name: "lower case", toolName: "write_file", found: true},
		{name: "upper case", toolName: "WRITE_FILE", found: true},
		{name: "unknown tool", toolName: "read_file", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.ResolveTool(tt.toolName)
			if ok != tt.found {
				t.Fatalf("ResolveTool(%q) found = %v, want %v", tt.toolName, ok, tt.found)
			}
			if ok && got.Name != "sys_tool_Write_File" {
				t.Errorf("resolved wrong pathway: %q", got.Name)
			}
		})
	}
}

func TestRegistryAliases(t *testing.T) {
	r := NewRegistry(nil)

	first := mustCompile(t, Spec{
		Name: "chat-a", Model: "gpt-4o", Template: "{{text}}",
		EmulateOpenAIChatModel: "cortex-chat",
	})
	second := mustCompile(t, Spec{
		Name: "chat-b", Model: "gpt-4o", Template: "{{text}}",
		EmulateOpenAIChatModel: "cortex-chat",
	})

	if err := r.Register(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Register(second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// First registration wins the alias.
	got, ok := r.ResolveAlias("cortex-chat")
	if !ok {
		t.Fatal("alias should resolve")
	}
	if got.Name != "chat-a" {
		t.Errorf("alias resolved to %q, want %q", got.Name, "chat-a")
	}

	aliases := r.Aliases()
	if aliases["cortex-chat"] != "chat-a" {
		t.Errorf("Aliases() = %v", aliases)
	}

	// Removing the owner frees the alias.
	r.Unregister("chat-a")
	if _, ok := r.ResolveAlias("cortex-chat"); ok {
		t.Error("alias should not resolve after owner unregistered")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry(nil)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		p := mustCompile(t, Spec{Name: name, Model: "gpt-4o", Template: "{{text}}"})
		if err := r.Register(p); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List() returned %d pathways, want 3", len(list))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, p := range list {
		if p.Name != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, p.Name, want[i])
		}
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

func TestRegistryReplaceFromDir(t *testing.T) {
	r := NewRegistry(nil)

	// A code-registered pathway that reloads must never remove.
	code := mustCompile(t, Spec{Name: "builtin", Model: "gpt-4o", Template: "{{text}}"})
	if err := r.Register(code); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fromFile := func(name, template, path string) *Pathway {
		p := mustCompile(t, Spec{Name: name, Model: "gpt-4o", Template: template})
		p.SourcePath = path
		return p
	}

	// Initial load: two file pathways.
	initial := []*Pathway{
		fromFile("file-a", "v1 {{text}}", "/etc/pathways/a.yaml"),
		fromFile("file-b", "v1 {{text}}", "/etc/pathways/b.yaml"),
	}
	if err := r.ReplaceFromDir(initial); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}

	// Reload: file-a updated, file-b removed, file-c added.
	reload := []*Pathway{
		fromFile("file-a", "v2 {{text}}", "/etc/pathways/a.yaml"),
		fromFile("file-c", "v1 {{text}}", "/etc/pathways/c.yaml"),
	}
	if err := r.ReplaceFromDir(reload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := r.Get("file-b"); ok {
		t.Error("file-b should be removed after reload")
	}
	if _, ok := r.Get("file-c"); !ok {
		t.Error("file-c should be registered after reload")
	}
	if got, _ := r.Get("file-a"); got.Fingerprint != reload[0].Fingerprint {
		t.Error("file-a should be replaced with the new version")
	}
	if _, ok := r.Get("builtin"); !ok {
		t.Error("code-registered pathway must survive reloads")
	}

	// A file pathway may not shadow a code-registered one.
	shadow := []*Pathway{fromFile("builtin", "{{text}}", "/etc/pathways/builtin.yaml")}
	if err := r.ReplaceFromDir(shadow); err == nil {
		t.Error("expected error when file pathway shadows code-registered one")
	}
}
