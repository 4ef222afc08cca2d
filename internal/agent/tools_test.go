package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cortexgw/cortex/internal/fileset"
	"github.com/cortexgw/cortex/pkg/models"
)

type memUploader struct {
	mu    sync.Mutex
	blobs map[string][]byte
	next  int
}

func newMemUploader() *memUploader {
	return &memUploader{blobs: make(map[string][]byte)}
}

func (u *memUploader) Upload(_ context.Context, content []byte, _, _, contextID string) (fileset.UploadResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.next++
	url := fmt.Sprintf("mem://%s/%d", contextID, u.next)
	u.blobs[url] = append([]byte(nil), content...)
	return fileset.UploadResult{URL: url}, nil
}

func (u *memUploader) Download(_ context.Context, fileURL string) ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	content, ok := u.blobs[fileURL]
	if !ok {
		return nil, fmt.Errorf("no blob at %s", fileURL)
	}
	return content, nil
}

func (u *memUploader) Delete(_ context.Context, fileURL string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.blobs, fileURL)
	return nil
}

func newToolsetFixture(t *testing.T) *Toolset {
	t.Helper()
	mgr := fileset.NewManager(fileset.ManagerOptions{
		Store:    fileset.NewMemoryStore(),
		Uploader: newMemUploader(),
	})
	agentCtx := models.AgentContext{{ContextID: "user-1", Default: true}}
	return FileToolset(mgr, agentCtx, "chat-1")
}

func runTool(t *testing.T, ts *Toolset, name string, args map[string]any) map[string]any {
	t.Helper()
	b, ok := ts.Lookup(name)
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	out, err := b.Run(context.Background(), args)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("%s result is not JSON: %v", name, err)
	}
	if payload["success"] != true {
		t.Fatalf("%s result = %v, want success", name, payload)
	}
	result, _ := payload["result"].(map[string]any)
	return result
}

func TestFileToolset_Definitions(t *testing.T) {
	ts := newToolsetFixture(t)

	defs := ts.Definitions()
	want := []string{"write_file", "edit_file", "read_file", "list_files"}
	if len(defs) != len(want) {
		t.Fatalf("got %d definitions, want %d", len(defs), len(want))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("definitions[%d] = %q, want %q", i, defs[i].Name, name)
		}
		var schema map[string]any
		if err := json.Unmarshal(defs[i].Parameters, &schema); err != nil {
			t.Errorf("%s parameters not valid JSON: %v", name, err)
			continue
		}
		if schema["type"] != "object" {
			t.Errorf("%s schema type = %v", name, schema["type"])
		}
		if _, has := schema["$ref"]; has {
			t.Errorf("%s schema uses $ref, want inline", name)
		}
	}

	if _, ok := ts.Lookup("WRITE_FILE"); !ok {
		t.Error("lookup must be case-insensitive")
	}
}

func TestFileToolset_WriteReadList(t *testing.T) {
	ts := newToolsetFixture(t)

	wrote := runTool(t, ts, "write_file", map[string]any{
		"filename": "notes.txt",
		"content":  "first line\nsecond line",
		"tags":     []string{"meeting"},
	})
	fileID, _ := wrote["fileId"].(string)
	if fileID == "" {
		t.Fatalf("write_file result = %v, want a fileId", wrote)
	}

	read := runTool(t, ts, "read_file", map[string]any{"fileId": fileID})
	if read["content"] != "first line\nsecond line" {
		t.Errorf("read_file content = %q", read["content"])
	}

	listed := runTool(t, ts, "list_files", map[string]any{})
	files, _ := listed["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("list_files = %v, want one entry", listed)
	}
	entry, _ := files[0].(map[string]any)
	if entry["filename"] != "notes.txt" {
		t.Errorf("listed entry = %v", entry)
	}
}

func TestFileToolset_EditLineRange(t *testing.T) {
	ts := newToolsetFixture(t)

	wrote := runTool(t, ts, "write_file", map[string]any{
		"filename": "doc.txt",
		"content":  "a\nb\nc",
	})
	fileID := wrote["fileId"].(string)

	runTool(t, ts, "edit_file", map[string]any{
		"fileId":    fileID,
		"startLine": 2,
		"endLine":   2,
		"content":   "B",
	})

	read := runTool(t, ts, "read_file", map[string]any{"fileId": fileID})
	if read["content"] != "a\nB\nc" {
		t.Errorf("content after edit = %q, want a\\nB\\nc", read["content"])
	}
}

func TestFileToolset_ReadUnknownFileFails(t *testing.T) {
	ts := newToolsetFixture(t)
	b, _ := ts.Lookup("read_file")
	if _, err := b.Run(context.Background(), map[string]any{"fileId": "missing"}); err == nil {
		t.Fatal("reading an unknown file must fail")
	}
}

func TestFileToolset_BadArgumentShape(t *testing.T) {
	ts := newToolsetFixture(t)
	b, _ := ts.Lookup("write_file")
	_, err := b.Run(context.Background(), map[string]any{"filename": 42, "content": "x"})
	if err == nil || !strings.Contains(err.Error(), "contract") {
		t.Errorf("mis-typed arguments: err = %v, want contract violation", err)
	}
}
