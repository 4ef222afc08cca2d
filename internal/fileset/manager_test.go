package fileset

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/cortexgw/cortex/pkg/models"
)

// fakeUploader stores blobs in memory keyed by a synthetic URL.
type fakeUploader struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	uploads int
	failAt  int // fail the nth upload (1-based, 0 = never)
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{blobs: make(map[string][]byte)}
}

func (u *fakeUploader) Upload(ctx context.Context, content []byte, filename, hash, contextID string) (UploadResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploads++
	if u.failAt > 0 && u.uploads == u.failAt {
		return UploadResult{}, fmt.Errorf("upload rejected")
	}
	url := fmt.Sprintf("/files/%s-%d", hash, u.uploads)
	u.blobs[url] = append([]byte(nil), content...)
	return UploadResult{URL: url, Hash: hash}, nil
}

func (u *fakeUploader) Download(ctx context.Context, fileURL string) ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	content, ok := u.blobs[fileURL]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", fileURL)
	}
	return append([]byte(nil), content...), nil
}

func (u *fakeUploader) Delete(ctx context.Context, fileURL string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.blobs, fileURL)
	return nil
}

func (u *fakeUploader) has(fileURL string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.blobs[fileURL]
	return ok
}

func newTestManager(t *testing.T, uploader Uploader) *Manager {
	t.Helper()
	if uploader == nil {
		uploader = newFakeUploader()
	}
	return NewManager(ManagerOptions{
		Store:     NewMemoryStore(),
		Uploader:  uploader,
		SystemKey: "system-key",
	})
}

func TestManager_WriteAndLoad(t *testing.T) {
	m := newTestManager(t, nil)
	target := models.StorageContext{ContextID: "ctx-1", Default: true}

	rec, err := m.WriteFile(context.Background(), target, []byte("hello"), "hello.txt", "", []string{"greeting"}, "a note")
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if rec.Hash == "" || rec.URL == "" || rec.ID == "" {
		t.Fatalf("record incomplete: %+v", rec)
	}

	files, err := m.Load(context.Background(), models.AgentContext{target}, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(files) != 1 || files[0].Filename != "hello.txt" {
		t.Fatalf("loaded %+v, want one hello.txt", files)
	}
	if files[0].InCollection != nil {
		t.Error("fresh upload should have no collection membership")
	}
}

func TestManager_WriteFileDeduplicatesByHash(t *testing.T) {
	uploader := newFakeUploader()
	m := newTestManager(t, uploader)
	target := models.StorageContext{ContextID: "ctx-1", Default: true}

	first, err := m.WriteFile(context.Background(), target, []byte("same"), "a.txt", "", nil, "")
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	second, err := m.WriteFile(context.Background(), target, []byte("same"), "b.txt", "", nil, "")
	if err != nil {
		t.Fatalf("WriteFile duplicate: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("duplicate upload created a new record %s, want reuse of %s", second.ID, first.ID)
	}
	if !containsString(second.Aliases, "b.txt") {
		t.Errorf("aliases = %v, want b.txt appended", second.Aliases)
	}
	if uploader.uploads != 1 {
		t.Errorf("uploads = %d, want 1 (dedup skips the second)", uploader.uploads)
	}
}

func TestManager_LoadFilterByChatIDs(t *testing.T) {
	m := newTestManager(t, nil)
	sc := models.StorageContext{ContextID: "ctx-1", Default: true}

	save := func(name string, membership *models.Membership) {
		rec := models.FileRecord{ID: NewFileID(), Hash: ContentHash([]byte(name)), URL: "/f/" + name, Filename: name, InCollection: membership}
		if err := m.saveRecord(context.Background(), sc, rec); err != nil {
			t.Fatalf("saveRecord %s: %v", name, err)
		}
	}
	save("global.txt", models.GlobalMembership())
	save("scoped.txt", models.ScopedMembership("chat-1"))
	save("starred.txt", models.ScopedMembership("*"))
	save("other.txt", models.ScopedMembership("chat-2"))
	save("unreferenced.txt", nil)

	files, err := m.Load(context.Background(), models.AgentContext{sc}, &LoadFilter{ChatIDs: []string{"chat-1"}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var names []string
	for _, f := range files {
		names = append(names, f.Filename)
	}
	want := []string{"global.txt", "scoped.txt", "starred.txt"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("filtered files = %v, want %v", names, want)
	}
}

// Spec scenario: files referenced in chat history gain the chat's
// membership; each context keeps ownership of its own records, and
// unreferenced files stay without membership.
func TestManager_SyncAndStripCompoundContexts(t *testing.T) {
	m := newTestManager(t, nil)
	user := models.StorageContext{ContextID: "user-ctx", ContextKey: "k", Default: true}
	workspace := models.StorageContext{ContextID: "ws-ctx"}
	agentCtx := models.AgentContext{user, workspace}

	uf := models.FileRecord{ID: NewFileID(), Hash: "aaaa", URL: "/f/uf", Filename: "uf.txt"}
	wf := models.FileRecord{ID: NewFileID(), Hash: "bbbb", URL: "/f/wf", Filename: "wf.txt"}
	spare := models.FileRecord{ID: NewFileID(), Hash: "cccc", URL: "/f/spare", Filename: "spare.txt"}
	if err := m.saveRecord(context.Background(), user, uf); err != nil {
		t.Fatal(err)
	}
	if err := m.saveRecord(context.Background(), workspace, wf); err != nil {
		t.Fatal(err)
	}
	if err := m.saveRecord(context.Background(), workspace, spare); err != nil {
		t.Fatal(err)
	}

	history := []models.ChatMessage{
		{Role: models.RoleUser, Content: models.PartsContent(
			models.TextPart("look at these"),
			models.FilePart("/f/uf", "aaaa", "uf.txt"),
			models.FilePart("/f/wf", "bbbb", "wf.txt"),
		)},
	}

	rewritten, resolved, err := m.SyncAndStrip(context.Background(), history, agentCtx, "chat-c")
	if err != nil {
		t.Fatalf("SyncAndStrip: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("resolved %d records, want 2", len(resolved))
	}

	// File parts are replaced with placeholders.
	parts := rewritten[0].Content.Parts
	for _, p := range parts[1:] {
		if p.Type != models.PartText || !strings.Contains(p.Text, "available via file tools") {
			t.Errorf("part %+v, want placeholder text", p)
		}
	}

	// Both records now carry the chat membership, in their own contexts.
	for _, tc := range []struct {
		sc   models.StorageContext
		hash string
	}{{user, "aaaa"}, {workspace, "bbbb"}} {
		rec, err := m.getRecord(context.Background(), tc.sc, tc.hash)
		if err != nil {
			t.Fatalf("getRecord %s: %v", tc.hash, err)
		}
		if !rec.InCollection.Matches([]string{"chat-c"}) {
			t.Errorf("record %s membership = %+v, want chat-c", tc.hash, rec.InCollection)
		}
	}

	// The unreferenced file keeps no membership.
	rec, err := m.getRecord(context.Background(), workspace, "cccc")
	if err != nil {
		t.Fatalf("getRecord spare: %v", err)
	}
	if rec.InCollection != nil {
		t.Errorf("unreferenced record membership = %+v, want none", rec.InCollection)
	}
}

func TestManager_SyncAndStripInsertsUnknownFiles(t *testing.T) {
	m := newTestManager(t, nil)
	target := models.StorageContext{ContextID: "ctx-1", Default: true}

	history := []models.ChatMessage{
		{Role: models.RoleUser, Content: models.PartsContent(
			models.FilePart("https://blobs/new", "ffff", "new.txt"),
		)},
	}
	_, resolved, err := m.SyncAndStrip(context.Background(), history, models.AgentContext{target}, "chat-1")
	if err != nil {
		t.Fatalf("SyncAndStrip: %v", err)
	}
	if len(resolved) != 1 {
		t.Fatalf("resolved %d records, want 1", len(resolved))
	}
	rec, err := m.getRecord(context.Background(), target, "ffff")
	if err != nil {
		t.Fatalf("inserted record missing: %v", err)
	}
	if !rec.InCollection.Matches([]string{"chat-1"}) {
		t.Errorf("membership = %+v, want chat-1", rec.InCollection)
	}
}

func TestManager_EditFileLineRange(t *testing.T) {
	uploader := newFakeUploader()
	m := newTestManager(t, uploader)
	target := models.StorageContext{ContextID: "ctx-1", Default: true}
	agentCtx := models.AgentContext{target}

	rec, err := m.WriteFile(context.Background(), target, []byte("L1\nL2\nL3"), "a.txt", "", nil, "")
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	edited, err := m.EditFile(context.Background(), agentCtx, rec.ID, EditOp{StartLine: 2, EndLine: 2, Content: "L2:edited"})
	if err != nil {
		t.Fatalf("EditFile: %v", err)
	}
	content, err := m.ReadFile(context.Background(), edited)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(content) != "L1\nL2:edited\nL3" {
		t.Errorf("content = %q", content)
	}
	if edited.ID != rec.ID {
		t.Errorf("edit changed the file id %s -> %s", rec.ID, edited.ID)
	}
}

func TestManager_EditFileSearchReplace(t *testing.T) {
	m := newTestManager(t, nil)
	target := models.StorageContext{ContextID: "ctx-1", Default: true}
	agentCtx := models.AgentContext{target}

	rec, err := m.WriteFile(context.Background(), target, []byte("foo bar foo"), "a.txt", "", nil, "")
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	edited, err := m.EditFile(context.Background(), agentCtx, rec.ID, EditOp{OldString: "foo", NewString: "baz", ReplaceAll: true})
	if err != nil {
		t.Fatalf("EditFile: %v", err)
	}
	content, _ := m.ReadFile(context.Background(), edited)
	if string(content) != "baz bar baz" {
		t.Errorf("content = %q, want all occurrences replaced", content)
	}
}

// Spec scenario: concurrent edits on one file id serialize in submission
// order with no lost updates.
func TestManager_ConcurrentEditsSerialize(t *testing.T) {
	m := newTestManager(t, nil)
	target := models.StorageContext{ContextID: "ctx-1", Default: true}
	agentCtx := models.AgentContext{target}

	rec, err := m.WriteFile(context.Background(), target, []byte("L1\nL2\nL3\nL4\nL5"), "a.txt", "", nil, "")
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// Submit the four edits in order; each call enqueues before the next
	// is submitted, then all run concurrently against the queue.
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		line := i + 1
		suffix := string(rune('A' + i))
		wg.Add(1)
		done := make(chan struct{})
		go func(i int) {
			defer wg.Done()
			close(done)
			_, errs[i] = m.EditFile(context.Background(), agentCtx, rec.ID, EditOp{
				StartLine: line,
				EndLine:   line,
				Content:   fmt.Sprintf("L%d:%s", line, suffix),
			})
		}(i)
		<-done
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("edit %d: %v", i, err)
		}
	}

	final, _, err := m.findRecord(context.Background(), agentCtx, rec.ID)
	if err != nil {
		t.Fatalf("findRecord: %v", err)
	}
	content, err := m.ReadFile(context.Background(), final)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(content) != "L1:A\nL2:B\nL3:C\nL4:D\nL5" {
		t.Errorf("final content = %q", content)
	}
}

// Spec invariant: the pre-edit file stays reachable when the replacement
// upload fails.
func TestManager_EditUploadFailureKeepsOldFile(t *testing.T) {
	uploader := newFakeUploader()
	m := newTestManager(t, uploader)
	target := models.StorageContext{ContextID: "ctx-1", Default: true}
	agentCtx := models.AgentContext{target}

	rec, err := m.WriteFile(context.Background(), target, []byte("original"), "a.txt", "", nil, "")
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	uploader.failAt = 2 // the edit's replacement upload

	if _, err := m.EditFile(context.Background(), agentCtx, rec.ID, EditOp{OldString: "original", NewString: "changed"}); err == nil {
		t.Fatal("EditFile succeeded, want upload failure")
	}

	// Record and blob are untouched.
	current, _, err := m.findRecord(context.Background(), agentCtx, rec.ID)
	if err != nil {
		t.Fatalf("findRecord after failed edit: %v", err)
	}
	if current.URL != rec.URL {
		t.Errorf("record url changed %s -> %s on failed edit", rec.URL, current.URL)
	}
	if !uploader.has(rec.URL) {
		t.Error("old blob deleted despite failed upload")
	}
	content, err := m.ReadFile(context.Background(), current)
	if err != nil || string(content) != "original" {
		t.Errorf("content = %q, %v; want original intact", content, err)
	}
}

func TestManager_EditFileBadRange(t *testing.T) {
	m := newTestManager(t, nil)
	target := models.StorageContext{ContextID: "ctx-1", Default: true}
	agentCtx := models.AgentContext{target}

	rec, err := m.WriteFile(context.Background(), target, []byte("one\ntwo"), "a.txt", "", nil, "")
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := m.EditFile(context.Background(), agentCtx, rec.ID, EditOp{StartLine: 5, EndLine: 9, Content: "x"}); err == nil {
		t.Error("out-of-bounds range accepted")
	}
	if _, err := m.EditFile(context.Background(), agentCtx, rec.ID, EditOp{OldString: "missing"}); err == nil {
		t.Error("absent oldString accepted")
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func TestManager_WriteFileScopesToChat(t *testing.T) {
	m := newTestManager(t, nil)
	target := models.StorageContext{ContextID: "ctx-1", Default: true}
	agentCtx := models.AgentContext{target}

	rec, err := m.WriteFile(context.Background(), target, []byte("draft"), "draft.txt", "chat-1", nil, "")
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if !rec.InCollection.Matches([]string{"chat-1"}) {
		t.Fatalf("membership %+v does not admit the writing chat", rec.InCollection)
	}

	visible, err := m.Load(context.Background(), agentCtx, &LoadFilter{ChatIDs: []string{"chat-1"}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(visible) != 1 || visible[0].Filename != "draft.txt" {
		t.Fatalf("chat-1 sees %+v, want its own file", visible)
	}

	other, err := m.Load(context.Background(), agentCtx, &LoadFilter{ChatIDs: []string{"chat-2"}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("chat-2 sees %+v, want nothing", other)
	}

	// Re-writing the same content from another chat widens membership.
	if _, err := m.WriteFile(context.Background(), target, []byte("draft"), "draft.txt", "chat-2", nil, ""); err != nil {
		t.Fatalf("WriteFile dedup: %v", err)
	}
	other, err = m.Load(context.Background(), agentCtx, &LoadFilter{ChatIDs: []string{"chat-2"}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(other) != 1 {
		t.Fatalf("chat-2 sees %+v after dedup write, want the shared file", other)
	}
}
