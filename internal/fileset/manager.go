package fileset

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cortexgw/cortex/internal/media"
	"github.com/cortexgw/cortex/internal/observability"
	"github.com/cortexgw/cortex/pkg/models"
)

// LoadFilter narrows Load to records visible to the given chats.
type LoadFilter struct {
	ChatIDs []string
}

// EditOp describes one file edit: either a 1-based inclusive line-range
// replace (StartLine/EndLine/Content, empty Content deletes the range)
// or a search/replace (OldString/NewString, first occurrence unless
// ReplaceAll).
type EditOp struct {
	StartLine int    `json:"startLine,omitempty"`
	EndLine   int    `json:"endLine,omitempty"`
	Content   string `json:"content,omitempty"`

	OldString  string `json:"oldString,omitempty"`
	NewString  string `json:"newString,omitempty"`
	ReplaceAll bool   `json:"replaceAll,omitempty"`
}

func (op EditOp) isLineEdit() bool { return op.StartLine > 0 || op.EndLine > 0 }

// ManagerOptions wires a Manager.
type ManagerOptions struct {
	Store    Store
	Uploader Uploader

	// SystemKey is the global encryption passphrase. Empty stores records
	// in plaintext.
	SystemKey string

	// CacheTTL bounds the per-context list cache. Zero disables caching.
	CacheTTL time.Duration

	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// Manager owns the file-collection operations: loading merged context
// views, syncing chat history references, writes, and serialized edits.
type Manager struct {
	store     Store
	uploader  Uploader
	systemKey string
	metrics   *observability.Metrics
	logger    *observability.Logger

	mu     sync.Mutex
	queues map[string]*editQueue
}

// NewManager builds a Manager from options. Store and Uploader are
// required.
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		store:     newCachedStore(opts.Store, opts.CacheTTL),
		uploader:  opts.Uploader,
		systemKey: opts.SystemKey,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		queues:    make(map[string]*editQueue),
	}
}

// Load returns the merged file list across the agent's contexts in
// context order. With a filter, only records whose membership admits one
// of the filter's chat ids survive. Records that fail decryption or
// decoding are skipped.
func (m *Manager) Load(ctx context.Context, agentCtx models.AgentContext, filter *LoadFilter) ([]models.FileRecord, error) {
	var out []models.FileRecord
	for _, sc := range agentCtx {
		records, err := m.loadContext(ctx, sc)
		if err != nil {
			m.countOp("load", "error")
			return nil, err
		}
		for _, rec := range records {
			if filter != nil && len(filter.ChatIDs) > 0 && !rec.InCollection.Matches(filter.ChatIDs) {
				continue
			}
			out = append(out, rec)
		}
	}
	m.countOp("load", "success")
	return out, nil
}

// SyncAndStrip walks a chat history, upserts every referenced file into
// its collection with the chat id added to its membership, and replaces
// file parts with textual placeholders. Files already known to any of
// the agent's contexts are updated in place; unknown files are inserted
// into the write target. Returns the rewritten history and the resolved
// records.
func (m *Manager) SyncAndStrip(ctx context.Context, history []models.ChatMessage, agentCtx models.AgentContext, chatID string) ([]models.ChatMessage, []models.FileRecord, error) {
	target, ok := agentCtx.WriteTarget()
	if !ok {
		return nil, nil, ErrNoWriteContext
	}

	index, err := m.buildIndex(ctx, agentCtx)
	if err != nil {
		m.countOp("sync", "error")
		return nil, nil, err
	}

	out := models.CloneHistory(history)
	var resolved []models.FileRecord
	seen := make(map[string]bool)

	for mi := range out {
		parts := out[mi].Content.Parts
		for pi := range parts {
			if parts[pi].Type != models.PartFile {
				continue
			}
			part := parts[pi]

			entry := index.lookup(part)
			if entry == nil {
				rec := recordFromPart(part)
				rec.InCollection = models.ScopedMembership(chatID)
				if err := m.saveRecord(ctx, target, rec); err != nil {
					m.countOp("sync", "error")
					return nil, nil, err
				}
				entry = index.add(rec, target)
			} else {
				if entry.record.InCollection == nil {
					entry.record.InCollection = models.ScopedMembership(chatID)
				} else {
					entry.record.InCollection.Add(chatID)
				}
				if err := m.saveRecord(ctx, entry.context, entry.record); err != nil {
					m.countOp("sync", "error")
					return nil, nil, err
				}
			}

			parts[pi] = models.TextPart(entry.record.Placeholder())
			if !seen[entry.record.Hash] {
				seen[entry.record.Hash] = true
				resolved = append(resolved, entry.record)
			}
		}
	}

	m.countOp("sync", "success")
	return out, resolved, nil
}

// WriteFile uploads content to the file handler and records it in the
// target context, scoped to chatID when one is given so the file is
// visible to later listings in that chat. Re-uploading identical content
// reuses the existing record, appending the new filename as an alias.
func (m *Manager) WriteFile(ctx context.Context, target models.StorageContext, content []byte, filename, chatID string, tags []string, notes string) (models.FileRecord, error) {
	hash := ContentHash(content)

	if existing, err := m.getRecord(ctx, target, hash); err == nil {
		if filename != "" && filename != existing.Filename && !contains(existing.Aliases, filename) {
			existing.Aliases = append(existing.Aliases, filename)
		}
		if notes != "" {
			existing.Notes = notes
		}
		for _, tag := range tags {
			if !contains(existing.Tags, tag) {
				existing.Tags = append(existing.Tags, tag)
			}
		}
		if chatID != "" {
			if existing.InCollection == nil {
				existing.InCollection = models.ScopedMembership(chatID)
			} else {
				existing.InCollection.Add(chatID)
			}
		}
		if err := m.saveRecord(ctx, target, existing); err != nil {
			m.countOp("write", "error")
			return models.FileRecord{}, err
		}
		m.countOp("write", "success")
		return existing, nil
	}

	res, err := m.uploader.Upload(ctx, content, filename, hash, target.ContextID)
	if err != nil {
		m.countOp("write", "error")
		return models.FileRecord{}, fmt.Errorf("upload %s: %w", filename, err)
	}
	if res.Hash != "" {
		hash = res.Hash
	}

	rec := models.FileRecord{
		ID:        NewFileID(),
		Hash:      hash,
		URL:       res.URL,
		GCS:       res.GCS,
		Filename:  filename,
		MimeType:  media.DetectMime(filename, content),
		Size:      int64(len(content)),
		Timestamp: time.Now().UTC(),
		Tags:      tags,
		Notes:     notes,
	}
	if chatID != "" {
		rec.InCollection = models.ScopedMembership(chatID)
	}
	if err := m.saveRecord(ctx, target, rec); err != nil {
		m.countOp("write", "error")
		return models.FileRecord{}, err
	}
	m.countOp("write", "success")
	return rec, nil
}

// EditFile applies op to the file identified by fileID in any of the
// agent's contexts. Edits on one fileID run in submission order; the
// call returns once its edit has been applied. The previous version
// stays reachable until the replacement upload succeeds.
func (m *Manager) EditFile(ctx context.Context, agentCtx models.AgentContext, fileID string, op EditOp) (models.FileRecord, error) {
	type result struct {
		rec models.FileRecord
		err error
	}
	done := make(chan result, 1)

	m.enqueue(fileID, func() {
		if err := ctx.Err(); err != nil {
			done <- result{err: err}
			return
		}
		rec, err := m.applyEdit(ctx, agentCtx, fileID, op)
		done <- result{rec: rec, err: err}
	})

	r := <-done
	if r.err != nil {
		m.countOp("edit", "error")
		return models.FileRecord{}, r.err
	}
	m.countOp("edit", "success")
	return r.rec, nil
}

// ReadFile downloads the current content of a record.
func (m *Manager) ReadFile(ctx context.Context, rec models.FileRecord) ([]byte, error) {
	return m.uploader.Download(ctx, rec.URL)
}

func (m *Manager) applyEdit(ctx context.Context, agentCtx models.AgentContext, fileID string, op EditOp) (models.FileRecord, error) {
	rec, owner, err := m.findRecord(ctx, agentCtx, fileID)
	if err != nil {
		return models.FileRecord{}, err
	}

	content, err := m.uploader.Download(ctx, rec.URL)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("download %s: %w", rec.Filename, err)
	}

	edited, err := applyEditOp(string(content), op)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("edit %s: %w", rec.Filename, err)
	}

	// Upload the new version first. If it fails the record is untouched
	// and the previous version stays reachable under the same file id.
	newHash := ContentHash([]byte(edited))
	res, err := m.uploader.Upload(ctx, []byte(edited), rec.Filename, newHash, owner.ContextID)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("upload edited %s: %w", rec.Filename, err)
	}

	oldURL := rec.URL
	oldHash := rec.Hash
	rec.URL = res.URL
	rec.GCS = res.GCS
	rec.Hash = newHash
	if res.Hash != "" {
		rec.Hash = res.Hash
	}
	rec.Size = int64(len(edited))
	rec.Timestamp = time.Now().UTC()

	if err := m.saveRecord(ctx, owner, rec); err != nil {
		return models.FileRecord{}, err
	}
	if oldHash != rec.Hash {
		if err := m.store.Delete(ctx, owner.ContextID, oldHash); err != nil && err != ErrNotFound {
			m.warn(ctx, "drop superseded record", "fileId", fileID, "error", err)
		}
	}
	if oldURL != rec.URL {
		if err := m.uploader.Delete(ctx, oldURL); err != nil {
			m.warn(ctx, "delete superseded blob", "fileId", fileID, "url", oldURL, "error", err)
		}
	}
	return rec, nil
}

// applyEditOp applies one edit to file content.
func applyEditOp(content string, op EditOp) (string, error) {
	if op.isLineEdit() {
		lines := strings.Split(content, "\n")
		if op.StartLine < 1 || op.EndLine < op.StartLine || op.EndLine > len(lines) {
			return "", fmt.Errorf("line range %d-%d out of bounds (file has %d lines)", op.StartLine, op.EndLine, len(lines))
		}
		out := make([]string, 0, len(lines))
		out = append(out, lines[:op.StartLine-1]...)
		if op.Content != "" {
			out = append(out, strings.Split(op.Content, "\n")...)
		}
		out = append(out, lines[op.EndLine:]...)
		return strings.Join(out, "\n"), nil
	}

	if op.OldString == "" {
		return "", fmt.Errorf("edit requires a line range or oldString")
	}
	if !strings.Contains(content, op.OldString) {
		return "", fmt.Errorf("oldString not found")
	}
	if op.ReplaceAll {
		return strings.ReplaceAll(content, op.OldString, op.NewString), nil
	}
	return strings.Replace(content, op.OldString, op.NewString, 1), nil
}

// findRecord locates a record by file id across the agent's contexts.
func (m *Manager) findRecord(ctx context.Context, agentCtx models.AgentContext, fileID string) (models.FileRecord, models.StorageContext, error) {
	for _, sc := range agentCtx {
		records, err := m.loadContext(ctx, sc)
		if err != nil {
			return models.FileRecord{}, models.StorageContext{}, err
		}
		for _, rec := range records {
			if rec.ID == fileID {
				return rec, sc, nil
			}
		}
	}
	return models.FileRecord{}, models.StorageContext{}, fmt.Errorf("file %s: %w", fileID, ErrNotFound)
}

// loadContext lists and decodes one context's records, sorted by
// filename for deterministic output.
func (m *Manager) loadContext(ctx context.Context, sc models.StorageContext) ([]models.FileRecord, error) {
	payloads, err := m.store.List(ctx, sc.ContextID)
	if err != nil {
		return nil, fmt.Errorf("list context %s: %w", sc.ContextID, err)
	}
	records := make([]models.FileRecord, 0, len(payloads))
	for hash, payload := range payloads {
		plain, err := DecryptRecord(payload, m.systemKey, sc.ContextKey)
		if err != nil {
			m.warn(ctx, "skip undecryptable record", "contextId", sc.ContextID, "hash", hash, "error", err)
			continue
		}
		var rec models.FileRecord
		if err := json.Unmarshal([]byte(plain), &rec); err != nil {
			m.warn(ctx, "skip undecodable record", "contextId", sc.ContextID, "hash", hash, "error", err)
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Filename < records[j].Filename })
	return records, nil
}

func (m *Manager) getRecord(ctx context.Context, sc models.StorageContext, hash string) (models.FileRecord, error) {
	payload, err := m.store.Get(ctx, sc.ContextID, hash)
	if err != nil {
		return models.FileRecord{}, err
	}
	plain, err := DecryptRecord(payload, m.systemKey, sc.ContextKey)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("decrypt record %s: %w", hash, err)
	}
	var rec models.FileRecord
	if err := json.Unmarshal([]byte(plain), &rec); err != nil {
		return models.FileRecord{}, fmt.Errorf("decode record %s: %w", hash, err)
	}
	return rec, nil
}

func (m *Manager) saveRecord(ctx context.Context, sc models.StorageContext, rec models.FileRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	payload, err := EncryptRecord(string(data), m.systemKey, sc.ContextKey)
	if err != nil {
		return fmt.Errorf("encrypt record %s: %w", rec.ID, err)
	}
	if err := m.store.Put(ctx, sc.ContextID, rec.Hash, payload); err != nil {
		return fmt.Errorf("store record %s: %w", rec.ID, err)
	}
	return nil
}

// recordFromPart builds a record for a file reference seen in chat
// history but absent from every context.
func recordFromPart(part models.ContentPart) models.FileRecord {
	filename := part.Filename
	if filename == "" {
		filename = "untitled"
	}
	return models.FileRecord{
		ID:        NewFileID(),
		Hash:      part.Hash,
		URL:       part.URL,
		GCS:       part.GCS,
		Filename:  filename,
		Timestamp: time.Now().UTC(),
	}
}

func (m *Manager) countOp(op, status string) {
	if m.metrics != nil {
		m.metrics.FilesetOpCounter.WithLabelValues(op, status).Inc()
	}
}

func (m *Manager) warn(ctx context.Context, msg string, args ...any) {
	if m.logger != nil {
		m.logger.Warn(ctx, msg, args...)
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
