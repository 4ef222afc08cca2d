package fileset

import (
	"context"

	"github.com/cortexgw/cortex/pkg/models"
)

// editQueue serializes mutations on one file id. Jobs run in submission
// order on a single worker goroutine; the worker exits when its queue
// drains and a later enqueue starts a fresh one.
type editQueue struct {
	jobs    []func()
	running bool
}

// enqueue schedules fn on the fileID's queue, starting a worker if none
// is draining it.
func (m *Manager) enqueue(fileID string, fn func()) {
	m.mu.Lock()
	q := m.queues[fileID]
	if q == nil {
		q = &editQueue{}
		m.queues[fileID] = q
	}
	q.jobs = append(q.jobs, fn)
	if m.metrics != nil {
		m.metrics.FilesetQueueDepth.Inc()
	}
	if q.running {
		m.mu.Unlock()
		return
	}
	q.running = true
	m.mu.Unlock()

	go m.drain(fileID, q)
}

func (m *Manager) drain(fileID string, q *editQueue) {
	for {
		m.mu.Lock()
		if len(q.jobs) == 0 {
			q.running = false
			delete(m.queues, fileID)
			m.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		m.mu.Unlock()

		job()
		if m.metrics != nil {
			m.metrics.FilesetQueueDepth.Dec()
		}
	}
}

// indexEntry pairs a record with the context that owns it.
type indexEntry struct {
	record  models.FileRecord
	context models.StorageContext
}

// syncIndex resolves file parts seen in chat history to known records.
// Keys are the identifying fields a part may carry: url, gcs, and hash.
type syncIndex struct {
	byKey map[string]*indexEntry
}

// buildIndex loads every context of the agent and indexes its records.
// Earlier contexts win key collisions, matching Load's merge order.
func (m *Manager) buildIndex(ctx context.Context, agentCtx models.AgentContext) (*syncIndex, error) {
	idx := &syncIndex{byKey: make(map[string]*indexEntry)}
	for i := len(agentCtx) - 1; i >= 0; i-- {
		sc := agentCtx[i]
		records, err := m.loadContext(ctx, sc)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			idx.add(rec, sc)
		}
	}
	return idx, nil
}

// lookup resolves a file part against the index, trying hash, then url,
// then gcs.
func (x *syncIndex) lookup(part models.ContentPart) *indexEntry {
	for _, key := range partKeys(part) {
		if e, ok := x.byKey[key]; ok {
			return e
		}
	}
	return nil
}

// add indexes a record under every identifying key it carries.
func (x *syncIndex) add(rec models.FileRecord, sc models.StorageContext) *indexEntry {
	e := &indexEntry{record: rec, context: sc}
	for _, key := range recordKeys(rec) {
		x.byKey[key] = e
	}
	return e
}

func partKeys(part models.ContentPart) []string {
	var keys []string
	if part.Hash != "" {
		keys = append(keys, "hash:"+part.Hash)
	}
	if part.URL != "" {
		keys = append(keys, "url:"+part.URL)
	}
	if part.GCS != "" {
		keys = append(keys, "gcs:"+part.GCS)
	}
	return keys
}

func recordKeys(rec models.FileRecord) []string {
	var keys []string
	if rec.Hash != "" {
		keys = append(keys, "hash:"+rec.Hash)
	}
	if rec.URL != "" {
		keys = append(keys, "url:"+rec.URL)
	}
	if rec.GCS != "" {
		keys = append(keys, "gcs:"+rec.GCS)
	}
	return keys
}
