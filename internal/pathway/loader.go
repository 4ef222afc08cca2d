package pathway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	"github.com/cortexgw/cortex/internal/observability"
)

// pathwayFileExts are the extensions LoadDir considers pathway files.
var pathwayFileExts = map[string]bool{
	".yaml":  true,
	".yml":   true,
	".json":  true,
	".json5": true,
}

// fileDocument is the shape of one pathway file: either a single spec, a
// bare list of specs, or a document with a top-level pathways key.
type fileDocument struct {
	Pathways []Spec `yaml:"pathways" json:"pathways"`
}

// LoadFile parses the specs in one pathway file. Environment references
// in the file body expand before parsing, mirroring the main config
// loader.
func LoadFile(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expanded := []byte(os.ExpandEnv(string(data)))

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" || ext == ".json5" {
		return parseJSONSpecs(expanded, path)
	}
	return parseYAMLSpecs(expanded, path)
}

func parseYAMLSpecs(data []byte, path string) ([]Spec, error) {
	var list []Spec
	if err := yaml.Unmarshal(data, &list); err == nil && len(list) > 0 {
		return list, nil
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Pathways) > 0 {
		return doc.Pathways, nil
	}
	var single Spec
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if strings.TrimSpace(single.Name) == "" {
		return nil, fmt.Errorf("parse %s: no pathway definitions found", path)
	}
	return []Spec{single}, nil
}

func parseJSONSpecs(data []byte, path string) ([]Spec, error) {
	var list []Spec
	if err := json5.Unmarshal(data, &list); err == nil && len(list) > 0 {
		return list, nil
	}
	var doc fileDocument
	if err := json5.Unmarshal(data, &doc); err == nil && len(doc.Pathways) > 0 {
		return doc.Pathways, nil
	}
	var single Spec
	if err := json5.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if strings.TrimSpace(single.Name) == "" {
		return nil, fmt.Errorf("parse %s: no pathway definitions found", path)
	}
	return []Spec{single}, nil
}

// LoadDir compiles every pathway file under dir (non-recursive). Files
// are visited in name order so duplicate-name errors are deterministic.
func LoadDir(dir string) ([]*Pathway, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !pathwayFileExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []*Pathway
	seen := make(map[string]string)
	for _, name := range names {
		path := filepath.Join(dir, name)
		specs, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		for _, spec := range specs {
			p, err := Compile(spec)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			if prev, ok := seen[p.Name]; ok {
				return nil, fmt.Errorf("%s: pathway %q already defined in %s", path, p.Name, prev)
			}
			seen[p.Name] = path
			p.SourcePath = path
			out = append(out, p)
		}
	}
	return out, nil
}

// Watcher reloads a pathway directory into a registry when its files
// change. Events are debounced so editor save bursts trigger one reload.
type Watcher struct {
	dir      string
	registry *Registry
	logger   *observability.Logger
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher for dir feeding registry.
func NewWatcher(dir string, registry *Registry, logger *observability.Logger) *Watcher {
	return &Watcher{
		dir:      dir,
		registry: registry,
		logger:   logger,
		debounce: 250 * time.Millisecond,
	}
}

// Start loads the directory once and begins watching for changes. It is
// a no-op if the watcher is already running.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		w.mu.Unlock()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.watcher = fsw
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	if err := w.reload(ctx); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.loop(watchCtx, fsw)
	return nil
}

// Close stops watching. Pathways already registered stay registered.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	fsw := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	if fsw != nil {
		_ = fsw.Close()
	}
	w.wg.Wait()
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			if err := w.reload(context.Background()); err != nil && w.logger != nil {
				w.logger.Warn(context.Background(), "pathway reload failed",
					"dir", w.dir,
					"error", err,
				)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !pathwayFileExts[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn(context.Background(), "pathway watch error", "error", err)
			}
		}
	}
}

// reload compiles the directory and swaps the registry's file-sourced
// entries. A compile failure leaves the previous pathways in place.
func (w *Watcher) reload(ctx context.Context) error {
	loaded, err := LoadDir(w.dir)
	if err != nil {
		return err
	}
	if err := w.registry.ReplaceFromDir(loaded); err != nil {
		return err
	}
	if w.logger != nil {
		w.logger.Info(ctx, "pathways loaded",
			"dir", w.dir,
			"count", len(loaded),
		)
	}
	return nil
}
