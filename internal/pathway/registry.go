package pathway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cortexgw/cortex/internal/observability"
)

// ToolPathwayPrefix names the convention binding tools to pathways: a
// tool call for "search" executes the pathway "sys_tool_search".
const ToolPathwayPrefix = "sys_tool_"

// Registry holds the compiled pathways the executor can run. Pathways
// are immutable; reloads replace whole entries. Lookup is by exact name,
// with a case-insensitive index for tool pathway resolution.
type Registry struct {
	mu       sync.RWMutex
	pathways map[string]*Pathway
	// byLower maps lowercased names to canonical names for the
	// case-insensitive sys_tool_ lookup.
	byLower map[string]string
	// aliases maps emulateOpenAIChatModel names to pathway names. The
	// first registration of an alias wins; later claims are logged and
	// ignored.
	aliases map[string]string

	logger *observability.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *observability.Logger) *Registry {
	return &Registry{
		pathways: make(map[string]*Pathway),
		byLower:  make(map[string]string),
		aliases:  make(map[string]string),
		logger:   logger,
	}
}

// Register adds a pathway. A name already registered with a different
// fingerprint is an error; re-registering an identical pathway is a
// no-op. Use Upsert for reload semantics.
func (r *Registry) Register(p *Pathway) error {
	if p == nil {
		return fmt.Errorf("pathway cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.pathways[p.Name]; ok {
		if existing.Fingerprint == p.Fingerprint {
			return nil
		}
		return fmt.Errorf("pathway %q already registered with different fingerprint", p.Name)
	}
	if canonical, ok := r.byLower[strings.ToLower(p.Name)]; ok && canonical != p.Name {
		return fmt.Errorf("pathway %q collides with %q (names are case-insensitive for tool lookup)", p.Name, canonical)
	}

	r.store(p)
	return nil
}

// Upsert adds or replaces a pathway, preserving the first-wins rule for
// emulation aliases.
func (r *Registry) Upsert(p *Pathway) error {
	if p == nil {
		return fmt.Errorf("pathway cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if canonical, ok := r.byLower[strings.ToLower(p.Name)]; ok && canonical != p.Name {
		return fmt.Errorf("pathway %q collides with %q (names are case-insensitive for tool lookup)", p.Name, canonical)
	}
	if existing, ok := r.pathways[p.Name]; ok {
		r.dropIndexes(existing)
	}
	r.store(p)
	return nil
}

// store must run under the write lock.
func (r *Registry) store(p *Pathway) {
	r.pathways[p.Name] = p
	r.byLower[strings.ToLower(p.Name)] = p.Name

	if alias := p.EmulateOpenAIChatModel; alias != "" {
		if owner, ok := r.aliases[alias]; ok && owner != p.Name {
			if r.logger != nil {
				r.logger.Warn(context.Background(), "emulation alias already claimed",
					"alias", alias,
					"owner", owner,
					"pathway", p.Name,
				)
			}
		} else {
			r.aliases[alias] = p.Name
		}
	}
}

// dropIndexes must run under the write lock.
func (r *Registry) dropIndexes(p *Pathway) {
	delete(r.pathways, p.Name)
	delete(r.byLower, strings.ToLower(p.Name))
	if alias := p.EmulateOpenAIChatModel; alias != "" && r.aliases[alias] == p.Name {
		delete(r.aliases, alias)
	}
}

// Unregister removes a pathway by name.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pathways[name]
	if !ok {
		return false
	}
	r.dropIndexes(p)
	return true
}

// Get returns a pathway by exact name.
func (r *Registry) Get(name string) (*Pathway, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pathways[name]
	return p, ok
}

// ResolveTool returns the pathway implementing a tool, looking up
// sys_tool_<name> case-insensitively.
func (r *Registry) ResolveTool(toolName string) (*Pathway, bool) {
	key := strings.ToLower(ToolPathwayPrefix + toolName)

	r.mu.RLock()
	defer r.mu.RUnlock()
	canonical, ok := r.byLower[key]
	if !ok {
		return nil, false
	}
	p, ok := r.pathways[canonical]
	return p, ok
}

// ResolveAlias returns the pathway owning an OpenAI model emulation alias.
func (r *Registry) ResolveAlias(alias string) (*Pathway, bool) {
	r.mu.RLock()
	name, ok := r.aliases[alias]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.Get(name)
}

// Aliases returns the emulation alias table (alias -> pathway name).
func (r *Registry) Aliases() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.aliases))
	for alias, name := range r.aliases {
		out[alias] = name
	}
	return out
}

// List returns all pathways sorted by name.
func (r *Registry) List() []*Pathway {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Pathway, 0, len(r.pathways))
	for _, p := range r.pathways {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered pathways.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pathways)
}

// ReplaceFromDir swaps every file-sourced pathway for the given compiled
// set: new names are added, changed ones replaced, and file-sourced
// pathways absent from the set are removed. Code-registered pathways
// (empty SourcePath) are never touched.
func (r *Registry) ReplaceFromDir(loaded []*Pathway) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keep := make(map[string]bool, len(loaded))
	for _, p := range loaded {
		keep[p.Name] = true
	}

	for name, p := range r.pathways {
		if p.SourcePath != "" && !keep[name] {
			r.dropIndexes(p)
		}
	}

	var firstErr error
	for _, p := range loaded {
		if existing, ok := r.pathways[p.Name]; ok {
			if existing.SourcePath == "" {
				// A pathway file may not shadow a code-registered pathway.
				if firstErr == nil {
					firstErr = fmt.Errorf("pathway %q is code-registered and cannot be reloaded from %s", p.Name, p.SourcePath)
				}
				continue
			}
			r.dropIndexes(existing)
		}
		if canonical, ok := r.byLower[strings.ToLower(p.Name)]; ok && canonical != p.Name {
			if firstErr == nil {
				firstErr = fmt.Errorf("pathway %q collides with %q", p.Name, canonical)
			}
			continue
		}
		r.store(p)
	}
	return firstErr
}
