// Package pathway defines the declarative unit the gateway executes: a
// named prompt template bound to a model, declared parameters, an output
// typing hint, and an optional tool set. Specs are compiled into immutable
// Pathway values; hot reload swaps whole values in the registry rather
// than mutating them in place.
package pathway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/cortexgw/cortex/pkg/models"
)

// OutputType hints how the executor parses the aggregated model text.
type OutputType string

const (
	OutputText         OutputType = "text"
	OutputNumberedList OutputType = "numbered-list"
	OutputObjectList   OutputType = "object-list"
	OutputCSV          OutputType = "csv"
	OutputJSON         OutputType = "json"
)

// ParseOutputType maps a spec output hint to its canonical OutputType.
// The empty string means plain text. Aliases cover the shorthand spellings
// pathway files commonly use.
func ParseOutputType(s string) (OutputType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "string":
		return OutputText, nil
	case "list", "numbered-list", "numbered_list":
		return OutputNumberedList, nil
	case "object-list", "object_list", "objects":
		return OutputObjectList, nil
	case "csv", "comma-separated", "comma_separated":
		return OutputCSV, nil
	case "json", "object":
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output type %q", s)
}

// ToolSpec declares one tool in a pathway file. Parameters is a JSON
// Schema object expressed in YAML/JSON5.
type ToolSpec struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Parameters  map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Spec is the declarative form of a pathway as it appears in pathway
// files and the main config. Field names mirror the wire format the
// typed query surface accepts, hence the camelCase keys.
type Spec struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Template    string   `yaml:"template,omitempty" json:"template,omitempty"`
	Templates   []string `yaml:"templates,omitempty" json:"templates,omitempty"`
	Model       string   `yaml:"model" json:"model"`

	// Params declares accepted input parameters and their defaults.
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`

	// Output hints the parser applied to the final text (see OutputType).
	Output string `yaml:"output,omitempty" json:"output,omitempty"`

	// OutputFields is the space-separated field spec for object-list
	// output, e.g. "name age".
	OutputFields string `yaml:"outputFields,omitempty" json:"outputFields,omitempty"`

	UseInputChunking        bool   `yaml:"useInputChunking,omitempty" json:"useInputChunking,omitempty"`
	EnableDuplicateRequests bool   `yaml:"enableDuplicateRequests,omitempty" json:"enableDuplicateRequests,omitempty"`
	EmulateOpenAIChatModel  string `yaml:"emulateOpenAIChatModel,omitempty" json:"emulateOpenAIChatModel,omitempty"`

	// TimeoutSeconds bounds one execution. Zero selects the default (60s).
	TimeoutSeconds int `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Retries caps provider attempts for retryable failures. Zero selects
	// the default (3).
	Retries int `yaml:"retries,omitempty" json:"retries,omitempty"`

	// FallbackPathway names a pathway re-invoked with the same inputs when
	// this one fails with a non-retryable provider error.
	FallbackPathway string `yaml:"fallbackPathway,omitempty" json:"fallbackPathway,omitempty"`

	Tools []ToolSpec `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// templateSources returns the prompt templates in execution order.
func (s Spec) templateSources() []string {
	if len(s.Templates) > 0 {
		return s.Templates
	}
	if s.Template != "" {
		return []string{s.Template}
	}
	return nil
}

// Fingerprint identifies a pathway's semantics: name, template content,
// model, and the sorted declared parameter names. Two specs with equal
// fingerprints compile to interchangeable pathways.
func (s Spec) Fingerprint() string {
	d := xxhash.New()
	writeField := func(v string) {
		_, _ = d.WriteString(v)
		_, _ = d.Write([]byte{0})
	}
	writeField(s.Name)
	for _, t := range s.templateSources() {
		writeField(strconv.FormatUint(xxhash.Sum64String(t), 16))
	}
	writeField(s.Model)
	params := make([]string, 0, len(s.Params))
	for k := range s.Params {
		params = append(params, k)
	}
	sort.Strings(params)
	for _, k := range params {
		writeField(k)
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// RunAllPrompts renders and executes every template of the current pathway
// against args, returning the aggregated text. The executor supplies it to
// Override functions so custom pathways can reuse the standard pipeline.
type RunAllPrompts func(ctx context.Context, args map[string]any) (string, error)

// Override replaces the standard execution of a pathway. Only
// code-registered pathways can carry one; pathway files are purely
// declarative.
type Override func(ctx context.Context, args map[string]any, run RunAllPrompts) (string, error)

// Pathway is the compiled, immutable form the executor runs.
type Pathway struct {
	Name         string
	Description  string
	Model        string
	Templates    []*Template
	Params       map[string]any
	Output       OutputType
	OutputFields string
	Tools        []models.ToolDefinition

	UseInputChunking        bool
	EnableDuplicateRequests bool
	EmulateOpenAIChatModel  string
	TimeoutSeconds          int
	Retries                 int
	FallbackPathway         string

	// Execute, when non-nil, replaces the standard pipeline.
	Execute Override

	// Fingerprint of the source spec; see Spec.Fingerprint.
	Fingerprint string

	// SourcePath is the pathway file this was loaded from, empty for
	// code-registered pathways. The watcher uses it to scope reloads.
	SourcePath string
}

// Compile validates a spec and compiles its templates.
func Compile(spec Spec) (*Pathway, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, fmt.Errorf("pathway name is required")
	}
	if strings.TrimSpace(spec.Model) == "" {
		return nil, fmt.Errorf("pathway %q: model is required", name)
	}
	sources := spec.templateSources()
	if len(sources) == 0 {
		return nil, fmt.Errorf("pathway %q: template is required", name)
	}

	output, err := ParseOutputType(spec.Output)
	if err != nil {
		return nil, fmt.Errorf("pathway %q: %w", name, err)
	}

	templates := make([]*Template, 0, len(sources))
	for i, src := range sources {
		tmpl, err := CompileTemplate(src)
		if err != nil {
			return nil, fmt.Errorf("pathway %q: template %d: %w", name, i, err)
		}
		templates = append(templates, tmpl)
	}

	tools, err := compileTools(name, spec.Tools)
	if err != nil {
		return nil, err
	}

	p := &Pathway{
		Name:                    name,
		Description:             spec.Description,
		Model:                   spec.Model,
		Templates:               templates,
		Params:                  cloneParams(spec.Params),
		Output:                  output,
		OutputFields:            strings.TrimSpace(spec.OutputFields),
		Tools:                   tools,
		UseInputChunking:        spec.UseInputChunking,
		EnableDuplicateRequests: spec.EnableDuplicateRequests,
		EmulateOpenAIChatModel:  strings.TrimSpace(spec.EmulateOpenAIChatModel),
		TimeoutSeconds:          spec.TimeoutSeconds,
		Retries:                 spec.Retries,
		FallbackPathway:         strings.TrimSpace(spec.FallbackPathway),
		Fingerprint:             spec.Fingerprint(),
	}
	return p, nil
}

func compileTools(pathwayName string, specs []ToolSpec) ([]models.ToolDefinition, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	tools := make([]models.ToolDefinition, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, t := range specs {
		toolName := strings.TrimSpace(t.Name)
		if toolName == "" {
			return nil, fmt.Errorf("pathway %q: tool name is required", pathwayName)
		}
		key := strings.ToLower(toolName)
		if seen[key] {
			return nil, fmt.Errorf("pathway %q: duplicate tool %q", pathwayName, toolName)
		}
		seen[key] = true

		var params json.RawMessage
		if t.Parameters != nil {
			raw, err := json.Marshal(t.Parameters)
			if err != nil {
				return nil, fmt.Errorf("pathway %q: tool %q parameters: %w", pathwayName, toolName, err)
			}
			params = raw
		}
		tools = append(tools, models.ToolDefinition{
			Name:        toolName,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return tools, nil
}

func cloneParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// MergeArgs overlays caller arguments on the declared parameter defaults.
// Unknown caller keys pass through so templates can reference ad-hoc
// variables; declared params guarantee a value is always present.
func (p *Pathway) MergeArgs(args map[string]any) map[string]any {
	merged := make(map[string]any, len(p.Params)+len(args))
	for k, v := range p.Params {
		merged[k] = v
	}
	for k, v := range args {
		merged[k] = v
	}
	return merged
}

// Timeout returns the per-request timeout in seconds, falling back to the
// provided default when the pathway does not declare one.
func (p *Pathway) Timeout(defaultSeconds int) int {
	if p.TimeoutSeconds > 0 {
		return p.TimeoutSeconds
	}
	return defaultSeconds
}
