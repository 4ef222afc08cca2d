package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/cortexgw/cortex/internal/fault"
	"github.com/cortexgw/cortex/internal/fileset"
	"github.com/cortexgw/cortex/pkg/models"
)

// Builtin is one gateway-provided tool: its schema as advertised to the
// model and the handler executing it.
type Builtin struct {
	Definition models.ToolDefinition
	Run        func(ctx context.Context, args map[string]any) (string, error)
}

// Toolset is the per-request collection of built-in tools, bound to the
// request's agent context and chat id.
type Toolset struct {
	byName map[string]Builtin
	order  []string
}

// Lookup resolves a built-in by name, case-insensitive.
func (t *Toolset) Lookup(name string) (Builtin, bool) {
	if t == nil {
		return Builtin{}, false
	}
	b, ok := t.byName[strings.ToLower(name)]
	return b, ok
}

// Definitions lists the tool schemas in registration order.
func (t *Toolset) Definitions() []models.ToolDefinition {
	if t == nil {
		return nil
	}
	out := make([]models.ToolDefinition, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.byName[name].Definition)
	}
	return out
}

func (t *Toolset) add(b Builtin) {
	key := strings.ToLower(b.Definition.Name)
	if _, exists := t.byName[key]; !exists {
		t.order = append(t.order, key)
	}
	t.byName[key] = b
}

// Argument structs for the built-in file tools. Schemas are reflected
// from these, so the jsonschema tags are the contract the model sees.

type writeFileArgs struct {
	Filename string   `json:"filename" jsonschema:"required,description=Name for the new file"`
	Content  string   `json:"content" jsonschema:"required,description=Full file content"`
	Tags     []string `json:"tags,omitempty" jsonschema:"description=Optional labels for later lookup"`
	Notes    string   `json:"notes,omitempty" jsonschema:"description=Optional free-form notes"`
}

type editFileArgs struct {
	FileID     string `json:"fileId" jsonschema:"required,description=Id of the file to edit"`
	StartLine  int    `json:"startLine,omitempty" jsonschema:"description=First line of the range to replace (1-based)"`
	EndLine    int    `json:"endLine,omitempty" jsonschema:"description=Last line of the range to replace (inclusive)"`
	Content    string `json:"content,omitempty" jsonschema:"description=Replacement for the line range; empty deletes it"`
	OldString  string `json:"oldString,omitempty" jsonschema:"description=Exact text to search for"`
	NewString  string `json:"newString,omitempty" jsonschema:"description=Replacement text"`
	ReplaceAll bool   `json:"replaceAll,omitempty" jsonschema:"description=Replace every occurrence instead of the first"`
}

type readFileArgs struct {
	FileID string `json:"fileId" jsonschema:"required,description=Id of the file to read"`
}

type listFilesArgs struct {
	ChatID string `json:"chatId,omitempty" jsonschema:"description=Limit to files visible to this chat"`
}

// maxReadBytes bounds how much file content a single read returns to the
// model.
const maxReadBytes = 128 << 10

// FileToolset builds the built-in file tools over the collection
// manager, scoped to one request's contexts and chat.
func FileToolset(mgr *fileset.Manager, agentCtx models.AgentContext, chatID string) *Toolset {
	ts := &Toolset{byName: make(map[string]Builtin)}
	target, hasTarget := agentCtx.WriteTarget()

	ts.add(Builtin{
		Definition: reflectTool("write_file", "Store a new file in the conversation's collection.", &writeFileArgs{}),
		Run: func(ctx context.Context, raw map[string]any) (string, error) {
			var args writeFileArgs
			if err := decodeArgs(raw, &args); err != nil {
				return "", err
			}
			if !hasTarget {
				return "", fault.New(fault.KindInputValidation, "no storage context available for writes")
			}
			rec, err := mgr.WriteFile(ctx, target, []byte(args.Content), args.Filename, chatID, args.Tags, args.Notes)
			if err != nil {
				return "", err
			}
			return successPayload(map[string]any{
				"fileId": rec.ID, "filename": rec.Filename, "hash": rec.Hash, "size": rec.Size,
			})
		},
	})

	ts.add(Builtin{
		Definition: reflectTool("edit_file", "Edit a stored file by line range or search/replace.", &editFileArgs{}),
		Run: func(ctx context.Context, raw map[string]any) (string, error) {
			var args editFileArgs
			if err := decodeArgs(raw, &args); err != nil {
				return "", err
			}
			rec, err := mgr.EditFile(ctx, agentCtx, args.FileID, fileset.EditOp{
				StartLine:  args.StartLine,
				EndLine:    args.EndLine,
				Content:    args.Content,
				OldString:  args.OldString,
				NewString:  args.NewString,
				ReplaceAll: args.ReplaceAll,
			})
			if err != nil {
				return "", err
			}
			return successPayload(map[string]any{
				"fileId": rec.ID, "filename": rec.Filename, "hash": rec.Hash, "size": rec.Size,
			})
		},
	})

	ts.add(Builtin{
		Definition: reflectTool("read_file", "Read the current content of a stored file.", &readFileArgs{}),
		Run: func(ctx context.Context, raw map[string]any) (string, error) {
			var args readFileArgs
			if err := decodeArgs(raw, &args); err != nil {
				return "", err
			}
			files, err := mgr.Load(ctx, agentCtx, nil)
			if err != nil {
				return "", err
			}
			for _, rec := range files {
				if rec.ID != args.FileID {
					continue
				}
				content, err := mgr.ReadFile(ctx, rec)
				if err != nil {
					return "", err
				}
				truncated := false
				if len(content) > maxReadBytes {
					content = content[:maxReadBytes]
					truncated = true
				}
				return successPayload(map[string]any{
					"filename": rec.Filename, "content": string(content), "truncated": truncated,
				})
			}
			return "", fault.Newf(fault.KindInputValidation, "file %s not found", args.FileID)
		},
	})

	ts.add(Builtin{
		Definition: reflectTool("list_files", "List the files available in this conversation.", &listFilesArgs{}),
		Run: func(ctx context.Context, raw map[string]any) (string, error) {
			var args listFilesArgs
			if err := decodeArgs(raw, &args); err != nil {
				return "", err
			}
			filter := (*fileset.LoadFilter)(nil)
			switch {
			case args.ChatID != "":
				filter = &fileset.LoadFilter{ChatIDs: []string{args.ChatID}}
			case chatID != "":
				filter = &fileset.LoadFilter{ChatIDs: []string{chatID}}
			}
			files, err := mgr.Load(ctx, agentCtx, filter)
			if err != nil {
				return "", err
			}
			entries := make([]map[string]any, 0, len(files))
			for _, rec := range files {
				entries = append(entries, map[string]any{
					"fileId": rec.ID, "filename": rec.Filename, "mimeType": rec.MimeType,
					"size": rec.Size, "tags": rec.Tags, "notes": rec.Notes,
				})
			}
			return successPayload(map[string]any{"files": entries})
		},
	})

	return ts
}

// reflectTool derives a tool definition from an argument struct.
func reflectTool(name, description string, args any) models.ToolDefinition {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(args)
	schema.Version = "" // the vendors reject $schema inside tool parameters
	raw, err := schema.MarshalJSON()
	if err != nil {
		raw = []byte(`{"type":"object"}`)
	}
	return models.ToolDefinition{Name: name, Description: description, Parameters: raw}
}

// decodeArgs maps the parsed argument map onto a typed struct. Shape
// mismatches are ToolArgument faults fed back to the model.
func decodeArgs(raw map[string]any, out any) error {
	payload, err := jsonFast.Marshal(raw)
	if err != nil {
		return fault.Wrap(fault.KindToolArgument, "encode arguments", err)
	}
	if err := jsonFast.Unmarshal(payload, out); err != nil {
		return fault.Wrap(fault.KindToolArgument, "arguments do not match the tool contract", err)
	}
	return nil
}

func successPayload(result map[string]any) (string, error) {
	data, err := jsonFast.MarshalToString(map[string]any{"success": true, "result": result})
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return data, nil
}
