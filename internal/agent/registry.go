// Package agent implements the conversational assistant: the tool
// registry, risk classification, the confirmation token handshake, the
// audited tool executor, the turn orchestrator, and undo.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/andyfreed/kiddos/internal/llm"
)

// Tool names. The registry is the single source of truth for which
// operations the assistant may invoke.
const (
	ToolListItems          = "list_items"
	ToolCreateItem         = "create_item"
	ToolUpdateItem         = "update_item"
	ToolDeleteItem         = "delete_item"
	ToolListInbox          = "list_inbox"
	ToolListKids           = "list_kids"
	ToolRenameKid          = "rename_kid"
	ToolUpdateKid          = "update_kid"
	ToolDeleteKid          = "delete_kid"
	ToolGetItemLinks       = "get_item_links"
	ToolLinkItemToKids     = "link_item_to_kids"
	ToolUnlinkItemFromKids = "unlink_item_from_kids"
	ToolSetItemActivity    = "set_item_activity"
	ToolClearItemActivity  = "clear_item_activity"
	ToolListActivities     = "list_activities"
	ToolCreateActivity     = "create_activity"
	ToolUpdateActivity     = "update_activity"
	ToolDeleteActivity     = "delete_activity"
	ToolListSuggestions    = "list_suggestions"
	ToolApproveSuggestions = "approve_suggestions"
	ToolRunExtraction      = "run_extraction"
)

// ErrUnsupportedAction is returned when a tool name is not in the registry.
var ErrUnsupportedAction = errors.New("unsupported tool")

// InvalidArgumentsError carries field-level detail for arguments that
// fail a tool's schema. No side effect has happened when it is returned.
type InvalidArgumentsError struct {
	Tool   string
	Fields []string
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Fields, "; "))
}

type toolDef struct {
	name        string
	description string
	rawSchema   string
	schema      *gojsonschema.Schema
}

// Registry holds the fixed tool set with compiled argument schemas.
type Registry struct {
	order []string
	tools map[string]*toolDef
}

var toolDefs = []toolDef{
	{
		name:        ToolListItems,
		description: "List canonical family items (tasks/events/deadlines).",
		rawSchema: `{
			"type": "object",
			"properties": {
				"status": {"type": "string", "enum": ["open", "done", "snoozed", "dismissed"]},
				"type": {"type": "string", "enum": ["task", "event", "deadline"]},
				"limit": {"type": "integer", "minimum": 1, "maximum": 100}
			},
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolCreateItem,
		description: "Create a canonical family item (task/event/deadline).",
		rawSchema: `{
			"type": "object",
			"properties": {
				"type": {"type": "string", "enum": ["task", "event", "deadline"]},
				"title": {"type": "string", "minLength": 1},
				"description": {"type": "string"},
				"start_at": {"type": ["string", "null"]},
				"end_at": {"type": ["string", "null"]},
				"deadline_at": {"type": ["string", "null"]},
				"priority": {"type": ["integer", "null"], "minimum": 1, "maximum": 5}
			},
			"required": ["title"],
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolUpdateItem,
		description: "Update a canonical family item. Date changes are considered risky and require confirmation.",
		rawSchema: `{
			"type": "object",
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"title": {"type": "string", "minLength": 1},
				"description": {"type": ["string", "null"]},
				"start_at": {"type": ["string", "null"]},
				"end_at": {"type": ["string", "null"]},
				"deadline_at": {"type": ["string", "null"]},
				"status": {"type": "string", "enum": ["open", "done", "snoozed", "dismissed"]},
				"priority": {"type": ["integer", "null"], "minimum": 1, "maximum": 5}
			},
			"required": ["id"],
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolDeleteItem,
		description: "Delete a canonical family item (risky; requires confirmation).",
		rawSchema: `{
			"type": "object",
			"properties": {"id": {"type": "string", "minLength": 1}},
			"required": ["id"],
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolListInbox,
		description: "List recent inbox source messages (emails/pastes).",
		rawSchema: `{
			"type": "object",
			"properties": {"limit": {"type": "integer", "minimum": 1, "maximum": 100}},
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolListKids,
		description: "List kids for the current user.",
		rawSchema: `{
			"type": "object",
			"properties": {"limit": {"type": "integer", "minimum": 1, "maximum": 100}},
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolRenameKid,
		description: "Rename a kid by current name to a new name.",
		rawSchema: `{
			"type": "object",
			"properties": {
				"fromName": {"type": "string", "minLength": 1},
				"toName": {"type": "string", "minLength": 1}
			},
			"required": ["fromName", "toName"],
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolUpdateKid,
		description: "Update a kid by id.",
		rawSchema: `{
			"type": "object",
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"name": {"type": "string", "minLength": 1},
				"birthday": {"type": ["string", "null"]},
				"grade": {"type": ["string", "null"]},
				"notes": {"type": ["string", "null"]}
			},
			"required": ["id"],
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolDeleteKid,
		description: "Delete a kid (risky; requires confirmation).",
		rawSchema: `{
			"type": "object",
			"properties": {"id": {"type": "string", "minLength": 1}},
			"required": ["id"],
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolGetItemLinks,
		description: "List the kid and activity links attached to an item.",
		rawSchema: `{
			"type": "object",
			"properties": {"itemId": {"type": "string", "minLength": 1}},
			"required": ["itemId"],
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolLinkItemToKids,
		description: "Link an item to one or more kids. Bulk > 5 requires confirmation.",
		rawSchema: `{
			"type": "object",
			"properties": {
				"itemId": {"type": "string", "minLength": 1},
				"kidIds": {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1, "maxItems": 50}
			},
			"required": ["itemId", "kidIds"],
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolUnlinkItemFromKids,
		description: "Unlink an item from one or more kids (requires confirmation).",
		rawSchema: `{
			"type": "object",
			"properties": {
				"itemId": {"type": "string", "minLength": 1},
				"kidIds": {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1, "maxItems": 50}
			},
			"required": ["itemId", "kidIds"],
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolSetItemActivity,
		description: "Set or replace an item's activity, by activity id or name.",
		rawSchema: `{
			"type": "object",
			"properties": {
				"itemId": {"type": "string", "minLength": 1},
				"activityId": {"type": ["string", "null"]},
				"activityName": {"type": ["string", "null"]}
			},
			"required": ["itemId"],
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolClearItemActivity,
		description: "Clear an item's activity link (requires confirmation).",
		rawSchema: `{
			"type": "object",
			"properties": {"itemId": {"type": "string", "minLength": 1}},
			"required": ["itemId"],
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolListActivities,
		description: "List activity templates for the current user.",
		rawSchema: `{
			"type": "object",
			"properties": {"limit": {"type": "integer", "minimum": 1, "maximum": 500}},
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolCreateActivity,
		description: "Create an activity template (e.g. \"Soccer practice\").",
		rawSchema: `{
			"type": "object",
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"notes": {"type": ["string", "null"]}
			},
			"required": ["name"],
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolUpdateActivity,
		description: "Update an activity template. Renames can affect matching.",
		rawSchema: `{
			"type": "object",
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"name": {"type": "string", "minLength": 1},
				"notes": {"type": ["string", "null"]}
			},
			"required": ["id"],
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolDeleteActivity,
		description: "Delete an activity template (risky; requires confirmation).",
		rawSchema: `{
			"type": "object",
			"properties": {"id": {"type": "string", "minLength": 1}},
			"required": ["id"],
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolListSuggestions,
		description: "List AI suggestions waiting for approval.",
		rawSchema: `{
			"type": "object",
			"properties": {
				"state": {"type": "string", "enum": ["new", "approved", "ignored", "merged"]},
				"limit": {"type": "integer", "minimum": 1, "maximum": 100}
			},
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolApproveSuggestions,
		description: "Approve suggestions to create canonical items. Bulk > 5 requires confirmation.",
		rawSchema: `{
			"type": "object",
			"properties": {
				"suggestionIds": {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1, "maxItems": 50}
			},
			"required": ["suggestionIds"],
			"additionalProperties": false
		}`,
	},
	{
		name:        ToolRunExtraction,
		description: "Run AI extraction for an inbox message to generate suggestions.",
		rawSchema: `{
			"type": "object",
			"properties": {"sourceMessageId": {"type": "string", "minLength": 1}},
			"required": ["sourceMessageId"],
			"additionalProperties": false
		}`,
	},
}

// NewRegistry compiles all tool argument schemas. It fails if any
// schema is malformed, which is a programming error caught at startup.
func NewRegistry() (*Registry, error) {
	r := &Registry{tools: make(map[string]*toolDef, len(toolDefs))}
	for i := range toolDefs {
		def := toolDefs[i]
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(def.rawSchema))
		if err != nil {
			return nil, fmt.Errorf("compiling schema for %s: %w", def.name, err)
		}
		def.schema = compiled
		r.tools[def.name] = &def
		r.order = append(r.order, def.name)
	}
	return r, nil
}

// Has reports whether the tool name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Validate checks the tool name and its arguments against the
// registered schema. It must be called before any side effect.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	def, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedAction, name)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	result, err := def.schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return &InvalidArgumentsError{Tool: name, Fields: []string{"arguments are not valid JSON"}}
	}
	if result.Valid() {
		return nil
	}
	fields := make([]string, 0, len(result.Errors()))
	for _, resErr := range result.Errors() {
		fields = append(fields, fmt.Sprintf("%s: %s", resErr.Field(), resErr.Description()))
	}
	sort.Strings(fields)
	return &InvalidArgumentsError{Tool: name, Fields: fields}
}

// Specs returns the registry as tool specifications for the language model.
func (r *Registry) Specs() []llm.Tool {
	specs := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		def := r.tools[name]
		specs = append(specs, llm.Tool{
			Name:        def.name,
			Description: def.description,
			Parameters:  json.RawMessage(def.rawSchema),
		})
	}
	return specs
}
