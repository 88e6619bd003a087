package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry()
	require.NoError(t, err)
	return r
}

func TestRegistryCompilesAllSchemas(t *testing.T) {
	r := newTestRegistry(t)

	specs := r.Specs()
	assert.Len(t, specs, len(toolDefs))
	for _, spec := range specs {
		assert.True(t, r.Has(spec.Name))
		assert.NotEmpty(t, spec.Description)
		assert.True(t, json.Valid(spec.Parameters), "schema for %s", spec.Name)
	}
}

func TestValidateUnknownTool(t *testing.T) {
	r := newTestRegistry(t)

	err := r.Validate("drop_database", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnsupportedAction)
}

func TestValidateAcceptsValidArguments(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		tool string
		args string
	}{
		{ToolCreateItem, `{"type":"task","title":"Pack lunch"}`},
		{ToolCreateItem, `{"type":"event","title":"Recital","start_at":"2026-05-01T18:00:00Z","priority":2}`},
		{ToolUpdateItem, `{"id":"i1","title":"New","deadline_at":null}`},
		{ToolListItems, `{}`},
		{ToolRenameKid, `{"fromName":"Max","toName":"Maxine"}`},
		{ToolLinkItemToKids, `{"itemId":"i1","kidIds":["k1","k2"]}`},
		{ToolSetItemActivity, `{"itemId":"i1","activityName":"Soccer"}`},
		{ToolApproveSuggestions, `{"suggestionIds":["s1"]}`},
	}
	for _, tt := range tests {
		assert.NoError(t, r.Validate(tt.tool, json.RawMessage(tt.args)), "%s %s", tt.tool, tt.args)
	}
}

func TestValidateRejectsBadArguments(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name string
		tool string
		args string
	}{
		{"missing required title", ToolCreateItem, `{"type":"task"}`},
		{"unknown property", ToolCreateItem, `{"type":"task","title":"x","sneaky":true}`},
		{"bad enum", ToolCreateItem, `{"type":"meeting","title":"x"}`},
		{"empty kid ids", ToolLinkItemToKids, `{"itemId":"i1","kidIds":[]}`},
		{"missing item id", ToolUpdateItem, `{"title":"x"}`},
		{"not json", ToolUpdateItem, `title=x`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate(tt.tool, json.RawMessage(tt.args))
			var invalid *InvalidArgumentsError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.tool, invalid.Tool)
			assert.NotEmpty(t, invalid.Fields)
		})
	}
}

func TestValidateTreatsNilArgsAsEmptyObject(t *testing.T) {
	r := newTestRegistry(t)

	assert.NoError(t, r.Validate(ToolListKids, nil))
	assert.Error(t, r.Validate(ToolCreateItem, nil))
}
