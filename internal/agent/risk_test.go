package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyRisk(t *testing.T) {
	tests := []struct {
		name     string
		tool     string
		args     string
		risky    bool
		level    string
		contains string
	}{
		{"delete item is high", ToolDeleteItem, `{"id":"i1"}`, true, RiskHigh, "Delete item i1"},
		{"delete kid is high", ToolDeleteKid, `{"id":"k1"}`, true, RiskHigh, "Delete kid k1"},
		{"delete activity is high", ToolDeleteActivity, `{"id":"a1"}`, true, RiskHigh, "Delete activity a1"},
		{"rename kid is medium", ToolRenameKid, `{"fromName":"Max","toName":"Maxine"}`, true, RiskMedium, `Rename kid "Max" to "Maxine"`},
		{"update kid with name is medium", ToolUpdateKid, `{"id":"k1","name":"New"}`, true, RiskMedium, "including name"},
		{"update kid without name is low", ToolUpdateKid, `{"id":"k1","grade":"3rd"}`, false, RiskLow, "Update kid k1"},
		{"unlink is always medium", ToolUnlinkItemFromKids, `{"itemId":"i1","kidIds":["k1","k2"]}`, true, RiskMedium, "Unlink item i1 from 2 kid(s)"},
		{"unlink without ids says some", ToolUnlinkItemFromKids, `{"itemId":"i1"}`, true, RiskMedium, "from some kid(s)"},
		{"clear activity is medium", ToolClearItemActivity, `{"itemId":"i1"}`, true, RiskMedium, "Clear activity"},
		{"set activity is low", ToolSetItemActivity, `{"itemId":"i1","activityId":"a1"}`, false, RiskLow, "Set activity"},
		{"update item with date is medium", ToolUpdateItem, `{"id":"i1","deadline_at":"2026-01-01T00:00:00Z"}`, true, RiskMedium, "Change date/time"},
		{"update item with null date still medium", ToolUpdateItem, `{"id":"i1","start_at":null}`, true, RiskMedium, "Change date/time"},
		{"update item title only is low", ToolUpdateItem, `{"id":"i1","title":"New"}`, false, RiskLow, "Update item i1"},
		{"update activity with name is medium", ToolUpdateActivity, `{"id":"a1","name":"New"}`, true, RiskMedium, "Rename/update activity a1"},
		{"update activity notes only is low", ToolUpdateActivity, `{"id":"a1","notes":"n"}`, false, RiskLow, "Update activity a1"},
		{"approve five is low", ToolApproveSuggestions, `{"suggestionIds":["1","2","3","4","5"]}`, false, RiskLow, "Approve 5 suggestions"},
		{"approve six is medium", ToolApproveSuggestions, `{"suggestionIds":["1","2","3","4","5","6"]}`, true, RiskMedium, "Approve 6 suggestions"},
		{"link five kids is low", ToolLinkItemToKids, `{"itemId":"i1","kidIds":["1","2","3","4","5"]}`, false, RiskLow, "Link item i1"},
		{"link six kids is medium", ToolLinkItemToKids, `{"itemId":"i1","kidIds":["1","2","3","4","5","6"]}`, true, RiskMedium, "Link item i1 to 6 kids"},
		{"reads default to low", ToolListItems, `{}`, false, RiskLow, ToolListItems},
		{"create item is low", ToolCreateItem, `{"type":"task","title":"x"}`, false, RiskLow, ToolCreateItem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := ClassifyRisk(tt.tool, json.RawMessage(tt.args))
			assert.Equal(t, tt.risky, a.Risky)
			assert.Equal(t, tt.level, a.Level)
			assert.Contains(t, a.Description, tt.contains)
		})
	}
}

func TestClassifyRiskIsPureOnMalformedArgs(t *testing.T) {
	a := ClassifyRisk(ToolDeleteItem, json.RawMessage(`not json`))
	assert.True(t, a.Risky)
	assert.Equal(t, RiskHigh, a.Level)
}
