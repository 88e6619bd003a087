package agent

import (
	"encoding/json"
	"fmt"
)

// Risk levels.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Assessment is the result of classifying one tool invocation.
type Assessment struct {
	Risky       bool   `json:"risky"`
	Level       string `json:"risk_level"`
	Description string `json:"description"`
}

// ClassifyRisk maps a tool invocation to a risk assessment. It is pure:
// no I/O, no store access, total over all (name, args) pairs. The policy
// encodes product-safety decisions and must not be changed casually:
// deletions always confirm at high, renames and date changes at medium,
// bulk link/approve operations (> 5 targets) at medium.
func ClassifyRisk(name string, args json.RawMessage) Assessment {
	var fields map[string]json.RawMessage
	_ = json.Unmarshal(args, &fields)

	str := func(key string) string {
		var s string
		_ = json.Unmarshal(fields[key], &s)
		return s
	}
	count := func(key string) int {
		var ids []string
		_ = json.Unmarshal(fields[key], &ids)
		return len(ids)
	}
	has := func(key string) bool {
		_, ok := fields[key]
		return ok
	}

	switch name {
	case ToolDeleteItem:
		return Assessment{Risky: true, Level: RiskHigh, Description: fmt.Sprintf("Delete item %s", str("id"))}
	case ToolDeleteKid:
		return Assessment{Risky: true, Level: RiskHigh, Description: fmt.Sprintf("Delete kid %s", str("id"))}
	case ToolDeleteActivity:
		return Assessment{Risky: true, Level: RiskHigh, Description: fmt.Sprintf("Delete activity %s", str("id"))}
	case ToolRenameKid:
		return Assessment{Risky: true, Level: RiskMedium, Description: fmt.Sprintf("Rename kid %q to %q", str("fromName"), str("toName"))}
	case ToolUpdateKid:
		if has("name") {
			return Assessment{Risky: true, Level: RiskMedium, Description: fmt.Sprintf("Update kid %s (including name)", str("id"))}
		}
		return Assessment{Risky: false, Level: RiskLow, Description: fmt.Sprintf("Update kid %s", str("id"))}
	case ToolUnlinkItemFromKids:
		n := count("kidIds")
		label := "some"
		if n > 0 {
			label = fmt.Sprintf("%d", n)
		}
		return Assessment{Risky: true, Level: RiskMedium, Description: fmt.Sprintf("Unlink item %s from %s kid(s)", str("itemId"), label)}
	case ToolClearItemActivity:
		return Assessment{Risky: true, Level: RiskMedium, Description: fmt.Sprintf("Clear activity for item %s", str("itemId"))}
	case ToolSetItemActivity:
		return Assessment{Risky: false, Level: RiskLow, Description: fmt.Sprintf("Set activity for item %s", str("itemId"))}
	case ToolUpdateItem:
		if has("start_at") || has("end_at") || has("deadline_at") {
			return Assessment{Risky: true, Level: RiskMedium, Description: fmt.Sprintf("Change date/time fields on item %s", str("id"))}
		}
		return Assessment{Risky: false, Level: RiskLow, Description: fmt.Sprintf("Update item %s", str("id"))}
	case ToolUpdateActivity:
		if has("name") {
			return Assessment{Risky: true, Level: RiskMedium, Description: fmt.Sprintf("Rename/update activity %s", str("id"))}
		}
		return Assessment{Risky: false, Level: RiskLow, Description: fmt.Sprintf("Update activity %s", str("id"))}
	case ToolApproveSuggestions:
		n := count("suggestionIds")
		if n > 5 {
			return Assessment{Risky: true, Level: RiskMedium, Description: fmt.Sprintf("Approve %d suggestions", n)}
		}
		return Assessment{Risky: false, Level: RiskLow, Description: fmt.Sprintf("Approve %d suggestions", n)}
	case ToolLinkItemToKids:
		n := count("kidIds")
		if n > 5 {
			return Assessment{Risky: true, Level: RiskMedium, Description: fmt.Sprintf("Link item %s to %d kids", str("itemId"), n)}
		}
		return Assessment{Risky: false, Level: RiskLow, Description: fmt.Sprintf("Link item %s to kid(s)", str("itemId"))}
	default:
		return Assessment{Risky: false, Level: RiskLow, Description: name}
	}
}
