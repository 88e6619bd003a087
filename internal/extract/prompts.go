package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/andyfreed/kiddos/internal/store"
)

const systemPrompt = `You are an intelligent assistant that extracts actionable items from emails and documents for a family management app called Kiddos.

Your job is to analyze the provided content and identify:
1. Tasks - things that need to be done
2. Events - scheduled activities with start/end times
3. Deadlines - time-sensitive due dates

Context:
- The user has children (kids) that may be mentioned in the content
- There are recurring activities (like "soccer practice", "piano lessons")
- Dates and times should be parsed relative to the user's timezone
- Location information should be extracted when available
- Checklists, URLs, and contact information should be captured

Rules:
- Only extract items that are clearly actionable or time-bound
- Assign confidence scores (0.0-1.0) based on clarity and certainty
- Generate dedupe_key values to help identify duplicates (e.g., hash of title + date)
- If multiple kids are mentioned, include all relevant kid IDs in suggested_kid_ids
- If an activity name matches a known pattern, suggest it in suggested_activity_name
- Be conservative with confidence scores - only high confidence (>=0.8) for very clear items
- Include rationale explaining what text triggered each suggestion

Output must be valid JSON matching the exact schema provided.`

// outputSchema validates the JSON shape the model must return.
const outputSchema = `{
	"type": "object",
	"properties": {
		"suggestions": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"type": {"type": "string", "enum": ["task", "event", "deadline"]},
					"title": {"type": "string", "minLength": 1},
					"description": {"type": ["string", "null"]},
					"start_at": {"type": ["string", "null"]},
					"end_at": {"type": ["string", "null"]},
					"deadline_at": {"type": ["string", "null"]},
					"location_text": {"type": ["string", "null"]},
					"urls": {"type": ["array", "null"], "items": {"type": "string"}},
					"checklist": {"type": ["array", "null"], "items": {"type": "string"}},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1},
					"suggested_kid_ids": {"type": ["array", "null"], "items": {"type": "string"}},
					"suggested_activity_name": {"type": ["string", "null"]},
					"dedupe_key": {"type": ["string", "null"]},
					"rationale": {"type": ["string", "null"]}
				},
				"required": ["type", "title", "confidence"]
			}
		}
	},
	"required": ["suggestions"]
}`

// userPrompt renders the extraction request for one source message with
// the user's kid and activity context.
func userPrompt(msg *store.SourceMessage, kids []*store.Kid, activities []*store.Activity, timezone string) string {
	var kidsList string
	if len(kids) == 0 {
		kidsList = "None"
	} else {
		lines := make([]string, 0, len(kids))
		for _, k := range kids {
			line := "- " + k.Name
			if k.Grade != nil && *k.Grade != "" {
				line += fmt.Sprintf(" (%s)", *k.Grade)
			}
			if k.Birthday != nil && *k.Birthday != "" {
				line += fmt.Sprintf(", born %s", *k.Birthday)
			}
			lines = append(lines, line)
		}
		kidsList = strings.Join(lines, "\n")
	}

	var activitiesList string
	if len(activities) == 0 {
		activitiesList = "None"
	} else {
		lines := make([]string, 0, len(activities))
		for _, a := range activities {
			lines = append(lines, "- "+a.Name)
		}
		activitiesList = strings.Join(lines, "\n")
	}

	senderName := ""
	if msg.SenderName != nil {
		senderName = *msg.SenderName
	}
	receivedAt := time.Now().UTC().Format(time.RFC3339)
	if msg.ReceivedAt != nil {
		receivedAt = msg.ReceivedAt.Format(time.RFC3339)
	}

	return fmt.Sprintf(`Analyze the following email and extract actionable items.

Email Details:
- Subject: %s
- From: %s <%s>
- Received: %s (timezone: %s)

Email Body:
%s

User Context:
Kids:
%s

Known Activities:
%s

Extract all actionable items (tasks, events, deadlines) from this content. For each item:
- Determine the type (task/event/deadline)
- Extract title, description, dates/times
- Identify which kid(s) it relates to (if any)
- Match to known activities if applicable
- Extract location, URLs, checklist items if present
- Assign confidence score (0.0-1.0)
- Generate dedupe_key (e.g., hash of title + primary date)
- Provide rationale for why this item was extracted

Return your analysis as JSON matching the extraction schema.`,
		msg.Subject, senderName, msg.SenderEmail, receivedAt, timezone,
		msg.BodyText, kidsList, activitiesList)
}
