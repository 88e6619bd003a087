package store

import "time"

// Item types.
const (
	ItemTypeTask     = "task"
	ItemTypeEvent    = "event"
	ItemTypeDeadline = "deadline"
)

// Item statuses.
const (
	ItemStatusOpen      = "open"
	ItemStatusDone      = "done"
	ItemStatusSnoozed   = "snoozed"
	ItemStatusDismissed = "dismissed"
)

// Item provenance.
const (
	CreatedFromApproved = "approved"
	CreatedFromManual   = "manual"
	CreatedFromChat     = "chat"
)

// Suggestion states.
const (
	SuggestionStateNew      = "new"
	SuggestionStateApproved = "approved"
	SuggestionStateIgnored  = "ignored"
	SuggestionStateMerged   = "merged"
)

// Source message providers.
const (
	ProviderManual  = "manual"
	ProviderOutlook = "outlook"
)

// ChecklistItem is one entry of an item's checklist.
type ChecklistItem struct {
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

// FamilyItem is the canonical task/event/deadline entity.
type FamilyItem struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Description *string         `json:"description"`
	StartAt     *time.Time      `json:"start_at"`
	EndAt       *time.Time      `json:"end_at"`
	DeadlineAt  *time.Time      `json:"deadline_at"`
	Status      string          `json:"status"`
	SnoozeUntil *time.Time      `json:"snooze_until"`
	Checklist   []ChecklistItem `json:"checklist"`
	Tags        []string        `json:"tags"`
	Priority    *int            `json:"priority"`
	CreatedFrom string          `json:"created_from"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ItemCreate holds the caller-supplied fields for a new item.
type ItemCreate struct {
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Description *string         `json:"description"`
	StartAt     *time.Time      `json:"start_at"`
	EndAt       *time.Time      `json:"end_at"`
	DeadlineAt  *time.Time      `json:"deadline_at"`
	Status      string          `json:"status"`
	Checklist   []ChecklistItem `json:"checklist"`
	Tags        []string        `json:"tags"`
	Priority    *int            `json:"priority"`
}

// ItemFilter narrows ListItems results. Zero values mean "no filter".
type ItemFilter struct {
	Status     string
	Type       string
	KidID      string
	ActivityID string
	Limit      int
	Offset     int
}

// Kid is a child profile.
type Kid struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Birthday  *string   `json:"birthday"` // date only, YYYY-MM-DD
	Grade     *string   `json:"grade"`
	Notes     *string   `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KidCreate holds the caller-supplied fields for a new kid.
type KidCreate struct {
	Name     string  `json:"name"`
	Birthday *string `json:"birthday"`
	Grade    *string `json:"grade"`
	Notes    *string `json:"notes"`
}

// Activity is a recurring-activity template (e.g. "Soccer practice").
type Activity struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Notes     *string   `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Link associates a family item with a kid, an activity, or its source
// message. Exactly one of the foreign keys besides FamilyItemID is set.
type Link struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	FamilyItemID    string    `json:"family_item_id"`
	KidID           *string   `json:"kid_id"`
	ActivityID      *string   `json:"activity_id"`
	SourceMessageID *string   `json:"source_message_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// SourceMessage is an ingested email or manual paste.
type SourceMessage struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Provider    string     `json:"provider"`
	ExternalID  *string    `json:"external_id"`
	Folder      *string    `json:"folder"`
	Subject     string     `json:"subject"`
	SenderName  *string    `json:"sender_name"`
	SenderEmail string     `json:"sender_email"`
	ReceivedAt  *time.Time `json:"received_at"`
	BodyText    string     `json:"body_text"`
	BodyHTML    *string    `json:"body_html"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SourceMessageCreate holds the fields for a new source message.
type SourceMessageCreate struct {
	Provider    string
	ExternalID  *string
	Folder      *string
	Subject     string
	SenderName  *string
	SenderEmail string
	ReceivedAt  *time.Time
	BodyText    string
	BodyHTML    *string
}

// Extraction is one recorded AI extraction run over a source message.
type Extraction struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	SourceMessageID  string    `json:"source_message_id"`
	ExtractorVersion string    `json:"extractor_version"`
	InputSnapshot    string    `json:"input_snapshot"` // JSON
	OutputRaw        string    `json:"output_raw"`     // JSON
	CreatedAt        time.Time `json:"created_at"`
}

// Suggestion is a not-yet-approved item proposed by extraction.
type Suggestion struct {
	ID                    string     `json:"id"`
	UserID                string     `json:"user_id"`
	ExtractionID          string     `json:"extraction_id"`
	Type                  string     `json:"type"`
	Title                 string     `json:"title"`
	Description           *string    `json:"description"`
	StartAt               *time.Time `json:"start_at"`
	EndAt                 *time.Time `json:"end_at"`
	DeadlineAt            *time.Time `json:"deadline_at"`
	LocationText          *string    `json:"location_text"`
	URLs                  []string   `json:"urls"`
	Checklist             []string   `json:"checklist"`
	Confidence            float64    `json:"confidence"`
	SuggestedKidIDs       []string   `json:"suggested_kid_ids"`
	SuggestedActivityName *string    `json:"suggested_activity_name"`
	DedupeKey             string     `json:"dedupe_key"`
	State                 string     `json:"state"`
	CreatedAt             time.Time  `json:"created_at"`
}

// SuggestionCreate holds the fields for one extracted suggestion.
type SuggestionCreate struct {
	Type                  string
	Title                 string
	Description           *string
	StartAt               *time.Time
	EndAt                 *time.Time
	DeadlineAt            *time.Time
	LocationText          *string
	URLs                  []string
	Checklist             []string
	Confidence            float64
	SuggestedKidIDs       []string
	SuggestedActivityName *string
	DedupeKey             string
}
