// Package extract turns ingested source messages into reviewable
// suggestions by prompting the language model and persisting the parsed
// output as an extraction run.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/andyfreed/kiddos/internal/llm"
	kiddosotel "github.com/andyfreed/kiddos/internal/otel"
	"github.com/andyfreed/kiddos/internal/store"
)

var tracer = kiddosotel.Tracer("github.com/andyfreed/kiddos/internal/extract")

// ExtractorVersion tags stored extraction runs so output-format changes
// stay distinguishable in history.
const ExtractorVersion = "v1"

// Extractor runs AI extraction over source messages.
type Extractor struct {
	store    *store.Store
	provider llm.Provider
	model    string
	timezone string
	schema   *gojsonschema.Schema
}

// NewExtractor wires an extractor. It fails only if the output schema
// does not compile, which is a programming error caught at startup.
func NewExtractor(st *store.Store, provider llm.Provider, model string) (*Extractor, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(outputSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling extraction output schema: %w", err)
	}
	return &Extractor{
		store:    st,
		provider: provider,
		model:    model,
		timezone: "UTC",
		schema:   schema,
	}, nil
}

type outputSuggestion struct {
	Type                  string   `json:"type"`
	Title                 string   `json:"title"`
	Description           *string  `json:"description"`
	StartAt               *string  `json:"start_at"`
	EndAt                 *string  `json:"end_at"`
	DeadlineAt            *string  `json:"deadline_at"`
	LocationText          *string  `json:"location_text"`
	URLs                  []string `json:"urls"`
	Checklist             []string `json:"checklist"`
	Confidence            float64  `json:"confidence"`
	SuggestedKidIDs       []string `json:"suggested_kid_ids"`
	SuggestedActivityName *string  `json:"suggested_activity_name"`
	DedupeKey             *string  `json:"dedupe_key"`
	Rationale             *string  `json:"rationale"`
}

type extractionOutput struct {
	Suggestions []outputSuggestion `json:"suggestions"`
}

// Run extracts suggestions for one source message: prompt the model,
// validate and parse its JSON output, persist the extraction run and
// deduplicated suggestions, and best-effort upsert any suggested
// activity templates.
func (e *Extractor) Run(ctx context.Context, userID, sourceMessageID string) (*store.Extraction, []*store.Suggestion, error) {
	ctx, span := tracer.Start(ctx, "extract.run")
	defer span.End()
	span.SetAttributes(attribute.String("source_message.id", sourceMessageID))

	msg, err := e.store.GetSourceMessageByID(ctx, userID, sourceMessageID)
	if err != nil {
		return nil, nil, err
	}
	if msg == nil {
		return nil, nil, fmt.Errorf("source message %s not found", sourceMessageID)
	}
	kids, err := e.store.ListKids(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	activities, err := e.store.ListActivities(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	resp, err := e.provider.Generate(ctx, &llm.Request{
		Model: e.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: userPrompt(msg, kids, activities, e.timezone)},
		},
		ToolChoice: llm.ToolChoiceNone,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("extraction model call failed: %w", err)
	}
	if resp.Content == "" {
		return nil, nil, fmt.Errorf("extraction model returned no content")
	}

	raw := stripCodeFence(resp.Content)
	result, err := e.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("extraction output is not valid JSON: %w", err)
	}
	if !result.Valid() {
		var fields []string
		for _, resErr := range result.Errors() {
			fields = append(fields, resErr.String())
		}
		return nil, nil, fmt.Errorf("extraction output failed schema validation: %s", strings.Join(fields, "; "))
	}
	var output extractionOutput
	if err := json.Unmarshal([]byte(raw), &output); err != nil {
		return nil, nil, fmt.Errorf("parsing extraction output: %w", err)
	}

	creates := make([]store.SuggestionCreate, 0, len(output.Suggestions))
	for _, sg := range output.Suggestions {
		creates = append(creates, store.SuggestionCreate{
			Type:                  sg.Type,
			Title:                 sg.Title,
			Description:           sg.Description,
			StartAt:               parseTimestamp(sg.StartAt),
			EndAt:                 parseTimestamp(sg.EndAt),
			DeadlineAt:            parseTimestamp(sg.DeadlineAt),
			LocationText:          sg.LocationText,
			URLs:                  sg.URLs,
			Checklist:             sg.Checklist,
			Confidence:            sg.Confidence,
			SuggestedKidIDs:       sg.SuggestedKidIDs,
			SuggestedActivityName: sg.SuggestedActivityName,
			DedupeKey:             dedupeKey(sg),
		})
	}

	snapshot, err := json.Marshal(map[string]any{"sourceMessage": msg})
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling input snapshot: %w", err)
	}
	extraction, sugs, err := e.store.CreateExtraction(ctx, userID, msg.ID, ExtractorVersion, string(snapshot), raw, creates)
	if err != nil {
		return nil, nil, err
	}

	// Best-effort: ensure suggested activity templates exist.
	seen := map[string]bool{}
	for _, sg := range output.Suggestions {
		if sg.SuggestedActivityName == nil {
			continue
		}
		name := strings.TrimSpace(*sg.SuggestedActivityName)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if _, _, err := e.store.UpsertActivityByName(ctx, userID, name); err != nil {
			log.Warn().Err(err).Str("activity", name).Msg("activity_upsert_failed")
		}
	}

	log.Info().
		Str("extraction_id", extraction.ID).
		Str("source_message_id", msg.ID).
		Int("suggestions", len(sugs)).
		Msg("extraction_completed")
	return extraction, sugs, nil
}

// stripCodeFence tolerates models that wrap JSON in a markdown fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func parseTimestamp(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// dedupeKey uses the model-provided key when present and otherwise
// hashes title plus primary date.
func dedupeKey(sg outputSuggestion) string {
	if sg.DedupeKey != nil && strings.TrimSpace(*sg.DedupeKey) != "" {
		return strings.TrimSpace(*sg.DedupeKey)
	}
	primary := ""
	for _, candidate := range []*string{sg.StartAt, sg.DeadlineAt, sg.EndAt} {
		if candidate != nil && *candidate != "" {
			primary = *candidate
			break
		}
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(sg.Title)) + "|" + primary))
	return hex.EncodeToString(sum[:16])
}
