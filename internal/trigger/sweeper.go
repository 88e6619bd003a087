// Package trigger runs the scheduled extraction sweep: ingested
// messages that have no extraction yet get processed in the background
// so suggestions appear without the user asking for them.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/andyfreed/kiddos/internal/requestctx"
	"github.com/andyfreed/kiddos/internal/store"
)

// ExtractionRunner runs AI extraction over one source message.
type ExtractionRunner interface {
	Run(ctx context.Context, userID, sourceMessageID string) (*store.Extraction, []*store.Suggestion, error)
}

// batchPerUser bounds how many messages one sweep processes per user.
const batchPerUser = 10

// Sweeper schedules periodic extraction over unprocessed messages.
type Sweeper struct {
	cron      *cron.Cron
	store     *store.Store
	extractor ExtractionRunner
}

// NewSweeper creates a sweeper. Schedules use the standard 5-field cron
// format or descriptors like "@every 15m".
func NewSweeper(st *store.Store, extractor ExtractionRunner) *Sweeper {
	return &Sweeper{
		cron:      cron.New(),
		store:     st,
		extractor: extractor,
	}
}

// Register adds the sweep at the given schedule.
func (s *Sweeper) Register(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("registering sweep schedule %q: %w", schedule, err)
	}
	return nil
}

// Sweep runs one extraction pass over every user's unprocessed
// messages. Failures are logged and skipped; one bad message never
// blocks the rest.
func (s *Sweeper) Sweep(ctx context.Context) {
	userIDs, err := s.store.ListMessageUserIDs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("sweep_user_listing_failed")
		return
	}

	for _, userID := range userIDs {
		messages, err := s.store.ListUnextractedMessages(ctx, userID, batchPerUser)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("sweep_message_listing_failed")
			continue
		}
		if len(messages) == 0 {
			continue
		}
		userCtx := requestctx.SetUserID(ctx, userID)
		for _, msg := range messages {
			if _, _, err := s.extractor.Run(userCtx, userID, msg.ID); err != nil {
				log.Warn().Err(err).
					Str("user_id", userID).
					Str("source_message_id", msg.ID).
					Msg("sweep_extraction_failed")
				continue
			}
		}
		log.Info().Str("user_id", userID).Int("messages", len(messages)).Msg("sweep_completed")
	}
}

// Start begins executing the registered sweep schedule.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
