package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ValidateFile decodes data, validates every row in file order and stores
// the result as a session. Decode failures are reported as a
// ValidationError with kind ParseFailed and no session is created.
func (s *Service) ValidateFile(ctx context.Context, entityKey string, data []byte, filename string, opts ImportOptions) (*SessionSummary, error) {
	start := s.now()

	def, err := Lookup(entityKey)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, len(data), s.cfg.MaxFileSize)
	}

	rows, err := Decode(data, filename)
	if err != nil {
		return nil, &ValidationError{Kind: ParseFailed, Cause: err}
	}

	// A missing store only disables duplicate detection here;
	// ExecuteImport rejects the session later.
	store := s.stores[entityKey]
	validator := NewRowValidator(def, store, s.logger)
	validator.now = s.now

	outcomes := make([]RowOutcome, 0, len(rows))
	var summary ImportSummary
	for i, row := range rows {
		if i%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		outcome := validator.Validate(ctx, row, rowNumber(row, i), opts)
		summary.Add(outcome, opts)
		outcomes = append(outcomes, outcome)
	}

	now := s.now()
	session := ValidationSession{
		ID:        uuid.NewString(),
		EntityKey: def.Info.Key,
		Filename:  filename,
		Options:   opts,
		Rows:      rows,
		Outcomes:  outcomes,
		Summary:   summary,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
	}
	if err := s.registry.PutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	previewLen := len(outcomes)
	if previewLen > s.cfg.PreviewLimit {
		previewLen = s.cfg.PreviewLimit
	}

	s.logger.Info("validation session created",
		"session_id", session.ID,
		"entity", def.Info.Key,
		"filename", filename,
		"rows", len(rows),
		"to_create", summary.ToCreate,
		"to_update", summary.ToUpdate,
		"to_skip", summary.ToSkip,
		"errors", summary.Errors,
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)

	return &SessionSummary{
		SessionID:   session.ID,
		EntityKey:   def.Info.Key,
		Filename:    filename,
		TotalRows:   len(rows),
		ValidRows:   summary.ToCreate + summary.ToUpdate,
		InvalidRows: summary.ToSkip + summary.Errors,
		Summary:     summary,
		Preview:     outcomes[:previewLen],
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

// rowNumber is the 1-based file line of a decoded row, falling back to
// its position after the header and instruction rows.
func rowNumber(row RawRow, index int) int {
	if row.Line > 0 {
		return row.Line
	}
	return index + DataRowOffset
}
