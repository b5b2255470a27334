package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/usecase"
)

const stageColumns = `ordinal, price_fiat, price_stable, tokens_available, tokens_sold,
	total_raised, participant_count, active, version, opened_at, closed_at,
	COALESCE(close_reason, ''), created_at, updated_at`

// StageRepository implements usecase.StageRepository over the
// presale_stages table and the presale_state singleton row.
type StageRepository struct {
	db DB
}

// NewStageRepository creates a new StageRepository.
func NewStageRepository(pool *pgxpool.Pool) *StageRepository {
	return &StageRepository{db: pool}
}

func newStageRepository(db DB) *StageRepository {
	return &StageRepository{db: db}
}

// Create inserts a stage.
func (r *StageRepository) Create(ctx context.Context, tx usecase.Transaction, stage *domain.PresaleStage) error {
	_, err := querier(r.db, tx).Exec(ctx, `
		INSERT INTO presale_stages (ordinal, price_fiat, price_stable, tokens_available,
			tokens_sold, total_raised, participant_count, active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		stage.Ordinal,
		stage.PriceFiat,
		stage.PriceStable,
		stage.TokensAvailable,
		stage.TokensSold,
		stage.TotalRaised,
		stage.ParticipantCount,
		stage.Active,
		stage.Version,
		stage.CreatedAt,
		stage.UpdatedAt,
	)
	switch {
	case uniqueViolation(err, ""):
		return domain.ErrInvalidStageOrdinal
	case checkViolation(err):
		return domain.ErrInvalidStage
	}
	return mapError(err)
}

// GetByOrdinal retrieves a stage.
func (r *StageRepository) GetByOrdinal(ctx context.Context, ordinal int) (*domain.PresaleStage, error) {
	return scanStage(r.db.QueryRow(ctx, `SELECT `+stageColumns+` FROM presale_stages WHERE ordinal = $1`, ordinal))
}

// GetByOrdinalForUpdate retrieves a stage with a FOR UPDATE lock.
func (r *StageRepository) GetByOrdinalForUpdate(ctx context.Context, tx usecase.Transaction, ordinal int) (*domain.PresaleStage, error) {
	return scanStage(querier(r.db, tx).QueryRow(ctx,
		`SELECT `+stageColumns+` FROM presale_stages WHERE ordinal = $1 FOR UPDATE`, ordinal))
}

// GetActive returns the selling stage.
func (r *StageRepository) GetActive(ctx context.Context) (*domain.PresaleStage, error) {
	stage, err := scanStage(r.db.QueryRow(ctx, `
		SELECT `+stageColumns+` FROM presale_stages
		WHERE ordinal = (SELECT active_stage FROM presale_state WHERE id = 1)`))
	if errors.Is(err, domain.ErrStageNotFound) {
		return nil, domain.ErrNoActiveStage
	}
	return stage, err
}

// ListFrom returns stages with ordinal >= fromOrdinal, locked, in ordinal order.
func (r *StageRepository) ListFrom(ctx context.Context, tx usecase.Transaction, fromOrdinal int) ([]*domain.PresaleStage, error) {
	query := `SELECT ` + stageColumns + ` FROM presale_stages WHERE ordinal >= $1 ORDER BY ordinal`
	if tx != nil {
		query += ` FOR UPDATE`
	}
	return r.list(ctx, querier(r.db, tx), query, fromOrdinal)
}

// List returns all stages in ordinal order.
func (r *StageRepository) List(ctx context.Context) ([]*domain.PresaleStage, error) {
	return r.list(ctx, r.db, `SELECT `+stageColumns+` FROM presale_stages ORDER BY ordinal`)
}

func (r *StageRepository) list(ctx context.Context, db DB, query string, args ...any) ([]*domain.PresaleStage, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var stages []*domain.PresaleStage
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return stages, mapError(rows.Err())
}

// MaxOrdinal returns the highest ordinal, zero when there are no stages.
func (r *StageRepository) MaxOrdinal(ctx context.Context, tx usecase.Transaction) (int, error) {
	var highest int
	err := querier(r.db, tx).QueryRow(ctx, `SELECT COALESCE(MAX(ordinal), 0) FROM presale_stages`).Scan(&highest)
	return highest, mapError(err)
}

// TotalRaised sums the fiat raised by every stage.
func (r *StageRepository) TotalRaised(ctx context.Context, tx usecase.Transaction) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := querier(r.db, tx).QueryRow(ctx, `SELECT COALESCE(SUM(total_raised), 0) FROM presale_stages`).Scan(&total)
	if err != nil {
		return decimal.Zero, mapError(err)
	}
	return total, nil
}

// ApplySale records a sale. The update only matches when the stage is active,
// at the expected version, and the sale fits the inventory; a closing sale
// must exhaust it exactly.
func (r *StageRepository) ApplySale(ctx context.Context, tx usecase.Transaction, sale domain.StageSale) error {
	if sale.Tokens < 0 {
		return domain.ErrConcurrencyConflict
	}
	participants := 0
	if sale.NewParticipant {
		participants = 1
	}

	tag, err := querier(r.db, tx).Exec(ctx, `
		UPDATE presale_stages
		SET tokens_sold = tokens_sold + $3,
			total_raised = total_raised + $4,
			participant_count = participant_count + $5,
			active = CASE WHEN $6 THEN FALSE ELSE active END,
			closed_at = CASE WHEN $6 THEN $7 ELSE closed_at END,
			close_reason = CASE WHEN $6 THEN 'sold_out' ELSE close_reason END,
			version = version + 1,
			updated_at = $7
		WHERE ordinal = $1 AND version = $2 AND active
			AND tokens_sold + $3 <= tokens_available
			AND (NOT $6 OR tokens_sold + $3 = tokens_available)`,
		sale.Ordinal,
		sale.ExpectedVersion,
		sale.Tokens,
		sale.Raised,
		participants,
		sale.Close,
		sale.At,
	)
	return r.conditional(ctx, tx, tag.RowsAffected(), err, sale.Ordinal)
}

// Activate opens a stage that has never been opened. The partial unique
// index on active stages rejects a second active stage.
func (r *StageRepository) Activate(ctx context.Context, tx usecase.Transaction, ordinal int, expectedVersion int64, at time.Time) error {
	tag, err := querier(r.db, tx).Exec(ctx, `
		UPDATE presale_stages
		SET active = TRUE, opened_at = $3, version = version + 1, updated_at = $3
		WHERE ordinal = $1 AND version = $2 AND NOT active AND opened_at IS NULL`,
		ordinal, expectedVersion, at,
	)
	if uniqueViolation(err, "presale_stages_one_active") {
		return domain.ErrConcurrencyConflict
	}
	return r.conditional(ctx, tx, tag.RowsAffected(), err, ordinal)
}

// Close ends an active stage.
func (r *StageRepository) Close(ctx context.Context, tx usecase.Transaction, ordinal int, expectedVersion int64, reason domain.StageCloseReason, at time.Time) error {
	tag, err := querier(r.db, tx).Exec(ctx, `
		UPDATE presale_stages
		SET active = FALSE, closed_at = $3, close_reason = $4, version = version + 1, updated_at = $3
		WHERE ordinal = $1 AND version = $2 AND active`,
		ordinal, expectedVersion, at, string(reason),
	)
	return r.conditional(ctx, tx, tag.RowsAffected(), err, ordinal)
}

// UpdateInventory changes the ceiling of a stage that has never been opened.
func (r *StageRepository) UpdateInventory(ctx context.Context, tx usecase.Transaction, ordinal int, expectedVersion int64, tokensAvailable int64, at time.Time) error {
	stage, err := r.GetByOrdinalForUpdate(ctx, tx, ordinal)
	if err != nil {
		return err
	}
	if stage.EverOpened() {
		return domain.ErrStageAlreadyOpened
	}

	tag, err := querier(r.db, tx).Exec(ctx, `
		UPDATE presale_stages
		SET tokens_available = $3, version = version + 1, updated_at = $4
		WHERE ordinal = $1 AND version = $2 AND opened_at IS NULL AND tokens_sold <= $3`,
		ordinal, expectedVersion, tokensAvailable, at,
	)
	return r.conditional(ctx, tx, tag.RowsAffected(), err, ordinal)
}

// conditional turns the outcome of a guarded update into a domain error.
func (r *StageRepository) conditional(ctx context.Context, tx usecase.Transaction, affected int64, err error, ordinal int) error {
	if err != nil {
		if checkViolation(err) {
			return domain.ErrConcurrencyConflict
		}
		return mapError(err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := querier(r.db, tx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM presale_stages WHERE ordinal = $1)`, ordinal).Scan(&exists); err != nil {
		return mapError(err)
	}
	if !exists {
		return domain.ErrStageNotFound
	}
	return domain.ErrConcurrencyConflict
}

// MarkParticipant records an account's first purchase in a stage.
func (r *StageRepository) MarkParticipant(ctx context.Context, tx usecase.Transaction, ordinal int, accountID string, at time.Time) (bool, error) {
	tag, err := querier(r.db, tx).Exec(ctx, `
		INSERT INTO stage_participants (stage_ordinal, account_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (stage_ordinal, account_id) DO NOTHING`,
		ordinal, accountID, at,
	)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetState returns the presale state, locking it when tx is set.
func (r *StageRepository) GetState(ctx context.Context, tx usecase.Transaction) (*domain.PresaleState, error) {
	query := `SELECT COALESCE(active_stage, 0), version, updated_at FROM presale_state WHERE id = 1`
	if tx != nil {
		query += ` FOR UPDATE`
	}

	var state domain.PresaleState
	err := querier(r.db, tx).QueryRow(ctx, query).Scan(&state.ActiveStage, &state.Version, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.PresaleState{}, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &state, nil
}

// SetActiveStage moves the active stage pointer if the state version is current.
func (r *StageRepository) SetActiveStage(ctx context.Context, tx usecase.Transaction, expectedVersion int64, ordinal int, at time.Time) error {
	tag, err := querier(r.db, tx).Exec(ctx, `
		UPDATE presale_state
		SET active_stage = NULLIF($2, 0), version = version + 1, updated_at = $3
		WHERE id = 1 AND version = $1`,
		expectedVersion, ordinal, at,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConcurrencyConflict
	}
	return nil
}

func scanStage(row pgx.Row) (*domain.PresaleStage, error) {
	var (
		s      domain.PresaleStage
		reason string
	)
	err := row.Scan(
		&s.Ordinal,
		&s.PriceFiat,
		&s.PriceStable,
		&s.TokensAvailable,
		&s.TokensSold,
		&s.TotalRaised,
		&s.ParticipantCount,
		&s.Active,
		&s.Version,
		&s.OpenedAt,
		&s.ClosedAt,
		&reason,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrStageNotFound
		}
		return nil, mapError(err)
	}
	s.CloseReason = domain.StageCloseReason(reason)
	return &s, nil
}
