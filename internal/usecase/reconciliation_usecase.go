package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/presaleledger/internal/domain"
)

var (
	// ErrInconsistentLedger is returned when balances disagree with the entries
	// that produced them or a stage invariant is broken.
	ErrInconsistentLedger = errors.New("ledger is inconsistent")
)

const reconcilePageSize = 500

// ReconciliationUseCase replays the ledger and compares it with stored state.
type ReconciliationUseCase struct {
	accountRepo AccountRepository
	entryRepo   EntryRepository
	stageRepo   StageRepository
	tokenSymbol string
}

// NewReconciliationUseCase creates a new reconciliation use case
func NewReconciliationUseCase(
	accountRepo AccountRepository,
	entryRepo EntryRepository,
	stageRepo StageRepository,
	policy Policy,
) *ReconciliationUseCase {
	return &ReconciliationUseCase{
		accountRepo: accountRepo,
		entryRepo:   entryRepo,
		stageRepo:   stageRepo,
		tokenSymbol: policy.TokenSymbol,
	}
}

// ReconciliationResult represents the result of a reconciliation check
type ReconciliationResult struct {
	AccountID          string                     `json:"account_id"`
	RecordedTokens     int64                      `json:"recorded_tokens"`
	CalculatedTokens   decimal.Decimal            `json:"calculated_tokens"`
	RecordedBalances   map[string]decimal.Decimal `json:"recorded_balances"`
	CalculatedBalances map[string]decimal.Decimal `json:"calculated_balances"`
	Differences        []string                   `json:"differences,omitempty"`
	IsReconciled       bool                       `json:"is_reconciled"`
	LastChecked        time.Time                  `json:"last_checked"`
}

// ReconcileAccount replays an account's entries from zero and compares the
// totals with its token holding and fiat balances.
func (uc *ReconciliationUseCase) ReconcileAccount(ctx context.Context, accountID string) (*ReconciliationResult, error) {
	account, err := uc.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return uc.reconcile(ctx, account)
}

func (uc *ReconciliationUseCase) reconcile(ctx context.Context, account *domain.Account) (*ReconciliationResult, error) {
	sums, err := uc.entryRepo.SumByAccount(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	result := &ReconciliationResult{
		AccountID:          account.ID,
		RecordedTokens:     account.TokensOwned,
		CalculatedTokens:   sums[uc.tokenSymbol],
		RecordedBalances:   make(map[string]decimal.Decimal),
		CalculatedBalances: make(map[string]decimal.Decimal),
		LastChecked:        time.Now().UTC(),
	}

	if !result.CalculatedTokens.Equal(decimal.NewFromInt(account.TokensOwned)) {
		result.Differences = append(result.Differences, fmt.Sprintf(
			"%s: recorded=%d calculated=%s", uc.tokenSymbol, account.TokensOwned, result.CalculatedTokens))
	}

	currencies := make(map[string]struct{})
	for cur, v := range account.Balances {
		result.RecordedBalances[cur] = v
		currencies[cur] = struct{}{}
	}
	for cur, v := range sums {
		if cur == uc.tokenSymbol {
			continue
		}
		result.CalculatedBalances[cur] = v
		currencies[cur] = struct{}{}
	}

	keys := make([]string, 0, len(currencies))
	for cur := range currencies {
		keys = append(keys, cur)
	}
	sort.Strings(keys)
	for _, cur := range keys {
		recorded := result.RecordedBalances[cur]
		calculated := result.CalculatedBalances[cur]
		if !recorded.Equal(calculated) {
			result.Differences = append(result.Differences, fmt.Sprintf(
				"%s: recorded=%s calculated=%s", cur, recorded, calculated))
		}
	}

	result.IsReconciled = len(result.Differences) == 0
	return result, nil
}

// ReconcileAllAccounts reconciles all accounts in the system
func (uc *ReconciliationUseCase) ReconcileAllAccounts(ctx context.Context) ([]*ReconciliationResult, error) {
	var results []*ReconciliationResult

	for offset := 0; ; offset += reconcilePageSize {
		accounts, err := uc.accountRepo.List(ctx, reconcilePageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, account := range accounts {
			result, err := uc.reconcile(ctx, account)
			if err != nil {
				return nil, fmt.Errorf("failed to reconcile account %s: %w", account.ID, err)
			}
			results = append(results, result)
		}
		if len(accounts) < reconcilePageSize {
			break
		}
	}

	return results, nil
}

// CheckStageInvariants verifies stage counters and the active stage pointer.
// It returns the violations found.
func (uc *ReconciliationUseCase) CheckStageInvariants(ctx context.Context) ([]string, error) {
	stages, err := uc.stageRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	state, err := uc.stageRepo.GetState(ctx, nil)
	if err != nil {
		return nil, err
	}

	var violations []string
	var active []int
	for _, s := range stages {
		if s.TokensSold < 0 || s.TokensSold > s.TokensAvailable {
			violations = append(violations, fmt.Sprintf(
				"stage %d: sold=%d available=%d", s.Ordinal, s.TokensSold, s.TokensAvailable))
		}
		if s.TotalRaised.IsNegative() {
			violations = append(violations, fmt.Sprintf("stage %d: negative total raised %s", s.Ordinal, s.TotalRaised))
		}
		if s.Active {
			active = append(active, s.Ordinal)
		}
	}

	switch {
	case len(active) > 1:
		violations = append(violations, fmt.Sprintf("multiple active stages: %v", active))
	case len(active) == 1 && state.ActiveStage != active[0]:
		violations = append(violations, fmt.Sprintf(
			"presale state points at stage %d, stage %d is active", state.ActiveStage, active[0]))
	case len(active) == 0 && state.ActiveStage != 0:
		violations = append(violations, fmt.Sprintf(
			"presale state points at stage %d, no stage is active", state.ActiveStage))
	}

	return violations, nil
}

// CheckLedgerConsistency reconciles every account and checks stage
// invariants. It returns ErrInconsistentLedger when anything disagrees.
func (uc *ReconciliationUseCase) CheckLedgerConsistency(ctx context.Context) error {
	report, err := uc.GenerateReconciliationReport(ctx)
	if err != nil {
		return err
	}
	if !report.LedgerConsistent {
		return fmt.Errorf("%w: %d account discrepancies, %d stage violations",
			ErrInconsistentLedger, len(report.Discrepancies), len(report.StageViolations))
	}
	return nil
}

// ReconciliationReport represents a full reconciliation report
type ReconciliationReport struct {
	TotalAccounts      int                     `json:"total_accounts"`
	ReconciledAccounts int                     `json:"reconciled_accounts"`
	Discrepancies      []*ReconciliationResult `json:"discrepancies"`
	StageViolations    []string                `json:"stage_violations"`
	LedgerConsistent   bool                    `json:"ledger_consistent"`
	CheckedAt          time.Time               `json:"checked_at"`
}

// GenerateReconciliationReport generates a comprehensive reconciliation report
func (uc *ReconciliationUseCase) GenerateReconciliationReport(ctx context.Context) (*ReconciliationReport, error) {
	results, err := uc.ReconcileAllAccounts(ctx)
	if err != nil {
		return nil, err
	}

	violations, err := uc.CheckStageInvariants(ctx)
	if err != nil {
		return nil, err
	}

	report := &ReconciliationReport{
		TotalAccounts:   len(results),
		Discrepancies:   make([]*ReconciliationResult, 0),
		StageViolations: violations,
		CheckedAt:       time.Now().UTC(),
	}
	if report.StageViolations == nil {
		report.StageViolations = []string{}
	}

	for _, result := range results {
		if result.IsReconciled {
			report.ReconciledAccounts++
		} else {
			report.Discrepancies = append(report.Discrepancies, result)
		}
	}

	report.LedgerConsistent = len(report.Discrepancies) == 0 && len(report.StageViolations) == 0
	return report, nil
}
