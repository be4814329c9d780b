package gl

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Service builds GL reports from posted entries, caching results behind
// the versioned cache when one is configured.
type Service struct {
	repo    Repository
	cache   *Cache
	logger  *slog.Logger
	flights singleflight.Group
}

// NewService builds the reporting service.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// Cache exposes the cache so the posting side can bump it.
func (s *Service) Cache() *Cache {
	return s.cache
}

// TrialBalance builds the grouped trial balance for one window. Concurrent
// identical requests collapse into one build.
func (s *Service) TrialBalance(ctx context.Context, scope shared.Scope, from, to time.Time) (TrialBalance, error) {
	if from.After(to) {
		return TrialBalance{}, ErrInvalidRange
	}
	key, err := s.cache.BuildKey(ctx, keyTrialBalance(scope.CompanyID, from, to))
	if err != nil {
		return TrialBalance{}, err
	}
	result, err := s.flightDo(ctx, key, func(ctx context.Context) (any, error) {
		var tb TrialBalance
		err := s.cache.FetchJSON(ctx, key, &tb, func(ctx context.Context) (any, error) {
			accounts, err := s.repo.AccountBalances(ctx, scope.CompanyID, from, to)
			if err != nil {
				return nil, err
			}
			return BuildTrialBalance(from, to, accounts), nil
		})
		return tb, err
	})
	if err != nil {
		return TrialBalance{}, err
	}
	tb, ok := result.(TrialBalance)
	if !ok {
		return TrialBalance{}, errUnexpectedCacheValue
	}
	return tb, nil
}

// AccountLedger builds one account's ledger with running balances.
func (s *Service) AccountLedger(ctx context.Context, scope shared.Scope, accountID int64, from, to time.Time) (AccountLedger, error) {
	if from.After(to) {
		return AccountLedger{}, ErrInvalidRange
	}
	account, err := s.repo.GetAccount(ctx, scope.CompanyID, accountID)
	if err != nil {
		return AccountLedger{}, err
	}
	key, err := s.cache.BuildKey(ctx, keyAccountLedger(scope.CompanyID, accountID, from, to))
	if err != nil {
		return AccountLedger{}, err
	}
	result, err := s.flightDo(ctx, key, func(ctx context.Context) (any, error) {
		var ledger AccountLedger
		err := s.cache.FetchJSON(ctx, key, &ledger, func(ctx context.Context) (any, error) {
			return s.buildAccountLedger(ctx, scope.CompanyID, account, from, to)
		})
		return ledger, err
	})
	if err != nil {
		return AccountLedger{}, err
	}
	ledger, ok := result.(AccountLedger)
	if !ok {
		return AccountLedger{}, errUnexpectedCacheValue
	}
	return ledger, nil
}

func (s *Service) buildAccountLedger(ctx context.Context, companyID int64, account AccountRef, from, to time.Time) (AccountLedger, error) {
	opening, err := s.repo.OpeningBalance(ctx, companyID, account.ID, from)
	if err != nil {
		return AccountLedger{}, err
	}
	rows, err := s.repo.AccountMovements(ctx, companyID, account.ID, from, to)
	if err != nil {
		return AccountLedger{}, err
	}

	ledger := AccountLedger{Account: account, From: from, To: to, Opening: opening}
	balance := opening
	for _, row := range rows {
		balance = balance.Add(row.Debit).Sub(row.Credit)
		row.Balance = balance
		ledger.TotalDebit = ledger.TotalDebit.Add(row.Debit)
		ledger.TotalCredit = ledger.TotalCredit.Add(row.Credit)
		ledger.Rows = append(ledger.Rows, row)
	}
	ledger.Closing = balance
	return ledger, nil
}

// flightDo collapses concurrent builds of the same key into one, honoring
// caller cancellation without abandoning the shared build.
func (s *Service) flightDo(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	resultChan := s.flights.DoChan(key, func() (any, error) {
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		return res.Val, res.Err
	}
}
