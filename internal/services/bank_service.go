package services

import (
	"context"
	"log/slog"
	"time"

	"ticket-payments/internal/gateway"
)

type BankDirectory interface {
	ListBanks(ctx context.Context) ([]gateway.Bank, error)
}

type BankCache interface {
	CachedBanks(ctx context.Context) ([]gateway.Bank, bool, error)
	CacheBanks(ctx context.Context, banks []gateway.Bank, ttl time.Duration) error
}

// BankService serves the bank list from cache, falling back to the processor.
type BankService struct {
	directory BankDirectory
	cache     BankCache
	ttl       time.Duration
	logger    *slog.Logger
}

func NewBankService(dir BankDirectory, cache BankCache, ttl time.Duration, logger *slog.Logger) *BankService {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &BankService{directory: dir, cache: cache, ttl: ttl, logger: logger}
}

func (s *BankService) List(ctx context.Context) ([]gateway.Bank, error) {
	banks, ok, err := s.cache.CachedBanks(ctx)
	if err != nil {
		s.logger.Warn("bank cache read failed", "error", err)
	}
	if ok {
		return banks, nil
	}

	banks, err = s.directory.ListBanks(ctx)
	if err != nil {
		return nil, err
	}
	if len(banks) > 0 {
		if err := s.cache.CacheBanks(ctx, banks, s.ttl); err != nil {
			s.logger.Warn("bank cache write failed", "error", err)
		}
	}
	return banks, nil
}
