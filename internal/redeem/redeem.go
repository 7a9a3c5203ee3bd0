package redeem

import (
	"context"
	"errors"

	"gatebot/internal/catalog"
	"gatebot/internal/gate"
	"gatebot/internal/stats"
)

type Status string

const (
	StatusGranted     Status = "granted"
	StatusInvalidCode Status = "invalid_code"
	StatusBlocked     Status = "blocked"
)

type Result struct {
	Status  Status
	Entry   *catalog.Entry // set when Status is StatusGranted
	Missing []string       // set when Status is StatusBlocked
}

// Flow runs one redemption attempt: membership gate first, then code
// resolution. Every attempt re-checks membership; a prior success is
// never cached.
type Flow struct {
	gate    *gate.Gate
	catalog *catalog.Store
}

func New(g *gate.Gate, c *catalog.Store) *Flow {
	return &Flow{gate: g, catalog: c}
}

// Redeem resolves a submitted code for a user. When the gate blocks, the
// code is not evaluated at all. Invalid codes allow unlimited retries.
func (f *Flow) Redeem(ctx context.Context, userID int64, submitted string) (Result, error) {
	verdict, err := f.gate.Check(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if !verdict.Granted {
		stats.AddRedeemDenied(1)
		return Result{Status: StatusBlocked, Missing: verdict.Missing}, nil
	}

	entry, err := f.catalog.Resolve(submitted)
	if errors.Is(err, catalog.ErrCodeNotFound) {
		stats.AddRedeemDenied(1)
		return Result{Status: StatusInvalidCode}, nil
	}
	if err != nil {
		return Result{}, err
	}

	stats.AddRedeemGranted(1)
	return Result{Status: StatusGranted, Entry: entry}, nil
}
