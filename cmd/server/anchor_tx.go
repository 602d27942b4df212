package main

import (
	"context"
	"database/sql"
	"time"

	dErrors "contramind/pkg/domain-errors"
	txcontext "contramind/pkg/platform/tx"
)

const defaultAnchorTxTimeout = 30 * time.Second

// anchorPostgresTx runs the locked range read of an anchor build in a
// transaction. Signing and the anchor insert happen after it commits.
type anchorPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newAnchorPostgresTx(db *sql.DB) *anchorPostgresTx {
	return &anchorPostgresTx{db: db}
}

func (t *anchorPostgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultAnchorTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return txcontext.Run(ctx, t.db, nil, fn)
}
