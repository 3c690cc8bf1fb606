package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"bankfeed/internal/lock"
	"bankfeed/internal/models"
	"bankfeed/internal/provider"
	"bankfeed/internal/repository"
)

var (
	// ErrSyncInFlight means another cycle holds the connection lock. Safe to
	// retry shortly; running two cycles at once would corrupt the cursor.
	ErrSyncInFlight       = errors.New("sync: already running for connection")
	ErrConnectionNotFound = errors.New("sync: connection not found")
	ErrConnectionDisabled = errors.New("sync: connection requires user action")
)

type Result struct {
	ConnectionID         uint   `json:"connection_id"`
	TransactionsAdded    int    `json:"transactions_added"`
	TransactionsModified int    `json:"transactions_modified"`
	TransactionsRemoved  int    `json:"transactions_removed"`
	NextCursor           string `json:"next_cursor"`
}

// Orchestrator executes one incremental-fetch cycle per call. The merge and
// the cursor advance commit in a single repository transaction; a failure
// anywhere before commit leaves the cursor at its last known-good value.
type Orchestrator struct {
	Repo     repository.Repository
	Provider provider.Client
	Locks    lock.Locker
	Logger   *zap.Logger
	LockTTL  time.Duration
}

func connLockKey(connectionID uint) string {
	return fmt.Sprintf("sync:conn:%d", connectionID)
}

func (o *Orchestrator) RunSync(ctx context.Context, connectionID uint) (Result, error) {
	lockTTL := o.LockTTL
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	key := connLockKey(connectionID)
	token, acquired, err := o.Locks.Acquire(ctx, key, lockTTL)
	if err != nil {
		return Result{}, err
	}
	if !acquired {
		return Result{}, ErrSyncInFlight
	}
	defer func() {
		if err := o.Locks.Release(context.WithoutCancel(ctx), key, token); err != nil && o.Logger != nil {
			o.Logger.Warn("release sync lock failed", zap.Uint("connection_id", connectionID), zap.Error(err))
		}
	}()

	conn, err := o.Repo.GetConnection(ctx, connectionID)
	if err != nil {
		return Result{}, err
	}
	if conn == nil {
		return Result{}, fmt.Errorf("%w: id %d", ErrConnectionNotFound, connectionID)
	}
	if conn.Status == models.ConnectionDisconnected || conn.Status == models.ConnectionLoginRequired {
		return Result{}, fmt.Errorf("%w: status %s", ErrConnectionDisabled, conn.Status)
	}

	delta, err := o.Provider.TransactionsSync(ctx, conn.CredentialRef, conn.Cursor)
	if err != nil {
		if provider.Permanent(err) {
			code := "credentials_invalid"
			msg := err.Error()
			if uerr := o.Repo.UpdateConnectionStatus(ctx, conn.ID, models.ConnectionLoginRequired, &code, &msg); uerr != nil && o.Logger != nil {
				o.Logger.Error("mark connection login_required failed", zap.Uint("connection_id", conn.ID), zap.Error(uerr))
			}
			return Result{}, fmt.Errorf("%w: %w", ErrConnectionDisabled, err)
		}
		// Transient: no cursor or status mutation, the caller retries.
		return Result{}, err
	}

	now := time.Now().UTC()
	upserts := make([]models.Transaction, 0, len(delta.Added)+len(delta.Modified))
	upserts = append(upserts, mapTransactions(conn.ID, delta.Added, now)...)
	upserts = append(upserts, mapTransactions(conn.ID, delta.Modified, now)...)

	err = o.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := o.Repo.UpsertTransactionsTx(ctx, tx, upserts); err != nil {
			return err
		}
		if err := o.Repo.MarkTransactionsRemovedTx(ctx, tx, conn.ID, delta.Removed, now); err != nil {
			return err
		}
		if delta.NextCursor != "" {
			cursor := delta.NextCursor
			conn.Cursor = &cursor
		}
		conn.Status = models.ConnectionConnected
		conn.LastSyncAt = &now
		conn.LastErrorCode = nil
		conn.LastErrorMsg = nil
		return o.Repo.SaveConnectionTx(ctx, tx, conn)
	})
	if err != nil {
		return Result{}, fmt.Errorf("merge sync delta: %w", err)
	}

	result := Result{
		ConnectionID:         conn.ID,
		TransactionsAdded:    len(delta.Added),
		TransactionsModified: len(delta.Modified),
		TransactionsRemoved:  len(delta.Removed),
		NextCursor:           delta.NextCursor,
	}
	if o.Logger != nil {
		o.Logger.Info("sync cycle done",
			zap.Uint("connection_id", conn.ID),
			zap.Int("added", result.TransactionsAdded),
			zap.Int("modified", result.TransactionsModified),
			zap.Int("removed", result.TransactionsRemoved),
		)
	}
	return result, nil
}

// Permanent reports whether err should not be retried by the worker pool.
func Permanent(err error) bool {
	return provider.Permanent(err) ||
		errors.Is(err, ErrConnectionDisabled) ||
		errors.Is(err, ErrConnectionNotFound)
}

func mapTransactions(connectionID uint, items []provider.ProviderTransaction, now time.Time) []models.Transaction {
	out := make([]models.Transaction, 0, len(items))
	for _, item := range items {
		if item.ExternalID == "" {
			continue
		}
		out = append(out, models.Transaction{
			ConnectionID:      connectionID,
			ExternalID:        item.ExternalID,
			AccountExternalID: item.AccountExternalID,
			Amount:            item.Amount,
			CurrencyCode:      item.CurrencyCode,
			Date:              item.Date,
			Description:       item.Description,
			Category:          item.Category,
			Pending:           item.Pending,
			Removed:           false,
			SyncedAt:          now,
			UpdatedAt:         now,
		})
	}
	return out
}
