package provider

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Typed failure modes of the aggregation provider. Anything else coming out
// of a call is treated as transient and retried.
var (
	ErrCredentialsInvalid = errors.New("provider: credentials invalid")
	ErrRateLimited        = errors.New("provider: rate limited")
)

// ProviderTransaction is one transaction as reported by the provider.
// ExternalID is globally unique within a connection.
type ProviderTransaction struct {
	ExternalID        string          `json:"id"`
	AccountExternalID string          `json:"account_id"`
	Amount            decimal.Decimal `json:"amount"`
	CurrencyCode      string          `json:"currency_code"`
	Date              time.Time       `json:"date"`
	Description       string          `json:"description"`
	Category          string          `json:"category"`
	Pending           bool            `json:"pending"`
}

// SyncDelta is one page of incremental changes since the given cursor.
type SyncDelta struct {
	Added      []ProviderTransaction `json:"added"`
	Modified   []ProviderTransaction `json:"modified"`
	Removed    []string              `json:"removed"`
	NextCursor string                `json:"next_cursor"`
}

// Client is the external fetch capability. A nil cursor asks for the full
// history from the beginning.
type Client interface {
	TransactionsSync(ctx context.Context, credentialRef string, cursor *string) (*SyncDelta, error)
}

// Permanent reports whether err requires user action rather than a retry.
func Permanent(err error) bool {
	return errors.Is(err, ErrCredentialsInvalid)
}
