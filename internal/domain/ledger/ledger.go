// Package ledger defines the contract with the general ledger subsystem.
// The aggregation core writes transactions into the ledger but does not own
// them; dedup is keyed by (user, external reference).
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger transaction types and subtypes.
const (
	TypeIncome  = "INCOME"
	TypeExpense = "EXPENSE"

	SubtypeVariable = "VARIABLE"
)

// Source tags derived from the remote account type.
const (
	SourceBankTransfer = "BANK_TRANSFER"
	SourceCreditCard   = "CREDIT_CARD"
	SourceDebitCard    = "DEBIT_CARD"
	SourceOther        = "OTHER"
)

// DefaultCategory is the shared category under which imported Open Finance
// transactions land.
const DefaultCategory = "Open Finance"

// TransactionDTO is the mapped form of one remote transaction, ready for
// insertion into the ledger.
type TransactionDTO struct {
	UserID            int64
	Type              string
	Subtype           string
	Source            string
	Description       string
	Amount            decimal.Decimal
	Date              time.Time
	CategoryID        string
	SourceEntityID    string
	ExternalReference string
	BankReference     string
}

// Category is a ledger category resolved or lazily created by name.
type Category struct {
	ID   string
	Name string
}

// SourceEntity is the per-account payer/payee entity under which imported
// transactions are grouped, named "{institution} - {account}".
type SourceEntity struct {
	ID     string
	UserID int64
	Name   string
}

// Ledger is the collaborator contract with the general ledger subsystem.
type Ledger interface {
	CreateTransaction(ctx context.Context, dto TransactionDTO) (string, error)
	ExistsByUserAndExternalReference(ctx context.Context, userID int64, externalReference string) (bool, error)
	FindOrCreateCategory(ctx context.Context, name string) (*Category, error)
	FindOrCreateSourceEntity(ctx context.Context, name string, userID int64) (*SourceEntity, error)
}
