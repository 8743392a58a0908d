package repository

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/donorbook/internal/ledger/domain"
	pkgdb "github.com/smallbiznis/donorbook/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 200

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEntries(ctx context.Context, db *gorm.DB, entries []domain.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(entries, insertBatchSize).Error
}

func (r *repo) DeleteByAccounts(ctx context.Context, db *gorm.DB, accounts []domain.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Where("account IN ?", accounts).
		Delete(&domain.LedgerEntry{}).Error
}

func (r *repo) DeleteByTransaction(ctx context.Context, db *gorm.DB, transactionID string) (int64, error) {
	result := db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Delete(&domain.LedgerEntry{})
	return result.RowsAffected, result.Error
}

func (r *repo) ListEntries(ctx context.Context, db *gorm.DB, account domain.Account, filter domain.LedgerFilter) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	stmt := db.WithContext(ctx).Model(&domain.LedgerEntry{}).
		Where("account = ?", account)

	if filter.DateFrom != nil {
		stmt = stmt.Where("date >= ?", filter.DateFrom.UTC())
	}
	if filter.DateTo != nil {
		stmt = stmt.Where("date <= ?", filter.DateTo.UTC())
	}

	stmt = stmt.Order("date desc, sequence desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) LatestEntry(ctx context.Context, db *gorm.DB, account domain.Account) (*domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	if err := db.WithContext(ctx).
		Where("account = ?", account).
		Order("sequence desc, id desc").
		Limit(1).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (r *repo) CountEntries(ctx context.Context, db *gorm.DB, account domain.Account, entryType domain.EntryType) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.LedgerEntry{}).
		Where("account = ? AND entry_type = ?", account, entryType).
		Count(&count).Error
	return count, err
}

func (r *repo) MaxSequences(ctx context.Context, db *gorm.DB, accounts []domain.Account) (map[domain.Account]int64, error) {
	out := make(map[domain.Account]int64, len(accounts))
	for _, account := range accounts {
		out[account] = 0
	}
	if len(accounts) == 0 {
		return out, nil
	}

	var rows []struct {
		Account     domain.Account
		MaxSequence int64
	}
	if err := db.WithContext(ctx).Raw(
		`SELECT account, COALESCE(MAX(sequence), 0) AS max_sequence
		FROM ledger_entries
		WHERE account IN ?
		GROUP BY account`,
		accounts,
	).Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.Account] = row.MaxSequence
	}
	return out, nil
}

func (r *repo) LoadBalances(ctx context.Context, db *gorm.DB, accounts []domain.Account, forUpdate bool) (map[domain.Account]decimal.Decimal, error) {
	out := make(map[domain.Account]decimal.Decimal, len(accounts))
	for _, account := range accounts {
		out[account] = decimal.Zero
	}

	stmt := db.WithContext(ctx).Model(&domain.AccountBalance{})
	if len(accounts) > 0 {
		stmt = stmt.Where("account IN ?", accounts)
	}
	if forUpdate && pkgdb.SupportsRowLocks(db) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var rows []domain.AccountBalance
	if err := stmt.Order("account asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.Account] = row.CurrentBalance
	}
	return out, nil
}

func (r *repo) UpsertBalances(ctx context.Context, db *gorm.DB, balances map[domain.Account]decimal.Decimal, at time.Time) error {
	if len(balances) == 0 {
		return nil
	}

	rows := make([]domain.AccountBalance, 0, len(balances))
	for account, balance := range balances {
		rows = append(rows, domain.AccountBalance{
			Account:        account,
			CurrentBalance: balance,
			LastUpdated:    at.UTC(),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Account < rows[j].Account })

	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{"current_balance", "last_updated"}),
	}).Create(&rows).Error
}
