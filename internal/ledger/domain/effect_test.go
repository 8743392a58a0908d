package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	hundred := decimal.NewFromInt(100)

	cases := []struct {
		name    string
		posting Posting
		want    []Effect
	}{
		{
			name:    "expense debits its account",
			posting: Posting{Kind: KindExpense, Account: AccountCash, Amount: hundred},
			want:    []Effect{{Account: AccountCash, Amount: hundred.Neg()}},
		},
		{
			name:    "income credits its account",
			posting: Posting{Kind: KindIncome, Account: AccountBank, Amount: hundred},
			want:    []Effect{{Account: AccountBank, Amount: hundred}},
		},
		{
			name:    "withdrawal moves bank to cash",
			posting: Posting{Kind: KindTransfer, TransferDirection: DirectionWithdrawal, Amount: hundred},
			want: []Effect{
				{Account: AccountBank, Amount: hundred.Neg()},
				{Account: AccountCash, Amount: hundred},
			},
		},
		{
			name:    "deposit moves cash to bank",
			posting: Posting{Kind: KindTransfer, TransferDirection: DirectionDeposit, Amount: hundred},
			want: []Effect{
				{Account: AccountCash, Amount: hundred.Neg()},
				{Account: AccountBank, Amount: hundred},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(tc.posting)
			require.NoError(t, err)
			require.Len(t, got, len(tc.want))
			for i := range tc.want {
				assert.Equal(t, tc.want[i].Account, got[i].Account)
				assert.True(t, tc.want[i].Amount.Equal(got[i].Amount), "effect %d: want %s got %s", i, tc.want[i].Amount, got[i].Amount)
			}
		})
	}
}

func TestResolve_Rejects(t *testing.T) {
	amount := decimal.NewFromInt(10)

	cases := []struct {
		name    string
		posting Posting
		err     error
	}{
		{"zero amount", Posting{Kind: KindIncome, Account: AccountCash, Amount: decimal.Zero}, ErrInvalidAmount},
		{"negative amount", Posting{Kind: KindIncome, Account: AccountCash, Amount: amount.Neg()}, ErrInvalidAmount},
		{"unknown kind", Posting{Kind: "gift", Account: AccountCash, Amount: amount}, ErrInvalidKind},
		{"unknown account", Posting{Kind: KindExpense, Account: "wallet", Amount: amount}, ErrInvalidAccount},
		{"missing account", Posting{Kind: KindExpense, Amount: amount}, ErrInvalidAccount},
		{"transfer without direction", Posting{Kind: KindTransfer, Amount: amount}, ErrInvalidTransferDirection},
		{"transfer with unknown direction", Posting{Kind: KindTransfer, TransferDirection: "sideways", Amount: amount}, ErrInvalidTransferDirection},
		{"direction on income", Posting{Kind: KindIncome, TransferDirection: DirectionDeposit, Account: AccountCash, Amount: amount}, ErrInvalidTransferDirection},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			effects, err := Resolve(tc.posting)
			assert.ErrorIs(t, err, tc.err)
			assert.Nil(t, effects)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestResolve_TransferIsBalanced(t *testing.T) {
	for _, direction := range []TransferDirection{DirectionWithdrawal, DirectionDeposit} {
		effects, err := Resolve(Posting{Kind: KindTransfer, TransferDirection: direction, Amount: decimal.RequireFromString("42.50")})
		require.NoError(t, err)

		sum := decimal.Zero
		for _, effect := range effects {
			sum = sum.Add(effect.Amount)
		}
		assert.True(t, sum.IsZero(), "direction %s does not net to zero: %s", direction, sum)
		assert.Equal(t, []Account{AccountBank, AccountCash}, AccountsOf(effects))
	}
}

func TestReverse(t *testing.T) {
	effects := []Effect{
		{Account: AccountBank, Amount: decimal.NewFromInt(-30)},
		{Account: AccountCash, Amount: decimal.NewFromInt(30)},
	}

	reversed := Reverse(effects)
	require.Len(t, reversed, 2)
	assert.True(t, reversed[0].Amount.Equal(decimal.NewFromInt(30)))
	assert.True(t, reversed[1].Amount.Equal(decimal.NewFromInt(-30)))
	assert.True(t, effects[0].Amount.Equal(decimal.NewFromInt(-30)), "input must not be mutated")
}

func TestParseHelpers(t *testing.T) {
	kind, err := ParseKind(" Expense ")
	require.NoError(t, err)
	assert.Equal(t, KindExpense, kind)

	_, err = ParseKind("donation")
	assert.ErrorIs(t, err, ErrInvalidKind)

	direction, err := ParseTransferDirection("DEPOSIT")
	require.NoError(t, err)
	assert.Equal(t, DirectionDeposit, direction)

	account, err := ParseAccount("bank")
	require.NoError(t, err)
	assert.Equal(t, AccountBank, account)

	_, err = ParseAccount("")
	assert.ErrorIs(t, err, ErrInvalidAccount)
}
