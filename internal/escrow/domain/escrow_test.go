package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccount(t *testing.T, balance int64, conditions ...string) *EscrowAccount {
	t.Helper()
	account, err := NewEscrowAccount("ESC-1", "PROJ-1", balance, "EUR", conditions)
	require.NoError(t, err)
	account.ClearDomainEvents()
	return account
}

func TestNewEscrowAccount(t *testing.T) {
	account, err := NewEscrowAccount("ESC-1", "PROJ-1", 5000, "EUR", []string{"milestone_1", "milestone_2"})
	require.NoError(t, err)

	assert.Equal(t, int64(5000), account.Balance)
	assert.Equal(t, EscrowStatusActive, account.Status)
	assert.Len(t, account.Conditions, 2)
	assert.Len(t, account.GetDomainEvents(), 1)

	_, err = NewEscrowAccount("ESC-2", "PROJ-1", -1, "EUR", nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDeposit(t *testing.T) {
	account := newTestAccount(t, 1000, "milestone_1")

	require.NoError(t, account.Deposit(500, "backer-1"))
	assert.Equal(t, int64(1500), account.Balance)

	assert.ErrorIs(t, account.Deposit(0, "backer-1"), ErrInvalidAmount)
	assert.ErrorIs(t, account.Deposit(-10, "backer-1"), ErrInvalidAmount)
}

func TestDepositWhileFrozen(t *testing.T) {
	account := newTestAccount(t, 1000, "milestone_1")
	require.NoError(t, account.Freeze("dispute opened", "ops-1"))

	// 冻结只阻止出金，入金仍然允许
	require.NoError(t, account.Deposit(500, "backer-1"))
	assert.Equal(t, int64(1500), account.Balance)
}

func TestDepositOnClosedAccount(t *testing.T) {
	account := newTestAccount(t, 0, "milestone_1")
	account.Status = EscrowStatusClosed

	assert.ErrorIs(t, account.Deposit(500, "backer-1"), ErrAccountClosed)
}

func TestReleaseFullBalance(t *testing.T) {
	account := newTestAccount(t, 3000, "milestone_1", "milestone_2")

	released, err := account.Release("milestone_1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), released)
	assert.Equal(t, int64(0), account.Balance)
	// 还有未消耗的条件，账户保持开启
	assert.Equal(t, EscrowStatusActive, account.Status)

	for _, cond := range account.Conditions {
		if cond.Name == "milestone_1" {
			require.NotNil(t, cond.ReleasedAt)
			assert.Equal(t, int64(3000), cond.ReleasedAmount)
			assert.Equal(t, "admin-1", cond.ReleasedBy)
		}
	}
}

func TestReleaseAutoClosesWhenConditionsExhausted(t *testing.T) {
	account := newTestAccount(t, 3000, "milestone_1", "milestone_2")

	_, err := account.Release("milestone_1", "admin-1")
	require.NoError(t, err)

	require.NoError(t, account.Deposit(1000, "backer-1"))

	_, err = account.Release("milestone_2", "admin-1")
	require.NoError(t, err)

	assert.Equal(t, EscrowStatusClosed, account.Status)
	require.NotNil(t, account.ClosedAt)
}

func TestReleaseErrors(t *testing.T) {
	account := newTestAccount(t, 3000, "milestone_1")

	_, err := account.Release("unknown", "admin-1")
	assert.ErrorIs(t, err, ErrConditionNotDeclared)

	_, err = account.Release("milestone_1", "admin-1")
	require.NoError(t, err)

	// 账户已因条件耗尽关闭
	_, err = account.Release("milestone_1", "admin-1")
	assert.ErrorIs(t, err, ErrAccountClosed)
}

func TestReleaseConditionAlreadyReleased(t *testing.T) {
	account := newTestAccount(t, 3000, "milestone_1", "milestone_2")

	_, err := account.Release("milestone_1", "admin-1")
	require.NoError(t, err)

	require.NoError(t, account.Deposit(500, "backer-1"))

	_, err = account.Release("milestone_1", "admin-1")
	assert.ErrorIs(t, err, ErrConditionAlreadyReleased)
}

func TestReleaseZeroBalance(t *testing.T) {
	account := newTestAccount(t, 0, "milestone_1")

	_, err := account.Release("milestone_1", "admin-1")
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestReleaseWhileFrozen(t *testing.T) {
	account := newTestAccount(t, 3000, "milestone_1")
	require.NoError(t, account.Freeze("dispute", "ops-1"))

	_, err := account.Release("milestone_1", "admin-1")
	assert.ErrorIs(t, err, ErrAccountFrozen)
}

func TestFreezeIdempotent(t *testing.T) {
	account := newTestAccount(t, 1000, "milestone_1")

	require.NoError(t, account.Freeze("dispute", "ops-1"))
	eventsAfterFirst := len(account.Events)

	require.NoError(t, account.Freeze("another reason", "ops-2"))
	assert.Equal(t, EscrowStatusFrozen, account.Status)
	// 重复冻结不产生新的审计事件，原因保持首次值
	assert.Equal(t, eventsAfterFirst, len(account.Events))
	assert.Equal(t, "dispute", account.FrozenReason)
}

func TestUnfreeze(t *testing.T) {
	account := newTestAccount(t, 1000, "milestone_1")

	assert.ErrorIs(t, account.Unfreeze("ops-1"), ErrAccountNotFrozen)

	require.NoError(t, account.Freeze("dispute", "ops-1"))
	require.NoError(t, account.Unfreeze("ops-1"))
	assert.Equal(t, EscrowStatusActive, account.Status)
	assert.Empty(t, account.FrozenReason)
}

func TestClose(t *testing.T) {
	account := newTestAccount(t, 1000, "milestone_1")

	// 余额未清不允许关闭
	assert.ErrorIs(t, account.Close("admin-1"), ErrBalanceRemaining)

	_, err := account.Release("milestone_1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, EscrowStatusClosed, account.Status)

	// 重复关闭幂等
	assert.NoError(t, account.Close("admin-1"))
}

func TestCloseWhileFrozen(t *testing.T) {
	account := newTestAccount(t, 0, "milestone_1")
	require.NoError(t, account.Freeze("dispute", "ops-1"))

	assert.ErrorIs(t, account.Close("admin-1"), ErrAccountFrozen)
}

func TestAuditTrailAppendOnly(t *testing.T) {
	account := newTestAccount(t, 1000, "milestone_1")
	initial := len(account.Events)

	require.NoError(t, account.Deposit(500, "backer-1"))
	require.NoError(t, account.Freeze("dispute", "ops-1"))
	require.NoError(t, account.Unfreeze("ops-1"))

	assert.Equal(t, initial+3, len(account.Events))

	last := account.Events[len(account.Events)-1]
	assert.Equal(t, "UNFROZEN", last.EventType)
	assert.WithinDuration(t, time.Now(), last.OccurredAt, time.Second)
}
