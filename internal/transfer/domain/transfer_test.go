package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecord(t *testing.T) *TransferRecord {
	t.Helper()
	record, err := NewTransferRecord("TRF-1", "key-1", "ESC-1", "creator-1", 2500, "EUR", "", DefaultMinimumDelay)
	require.NoError(t, err)
	return record
}

func TestNewTransferRecord(t *testing.T) {
	record := newTestRecord(t)

	assert.Equal(t, TransferStatusScheduled, record.Status)
	assert.Equal(t, int64(2500), record.AmountCents)
	assert.Equal(t, "25", record.Amount.String())
	assert.WithinDuration(t, time.Now().Add(DefaultMinimumDelay), record.ScheduledFor, time.Second)

	_, err := NewTransferRecord("TRF-2", "key-2", "ESC-1", "creator-1", 0, "EUR", "", DefaultMinimumDelay)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestMinimumDelayFloor(t *testing.T) {
	// 延迟窗口低于下限时按下限执行，不允许即时出金
	record, err := NewTransferRecord("TRF-1", "key-1", "ESC-1", "creator-1", 1000, "EUR", "", 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(MinimumDelayFloor), record.ScheduledFor, time.Second)
}

func TestIsDue(t *testing.T) {
	record := newTestRecord(t)

	assert.False(t, record.IsDue(time.Now()))
	assert.True(t, record.IsDue(record.ScheduledFor))
	assert.True(t, record.IsDue(record.ScheduledFor.Add(time.Hour)))

	record.Status = TransferStatusSubmitted
	assert.False(t, record.IsDue(record.ScheduledFor.Add(time.Hour)))
}

func TestMarkSubmitted(t *testing.T) {
	record := newTestRecord(t)

	// 未占用的记录不可直接提交
	assert.Error(t, record.MarkSubmitted("tr_ext_1"))

	record.Status = TransferStatusSubmitting
	require.NoError(t, record.MarkSubmitted("tr_ext_1"))
	assert.Equal(t, TransferStatusSubmitted, record.Status)
	assert.Equal(t, "tr_ext_1", record.ExternalRef)
	require.NotNil(t, record.SubmittedAt)
}

func TestExternalRefImmutable(t *testing.T) {
	record := newTestRecord(t)
	record.Status = TransferStatusSubmitting
	require.NoError(t, record.MarkSubmitted("tr_ext_1"))

	record.Status = TransferStatusSubmitting
	assert.ErrorIs(t, record.MarkSubmitted("tr_ext_2"), ErrExternalRefImmutable)
	assert.Equal(t, "tr_ext_1", record.ExternalRef)
}

func TestFail(t *testing.T) {
	record := newTestRecord(t)

	require.NoError(t, record.Fail("processor timeout", "scheduler", true))
	assert.Equal(t, TransferStatusFailed, record.Status)
	assert.Equal(t, "processor timeout", record.FailureReason)
	assert.True(t, record.Retryable)

	record.Status = TransferStatusCompleted
	assert.Error(t, record.Fail("late failure", "scheduler", false))

	record.Status = TransferStatusReversed
	assert.Error(t, record.Fail("late failure", "scheduler", false))
}

func TestRetryBackoff(t *testing.T) {
	record := newTestRecord(t)
	require.NoError(t, record.Fail("processor timeout", "scheduler", true))

	require.NoError(t, record.Retry(RetryBackoff, time.Minute))
	assert.Equal(t, TransferStatusScheduled, record.Status)
	assert.Equal(t, 1, record.Attempts)
	assert.Empty(t, record.FailureReason)
	assert.False(t, record.Retryable)
	// base * 2^attempts
	assert.WithinDuration(t, time.Now().Add(2*time.Minute), record.ScheduledFor, time.Second)

	require.NoError(t, record.Fail("again", "scheduler", true))
	require.NoError(t, record.Retry(RetryBackoff, time.Minute))
	assert.Equal(t, 2, record.Attempts)
	assert.WithinDuration(t, time.Now().Add(4*time.Minute), record.ScheduledFor, time.Second)
}

func TestRetryImmediate(t *testing.T) {
	record := newTestRecord(t)
	require.NoError(t, record.Fail("processor timeout", "scheduler", true))

	require.NoError(t, record.Retry(RetryImmediate, time.Minute))
	assert.Equal(t, TransferStatusScheduled, record.Status)
	assert.WithinDuration(t, time.Now(), record.ScheduledFor, time.Second)
}

func TestRetryCeiling(t *testing.T) {
	record := newTestRecord(t)

	for i := 0; i < DefaultMaxAttempts; i++ {
		require.NoError(t, record.Fail("transient", "scheduler", true))
		require.NoError(t, record.Retry(RetryImmediate, time.Minute))
	}

	require.NoError(t, record.Fail("transient", "scheduler", true))
	assert.False(t, record.CanRetry())
	assert.ErrorIs(t, record.Retry(RetryImmediate, time.Minute), ErrMaxAttemptsExceeded)
}

func TestRetryRequiresFailedStatus(t *testing.T) {
	record := newTestRecord(t)
	assert.Error(t, record.Retry(RetryBackoff, time.Minute))
}
