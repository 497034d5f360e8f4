package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	recondomain "github.com/wyfcoding/crowdfunding/internal/reconciliation/domain"
	transferdomain "github.com/wyfcoding/crowdfunding/internal/transfer/domain"
)

type fakeRunRepo struct {
	mu            sync.Mutex
	runs          map[string]*recondomain.ReconciliationRun
	discrepancies []*recondomain.Discrepancy
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{runs: make(map[string]*recondomain.ReconciliationRun)}
}

func (r *fakeRunRepo) SaveRun(_ context.Context, run *recondomain.ReconciliationRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.RunID] = run
	return nil
}

func (r *fakeRunRepo) GetRun(_ context.Context, runID string) (*recondomain.ReconciliationRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil, errors.New("run not found")
	}
	return run, nil
}

func (r *fakeRunRepo) ListRuns(_ context.Context, _ string, _ int) ([]*recondomain.ReconciliationRun, error) {
	return nil, nil
}

func (r *fakeRunRepo) SaveDiscrepancy(_ context.Context, d *recondomain.Discrepancy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discrepancies = append(r.discrepancies, d)
	return nil
}

func (r *fakeRunRepo) GetDiscrepancy(_ context.Context, discrepancyID string) (*recondomain.Discrepancy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.discrepancies {
		if d.DiscrepancyID == discrepancyID {
			return d, nil
		}
	}
	return nil, errors.New("discrepancy not found")
}

func (r *fakeRunRepo) ListDiscrepancies(_ context.Context, runID string) ([]recondomain.Discrepancy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recondomain.Discrepancy
	for _, d := range r.discrepancies {
		if d.RunID == runID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *fakeRunRepo) ListOpenDiscrepancies(_ context.Context, _ int) ([]recondomain.Discrepancy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recondomain.Discrepancy
	for _, d := range r.discrepancies {
		if d.Status == recondomain.DiscrepancyOpen {
			out = append(out, *d)
		}
	}
	return out, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	records map[string]*transferdomain.TransferRecord
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[string]*transferdomain.TransferRecord)}
}

func (r *fakeLedger) add(record *transferdomain.TransferRecord) {
	r.records[record.TransferID] = record
}

func (r *fakeLedger) Save(_ context.Context, record *transferdomain.TransferRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.TransferID] = record
	return nil
}

func (r *fakeLedger) Update(ctx context.Context, record *transferdomain.TransferRecord) error {
	return r.Save(ctx, record)
}

func (r *fakeLedger) Get(_ context.Context, transferID string) (*transferdomain.TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[transferID]
	if !ok {
		return nil, errors.New("transfer not found")
	}
	return record, nil
}

func (r *fakeLedger) GetByIdempotencyKey(_ context.Context, _ string) (*transferdomain.TransferRecord, error) {
	return nil, nil
}

func (r *fakeLedger) GetByExternalRef(_ context.Context, ref string) (*transferdomain.TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.ExternalRef == ref {
			return record, nil
		}
	}
	return nil, errors.New("transfer not found")
}

func (r *fakeLedger) GetByPayoutRef(_ context.Context, payoutRef string) (*transferdomain.TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.PayoutRef == payoutRef {
			return record, nil
		}
	}
	return nil, nil
}

func (r *fakeLedger) FindDue(_ context.Context, _ time.Time, _ int) ([]*transferdomain.TransferRecord, error) {
	return nil, nil
}

func (r *fakeLedger) FindStaleSubmitting(_ context.Context, _ time.Time, _ int) ([]*transferdomain.TransferRecord, error) {
	return nil, nil
}

func (r *fakeLedger) FindRetryableFailed(_ context.Context, _ int) ([]*transferdomain.TransferRecord, error) {
	return nil, nil
}

func (r *fakeLedger) FindPendingWithExternalRef(_ context.Context, limit int) ([]*transferdomain.TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*transferdomain.TransferRecord
	for _, record := range r.records {
		if !record.Status.IsTerminal() && record.ExternalRef != "" && len(out) < limit {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *fakeLedger) ListByEscrow(_ context.Context, _ string) ([]*transferdomain.TransferRecord, error) {
	return nil, nil
}

func (r *fakeLedger) CompareAndSetStatus(_ context.Context, transferID string, from, to transferdomain.TransferStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[transferID]
	if !ok || record.Status != from {
		return false, nil
	}
	record.Status = to
	return true, nil
}

func (r *fakeLedger) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

type fakeMirror struct {
	mu       sync.Mutex
	accounts map[string]*transferdomain.MerchantAccount
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{accounts: make(map[string]*transferdomain.MerchantAccount)}
}

func (r *fakeMirror) Save(_ context.Context, account *transferdomain.MerchantAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.RecipientID] = account
	return nil
}

func (r *fakeMirror) Get(_ context.Context, recipientID string) (*transferdomain.MerchantAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[recipientID]
	if !ok {
		return nil, errors.New("merchant account not found")
	}
	return account, nil
}

func (r *fakeMirror) ListWithExternalRef(_ context.Context, limit int) ([]*transferdomain.MerchantAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*transferdomain.MerchantAccount
	for _, account := range r.accounts {
		if account.ExternalAccountRef != "" && len(out) < limit {
			out = append(out, account)
		}
	}
	return out, nil
}

type fakeRemote struct {
	transfers map[string]*transferdomain.RemoteTransfer
	errRefs   map[string]error
	accounts  map[string]*transferdomain.RemoteAccount
	payouts   []transferdomain.RemotePayout
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		transfers: make(map[string]*transferdomain.RemoteTransfer),
		errRefs:   make(map[string]error),
		accounts:  make(map[string]*transferdomain.RemoteAccount),
	}
}

func (p *fakeRemote) SubmitTransfer(_ context.Context, _ transferdomain.SubmitRequest) (string, error) {
	return "", errors.New("not used")
}

func (p *fakeRemote) RetrieveTransfer(_ context.Context, ref string) (*transferdomain.RemoteTransfer, error) {
	if err, ok := p.errRefs[ref]; ok {
		return nil, err
	}
	remote, ok := p.transfers[ref]
	if !ok {
		return nil, errors.New("remote transfer not found")
	}
	return remote, nil
}

func (p *fakeRemote) RetrieveAccount(_ context.Context, ref string) (*transferdomain.RemoteAccount, error) {
	account, ok := p.accounts[ref]
	if !ok {
		return nil, errors.New("remote account not found")
	}
	return account, nil
}

func (p *fakeRemote) ListPayouts(_ context.Context, _, _ time.Time) ([]transferdomain.RemotePayout, error) {
	return p.payouts, nil
}

func submittedRecord(transferID, externalRef string) *transferdomain.TransferRecord {
	return &transferdomain.TransferRecord{
		TransferID:     transferID,
		IdempotencyKey: "key-" + transferID,
		EscrowID:       "ESC-1",
		RecipientID:    "creator-1",
		AmountCents:    5000,
		Currency:       "EUR",
		Status:         transferdomain.TransferStatusSubmitted,
		ExternalRef:    externalRef,
	}
}

func setup(t *testing.T) (*ReconciliationService, *fakeRunRepo, *fakeLedger, *fakeMirror, *fakeRemote) {
	t.Helper()
	runs := newFakeRunRepo()
	ledger := newFakeLedger()
	mirror := newFakeMirror()
	remote := newFakeRemote()
	svc := NewReconciliationService(runs, ledger, mirror, remote, nil, DefaultConfig(), slog.Default())
	return svc, runs, ledger, mirror, remote
}

func TestReconcileMapsReversedStatus(t *testing.T) {
	svc, _, ledger, _, remote := setup(t)

	ledger.add(submittedRecord("TRF-1", "tr_ext_1"))
	remote.transfers["tr_ext_1"] = &transferdomain.RemoteTransfer{Ref: "tr_ext_1", Status: "paid", Reversed: true}

	run, err := svc.ReconcilePendingTransfers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), run.CheckedCount)
	assert.Equal(t, int32(1), run.CorrectedCount)

	record, _ := ledger.Get(context.Background(), "TRF-1")
	assert.Equal(t, transferdomain.TransferStatusReversed, record.Status)
}

func TestReconcileCompletesSettledTransfer(t *testing.T) {
	svc, _, ledger, _, remote := setup(t)

	ledger.add(submittedRecord("TRF-1", "tr_ext_1"))
	remote.transfers["tr_ext_1"] = &transferdomain.RemoteTransfer{
		Ref: "tr_ext_1", Status: "paid", PayoutRef: "po_1",
	}

	run, err := svc.ReconcilePendingTransfers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), run.CorrectedCount)

	record, _ := ledger.Get(context.Background(), "TRF-1")
	assert.Equal(t, transferdomain.TransferStatusCompleted, record.Status)
	assert.Equal(t, "po_1", record.PayoutRef)
}

func TestReconcileIsIdempotent(t *testing.T) {
	svc, _, ledger, _, remote := setup(t)

	ledger.add(submittedRecord("TRF-1", "tr_ext_1"))
	remote.transfers["tr_ext_1"] = &transferdomain.RemoteTransfer{Ref: "tr_ext_1", Status: "paid"}

	first, err := svc.ReconcilePendingTransfers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), first.CorrectedCount)

	// 已修正的记录进入终态，第二轮扫描不再命中
	second, err := svc.ReconcilePendingTransfers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(0), second.CheckedCount)
	assert.Equal(t, int32(0), second.CorrectedCount)
}

func TestReconcileIsolatesPerRecordErrors(t *testing.T) {
	svc, _, ledger, _, remote := setup(t)

	ledger.add(submittedRecord("TRF-1", "tr_ext_1"))
	ledger.add(submittedRecord("TRF-2", "tr_ext_2"))
	remote.errRefs["tr_ext_1"] = errors.New("processor timeout")
	remote.transfers["tr_ext_2"] = &transferdomain.RemoteTransfer{Ref: "tr_ext_2", Status: "paid"}

	run, err := svc.ReconcilePendingTransfers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), run.CheckedCount)
	assert.Equal(t, int32(1), run.ErrorCount)
	assert.Equal(t, int32(1), run.CorrectedCount)

	// 单条失败不影响其余记录的修正
	good, _ := ledger.Get(context.Background(), "TRF-2")
	assert.Equal(t, transferdomain.TransferStatusCompleted, good.Status)
	bad, _ := ledger.Get(context.Background(), "TRF-1")
	assert.Equal(t, transferdomain.TransferStatusSubmitted, bad.Status)
}

func TestVerifyPayoutsReportsMissingLocalRecord(t *testing.T) {
	svc, runs, ledger, _, remote := setup(t)

	remote.payouts = []transferdomain.RemotePayout{
		{PayoutRef: "po_orphan", Status: "paid", Amount: 5000, Currency: "EUR"},
	}

	run, err := svc.VerifyPayouts(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int32(1), run.DiscrepancyCount)
	assert.Equal(t, int32(0), run.CorrectedCount)

	// 缺失的本地记录只上报，不凭空补建
	assert.Empty(t, ledger.records)

	open, err := runs.ListOpenDiscrepancies(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "po_orphan", open[0].RecordID)
	assert.False(t, open[0].Corrected)
}

func TestVerifyPayoutsCorrectsDivergence(t *testing.T) {
	svc, _, ledger, _, remote := setup(t)

	record := submittedRecord("TRF-1", "tr_ext_1")
	record.PayoutRef = "po_1"
	ledger.add(record)
	remote.payouts = []transferdomain.RemotePayout{
		{PayoutRef: "po_1", Status: "failed", Amount: 5000, Currency: "EUR"},
	}

	run, err := svc.VerifyPayouts(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int32(1), run.CorrectedCount)

	stored, _ := ledger.Get(context.Background(), "TRF-1")
	assert.Equal(t, transferdomain.TransferStatusFailed, stored.Status)
}

func TestVerifyPayoutsSkipsMatchingRecords(t *testing.T) {
	svc, _, ledger, _, remote := setup(t)

	record := submittedRecord("TRF-1", "tr_ext_1")
	record.PayoutRef = "po_1"
	record.Status = transferdomain.TransferStatusCompleted
	ledger.add(record)
	remote.payouts = []transferdomain.RemotePayout{
		{PayoutRef: "po_1", Status: "paid", Amount: 5000, Currency: "EUR"},
	}

	run, err := svc.VerifyPayouts(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int32(0), run.CorrectedCount)
	assert.Equal(t, int32(0), run.DiscrepancyCount)
}

func TestReconcileMerchantAccountsOverwritesFlags(t *testing.T) {
	svc, _, _, mirror, remote := setup(t)

	require.NoError(t, mirror.Save(context.Background(), &transferdomain.MerchantAccount{
		RecipientID:        "creator-1",
		ExternalAccountRef: "acct_1",
		ChargesEnabled:     true,
		PayoutsEnabled:     true,
		Status:             transferdomain.MerchantStatusActive,
	}))
	remote.accounts["acct_1"] = &transferdomain.RemoteAccount{
		Ref: "acct_1", ChargesEnabled: false, PayoutsEnabled: false,
	}

	run, err := svc.ReconcileMerchantAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), run.CheckedCount)

	// 远端为准：本地镜像被无条件覆盖
	account, _ := mirror.Get(context.Background(), "creator-1")
	assert.False(t, account.ChargesEnabled)
	assert.False(t, account.PayoutsEnabled)
	assert.Equal(t, transferdomain.MerchantStatusRestricted, account.Status)
	require.NotNil(t, account.LastSyncedAt)
}
