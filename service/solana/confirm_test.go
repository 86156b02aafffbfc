package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	// statusSeq is returned one entry per GetSignatureStatuses call; a nil
	// entry means "status not indexed yet". The last entry repeats.
	statusSeq  []*rpc.SignatureStatusesResult
	statusErr  error
	statusCall int

	// txNotFoundCount is the number of GetTransaction calls that return
	// rpc.ErrNotFound before txResult is served.
	txResult        *rpc.GetTransactionResult
	txErr           error
	txNotFoundCount int
	txCalls         int

	account    *rpc.Account
	accountErr error

	balance    uint64
	balanceErr error

	sendSig solana.Signature
	sendErr error

	blockhash solana.Hash
}

func (m *mockRPCClient) GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	if m.account == nil {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: m.account}, nil
}

func (m *mockRPCClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	return &rpc.GetBalanceResult{Value: m.balance}, nil
}

func (m *mockRPCClient) GetSignatureStatuses(ctx context.Context, search bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	idx := m.statusCall
	if idx >= len(m.statusSeq) {
		idx = len(m.statusSeq) - 1
	}
	m.statusCall++
	if idx < 0 {
		return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}}, nil
	}
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{m.statusSeq[idx]}}, nil
}

func (m *mockRPCClient) GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	m.txCalls++
	if m.txErr != nil {
		return nil, m.txErr
	}
	if m.txCalls <= m.txNotFoundCount || m.txResult == nil {
		return nil, rpc.ErrNotFound
	}
	return m.txResult, nil
}

func (m *mockRPCClient) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	if m.sendErr != nil {
		return solana.Signature{}, m.sendErr
	}
	return m.sendSig, nil
}

func (m *mockRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: m.blockhash},
	}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastPolicy removes inter-attempt delays so tests run instantly.
func fastPolicy() PollPolicy {
	return PollPolicy{
		ConfirmAttempts: 5,
		ConfirmDelay:    0,
		TxFetchAttempts: 2,
		TxFetchDelay:    0,
	}
}

func testSignature() solana.Signature {
	return solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
}

func confirmedStatus() *rpc.SignatureStatusesResult {
	return &rpc.SignatureStatusesResult{
		ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
	}
}

func TestWaitForConfirmation_ImmediateSuccess(t *testing.T) {
	mock := &mockRPCClient{
		statusSeq: []*rpc.SignatureStatusesResult{confirmedStatus()},
	}
	poller := NewConfirmationPoller(mock, fastPolicy(), nil, testLogger())

	err := poller.WaitForConfirmation(context.Background(), testSignature())
	require.NoError(t, err)
	assert.Equal(t, 1, mock.statusCall)
}

func TestWaitForConfirmation_AbsentStatusIsPending(t *testing.T) {
	// Ledger indexing lags broadcast: first two polls find nothing,
	// third finds the confirmed status.
	mock := &mockRPCClient{
		statusSeq: []*rpc.SignatureStatusesResult{nil, nil, confirmedStatus()},
	}
	poller := NewConfirmationPoller(mock, fastPolicy(), nil, testLogger())

	err := poller.WaitForConfirmation(context.Background(), testSignature())
	require.NoError(t, err)
	assert.Equal(t, 3, mock.statusCall)
}

func TestWaitForConfirmation_FinalizedCounts(t *testing.T) {
	mock := &mockRPCClient{
		statusSeq: []*rpc.SignatureStatusesResult{
			{ConfirmationStatus: rpc.ConfirmationStatusFinalized},
		},
	}
	poller := NewConfirmationPoller(mock, fastPolicy(), nil, testLogger())

	require.NoError(t, poller.WaitForConfirmation(context.Background(), testSignature()))
}

func TestWaitForConfirmation_RootedWithNilConfirmations(t *testing.T) {
	// A rooted transaction reports Confirmations == nil even when the
	// textual status is absent.
	mock := &mockRPCClient{
		statusSeq: []*rpc.SignatureStatusesResult{
			{Confirmations: nil},
		},
	}
	poller := NewConfirmationPoller(mock, fastPolicy(), nil, testLogger())

	require.NoError(t, poller.WaitForConfirmation(context.Background(), testSignature()))
}

func TestWaitForConfirmation_OnChainError(t *testing.T) {
	mock := &mockRPCClient{
		statusSeq: []*rpc.SignatureStatusesResult{
			{Err: map[string]any{"InstructionError": []any{0, "Custom"}}},
		},
	}
	poller := NewConfirmationPoller(mock, fastPolicy(), nil, testLogger())

	err := poller.WaitForConfirmation(context.Background(), testSignature())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOnChainExecution)
	// Terminal: only one status poll should have happened.
	assert.Equal(t, 1, mock.statusCall)
}

func TestWaitForConfirmation_Timeout(t *testing.T) {
	mock := &mockRPCClient{
		statusSeq: []*rpc.SignatureStatusesResult{nil},
	}
	policy := fastPolicy()
	policy.ConfirmAttempts = 3
	poller := NewConfirmationPoller(mock, policy, nil, testLogger())

	err := poller.WaitForConfirmation(context.Background(), testSignature())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfirmationTimeout)
	assert.Equal(t, 3, mock.statusCall)
}

func TestWaitForConfirmation_TransientRPCErrorCountsAsAttempt(t *testing.T) {
	mock := &mockRPCClient{
		statusErr: errors.New("connection reset"),
	}
	policy := fastPolicy()
	policy.ConfirmAttempts = 2
	poller := NewConfirmationPoller(mock, policy, nil, testLogger())

	err := poller.WaitForConfirmation(context.Background(), testSignature())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfirmationTimeout)
}

func TestFetchTransaction_FoundAfterRetry(t *testing.T) {
	// Body index catches up on the second attempt.
	mock := &mockRPCClient{
		txResult:        &rpc.GetTransactionResult{},
		txNotFoundCount: 1,
	}
	poller := NewConfirmationPoller(mock, fastPolicy(), nil, testLogger())

	result, err := poller.FetchTransaction(context.Background(), testSignature())
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.Equal(t, 2, mock.txCalls)
}

func TestFetchTransaction_NeverMaterializes(t *testing.T) {
	mock := &mockRPCClient{}
	poller := NewConfirmationPoller(mock, fastPolicy(), nil, testLogger())

	_, err := poller.FetchTransaction(context.Background(), testSignature())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
	// Both commitment levels exhausted their attempts.
	assert.Equal(t, 4, mock.txCalls)
}

type stubSubmitter struct {
	sig     solana.Signature
	err     error
	submits int
}

func (s *stubSubmitter) SubmitTransaction(ctx context.Context, tx *solana.Transaction, commitment rpc.CommitmentType) (solana.Signature, error) {
	s.submits++
	return s.sig, s.err
}

func TestSubmitAndConfirm_Success(t *testing.T) {
	mock := &mockRPCClient{
		statusSeq: []*rpc.SignatureStatusesResult{confirmedStatus()},
	}
	poller := NewConfirmationPoller(mock, fastPolicy(), nil, testLogger())
	submitter := &stubSubmitter{sig: testSignature()}

	sig, err := poller.SubmitAndConfirm(context.Background(), submitter, &solana.Transaction{}, rpc.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, testSignature(), sig)
	assert.Equal(t, 1, submitter.submits)
}

func TestSubmitAndConfirm_SubmitErrorSkipsPolling(t *testing.T) {
	mock := &mockRPCClient{}
	poller := NewConfirmationPoller(mock, fastPolicy(), nil, testLogger())
	submitter := &stubSubmitter{err: errors.New("blockhash not found")}

	_, err := poller.SubmitAndConfirm(context.Background(), submitter, &solana.Transaction{}, rpc.CommitmentConfirmed)
	require.Error(t, err)
	assert.Zero(t, mock.statusCall)
}

func TestSubmitAndConfirm_TimeoutReturnsSignature(t *testing.T) {
	// The caller needs the signature back even on timeout so it can
	// re-poll instead of re-submitting.
	mock := &mockRPCClient{
		statusSeq: []*rpc.SignatureStatusesResult{nil},
	}
	policy := fastPolicy()
	policy.ConfirmAttempts = 2
	poller := NewConfirmationPoller(mock, policy, nil, testLogger())
	submitter := &stubSubmitter{sig: testSignature()}

	sig, err := poller.SubmitAndConfirm(context.Background(), submitter, &solana.Transaction{}, rpc.CommitmentConfirmed)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfirmationTimeout)
	assert.Equal(t, testSignature(), sig)
	assert.Equal(t, 1, submitter.submits)
}

func TestWaitForConfirmation_ContextCancelled(t *testing.T) {
	mock := &mockRPCClient{
		statusSeq: []*rpc.SignatureStatusesResult{nil},
	}
	policy := fastPolicy()
	policy.ConfirmDelay = 50 * time.Millisecond
	poller := NewConfirmationPoller(mock, policy, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := poller.WaitForConfirmation(ctx, testSignature())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
