package mandate

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/kordell-io/agentgate/internal/amount"
)

const (
	testAgent     = "0x1111111111111111111111111111111111111111"
	testPrincipal = "0x2222222222222222222222222222222222222222"
	testRecipient = "0x3333333333333333333333333333333333333333"
)

func newTestAuthority() *Authority {
	return NewAuthority(NewMemoryStore(), Config{ChainID: 84532})
}

func createTestMandate(t *testing.T, a *Authority, scope Scope, duration time.Duration) *Mandate {
	t.Helper()
	m, err := a.CreateMandate(context.Background(), testAgent, testPrincipal, scope, duration)
	if err != nil {
		t.Fatalf("CreateMandate: %v", err)
	}
	return m
}

func tokens(n int64) string {
	return amount.Format(amount.Tokens(n))
}

func TestCreateMandate(t *testing.T) {
	a := newTestAuthority()
	m := createTestMandate(t, a, Scope{MaxAmount: tokens(1)}, time.Hour)

	if m.Status != StatusActive {
		t.Errorf("status = %s, want active", m.Status)
	}
	if m.UsedAmount != "0" {
		t.Errorf("usedAmount = %s, want 0", m.UsedAmount)
	}
	if m.Agent != testAgent {
		t.Errorf("agent = %s", m.Agent)
	}

	// Deterministic ID: same issuance parameters produce the same ID.
	if DeriveID(m.Agent, m.Principal, m.ExpiresAt.Unix(), m.Nonce) != m.ID {
		t.Error("mandate ID is not deterministic over issuance parameters")
	}
}

func TestCreateMandateRejectsBadInput(t *testing.T) {
	a := newTestAuthority()
	ctx := context.Background()

	if _, err := a.CreateMandate(ctx, "not-an-address", testPrincipal, Scope{MaxAmount: "1"}, time.Hour); err == nil {
		t.Error("expected error for invalid agent address")
	}
	if _, err := a.CreateMandate(ctx, testAgent, testPrincipal, Scope{MaxAmount: "0"}, time.Hour); err == nil {
		t.Error("expected error for zero max amount")
	}
	if _, err := a.CreateMandate(ctx, testAgent, testPrincipal, Scope{MaxAmount: tokens(2), TotalBudget: tokens(1)}, time.Hour); err == nil {
		t.Error("expected error for budget below per-action limit")
	}
}

func TestCreateMandateRequiresSigningKey(t *testing.T) {
	a := NewAuthority(NewMemoryStore(), Config{RequireSigning: true})
	_, err := a.CreateMandate(context.Background(), testAgent, testPrincipal, Scope{MaxAmount: "1"}, time.Hour)
	if err != ErrMissingSigningKey {
		t.Errorf("err = %v, want ErrMissingSigningKey", err)
	}
}

func TestValidateUnknownMandate(t *testing.T) {
	a := newTestAuthority()
	d, err := a.ValidateMandate(context.Background(), "mnd_missing", Action{Type: ActionTransfer, Recipient: testRecipient, Amount: "1"})
	if err != nil {
		t.Fatalf("ValidateMandate: %v", err)
	}
	if d.Approved {
		t.Error("unknown mandate must not approve")
	}
	if d.Reason != ReasonMandateNotFound {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestAmountBoundary(t *testing.T) {
	a := newTestAuthority()
	m := createTestMandate(t, a, Scope{MaxAmount: tokens(1)}, time.Hour)
	ctx := context.Background()

	// Exactly at the limit: approved.
	d, _ := a.ValidateMandate(ctx, m.ID, Action{Type: ActionTransfer, Recipient: testRecipient, Amount: tokens(1)})
	if !d.Approved {
		t.Errorf("amount == maxAmount should approve, got %q", d.Reason)
	}

	// One base unit above: rejected.
	over := amount.Add(amount.Tokens(1), big.NewInt(1))
	d, _ = a.ValidateMandate(ctx, m.ID, Action{Type: ActionTransfer, Recipient: testRecipient, Amount: amount.Format(over)})
	if d.Approved {
		t.Error("one unit above maxAmount must reject")
	}
	if d.Reason != ReasonExceedsMaxAmount {
		t.Errorf("reason = %q, want per-action rejection", d.Reason)
	}
}

func TestMandateLifecycleScenario(t *testing.T) {
	a := newTestAuthority()
	m := createTestMandate(t, a, Scope{
		MaxAmount:         tokens(1),
		TotalBudget:       tokens(5),
		AllowedRecipients: []string{testRecipient},
	}, time.Hour)
	ctx := context.Background()

	half := "500000000000000000"
	action := Action{Type: ActionTransfer, Recipient: testRecipient, Amount: half}

	d, err := a.ValidateMandate(ctx, m.ID, action)
	if err != nil || !d.Approved {
		t.Fatalf("validate: approved=%v reason=%q err=%v", d.Approved, d.Reason, err)
	}

	for i := 0; i < 2; i++ {
		if _, err := a.ExecuteAction(ctx, m.ID, action); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}

	got, _ := a.GetMandate(ctx, m.ID)
	if got.UsedAmount != tokens(1) {
		t.Errorf("usedAmount = %s, want %s", got.UsedAmount, tokens(1))
	}
	if got.TransactionCount != 2 {
		t.Errorf("transactionCount = %d, want 2", got.TransactionCount)
	}

	// An oversized follow-up is rejected.
	d, _ = a.ValidateMandate(ctx, m.ID, Action{Type: ActionTransfer, Recipient: testRecipient, Amount: tokens(4)})
	if d.Approved {
		t.Error("oversized action must reject")
	}
}

func TestBudgetRejection(t *testing.T) {
	a := newTestAuthority()
	m := createTestMandate(t, a, Scope{
		MaxAmount:   tokens(2),
		TotalBudget: tokens(3),
	}, time.Hour)
	ctx := context.Background()
	action := Action{Type: ActionTransfer, Recipient: testRecipient, Amount: tokens(2)}

	if _, err := a.ExecuteAction(ctx, m.ID, action); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// 2 + 2 > 3: within the per-action limit but over budget.
	d, _ := a.ValidateMandate(ctx, m.ID, action)
	if d.Approved {
		t.Fatal("over-budget action must reject")
	}
	if d.Reason != ReasonExceedsBudget {
		t.Errorf("reason = %q, want budget rejection", d.Reason)
	}
}

func TestLowBudgetWarning(t *testing.T) {
	a := newTestAuthority()
	m := createTestMandate(t, a, Scope{
		MaxAmount:   tokens(2),
		TotalBudget: tokens(3),
	}, time.Hour)

	// After a 2-token action only 1 token remains, below the 2-token
	// per-action limit.
	d, _ := a.ValidateMandate(context.Background(), m.ID, Action{Type: ActionTransfer, Recipient: testRecipient, Amount: tokens(2)})
	if !d.Approved {
		t.Fatalf("expected approval, got %q", d.Reason)
	}
	if len(d.Warnings) == 0 {
		t.Error("expected a low-budget warning")
	}
	if d.RemainingBudget != tokens(1) {
		t.Errorf("remainingBudget = %s, want %s", d.RemainingBudget, tokens(1))
	}
}

func TestRecipientRestrictions(t *testing.T) {
	a := newTestAuthority()
	m := createTestMandate(t, a, Scope{
		MaxAmount:         tokens(1),
		AllowedRecipients: []string{testRecipient},
	}, time.Hour)
	ctx := context.Background()

	// Case-insensitive match passes.
	upper := "0x3333333333333333333333333333333333333333"
	d, _ := a.ValidateMandate(ctx, m.ID, Action{Type: ActionTransfer, Recipient: upper, Amount: "1"})
	if !d.Approved {
		t.Errorf("allowed recipient rejected: %q", d.Reason)
	}

	d, _ = a.ValidateMandate(ctx, m.ID, Action{Type: ActionTransfer, Recipient: testAgent, Amount: "1"})
	if d.Approved || d.Reason != ReasonRecipientBlocked {
		t.Errorf("unlisted recipient: approved=%v reason=%q", d.Approved, d.Reason)
	}
}

func TestTokenRestrictions(t *testing.T) {
	a := newTestAuthority()
	ctx := context.Background()
	usdc := "0x4444444444444444444444444444444444444444"

	// Native-only mandate rejects any tokened action.
	native := createTestMandate(t, a, Scope{MaxAmount: tokens(1)}, time.Hour)
	d, _ := a.ValidateMandate(ctx, native.ID, Action{Type: ActionTransfer, Recipient: testRecipient, Amount: "1", Token: usdc})
	if d.Approved || d.Reason != ReasonNativeOnly {
		t.Errorf("native-only mandate: approved=%v reason=%q", d.Approved, d.Reason)
	}

	withToken := createTestMandate(t, a, Scope{MaxAmount: tokens(1), AllowedTokens: []string{usdc}}, time.Hour)
	d, _ = a.ValidateMandate(ctx, withToken.ID, Action{Type: ActionTransfer, Recipient: testRecipient, Amount: "1", Token: usdc})
	if !d.Approved {
		t.Errorf("allowed token rejected: %q", d.Reason)
	}

	other := "0x5555555555555555555555555555555555555555"
	d, _ = a.ValidateMandate(ctx, withToken.ID, Action{Type: ActionTransfer, Recipient: testRecipient, Amount: "1", Token: other})
	if d.Approved || d.Reason != ReasonTokenNotAllowed {
		t.Errorf("unlisted token: approved=%v reason=%q", d.Approved, d.Reason)
	}

	// Token-enabled mandates still pass untokened (native) actions.
	d, _ = a.ValidateMandate(ctx, withToken.ID, Action{Type: ActionTransfer, Recipient: testRecipient, Amount: "1"})
	if !d.Approved {
		t.Errorf("native action on token mandate rejected: %q", d.Reason)
	}
}

func TestActionTypeRestrictions(t *testing.T) {
	a := newTestAuthority()
	m := createTestMandate(t, a, Scope{
		MaxAmount:      tokens(1),
		AllowedActions: []string{"transfer", "swap"},
	}, time.Hour)
	ctx := context.Background()

	d, _ := a.ValidateMandate(ctx, m.ID, Action{Type: ActionSwap, Recipient: testRecipient, Amount: "1"})
	if !d.Approved {
		t.Errorf("allowed action type rejected: %q", d.Reason)
	}

	d, _ = a.ValidateMandate(ctx, m.ID, Action{Type: ActionStake, Recipient: testRecipient, Amount: "1"})
	if d.Approved || d.Reason != ReasonActionNotAllowed {
		t.Errorf("disallowed action type: approved=%v reason=%q", d.Approved, d.Reason)
	}
}

func TestRateLimit(t *testing.T) {
	a := newTestAuthority()
	m := createTestMandate(t, a, Scope{
		MaxAmount: tokens(1),
		RateLimit: &RateLimit{MaxTransactions: 2, PeriodSeconds: 3600},
	}, time.Hour)
	ctx := context.Background()
	action := Action{Type: ActionTransfer, Recipient: testRecipient, Amount: "1"}

	for i := 0; i < 2; i++ {
		if _, err := a.ExecuteAction(ctx, m.ID, action); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}

	d, _ := a.ValidateMandate(ctx, m.ID, action)
	if d.Approved || d.Reason != ReasonRateLimitExceeded {
		t.Errorf("third in-window action: approved=%v reason=%q", d.Approved, d.Reason)
	}
}

func TestRateLimitWindowReset(t *testing.T) {
	a := newTestAuthority()
	store := NewMemoryStore()
	a.store = store
	m := createTestMandate(t, a, Scope{
		MaxAmount: tokens(1),
		RateLimit: &RateLimit{MaxTransactions: 1, PeriodSeconds: 1},
	}, time.Hour)
	ctx := context.Background()
	action := Action{Type: ActionTransfer, Recipient: testRecipient, Amount: "1"}

	if _, err := a.ExecuteAction(ctx, m.ID, action); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// Backdate the window past its period; the next validation sees a
	// fresh window.
	stored, _ := store.Get(ctx, m.ID)
	stored.WindowStart = time.Now().Add(-2 * time.Second)
	_ = store.Update(ctx, stored)

	d, _ := a.ValidateMandate(ctx, m.ID, action)
	if !d.Approved {
		t.Errorf("post-window action rejected: %q", d.Reason)
	}
}

func TestRevokedMandateNeverApproves(t *testing.T) {
	a := newTestAuthority()
	m := createTestMandate(t, a, Scope{MaxAmount: tokens(1)}, time.Hour)
	ctx := context.Background()

	if err := a.RevokeMandate(ctx, m.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	d, _ := a.ValidateMandate(ctx, m.ID, Action{Type: ActionTransfer, Recipient: testRecipient, Amount: "1"})
	if d.Approved || d.Reason != ReasonMandateRevoked {
		t.Errorf("revoked mandate: approved=%v reason=%q", d.Approved, d.Reason)
	}

	// Revocation is terminal even for a zero-amount nonsense action.
	d, _ = a.ValidateMandate(ctx, m.ID, Action{})
	if d.Approved {
		t.Error("revoked mandate approved an empty action")
	}
}

func TestExpiredOnRead(t *testing.T) {
	a := newTestAuthority()
	m := createTestMandate(t, a, Scope{MaxAmount: tokens(1)}, time.Millisecond)
	ctx := context.Background()

	time.Sleep(5 * time.Millisecond)

	d, _ := a.ValidateMandate(ctx, m.ID, Action{Type: ActionTransfer, Recipient: testRecipient, Amount: "1"})
	if d.Approved || d.Reason != ReasonMandateExpired {
		t.Errorf("expired mandate: approved=%v reason=%q", d.Approved, d.Reason)
	}

	// Expiry observed on read is persisted.
	got, _ := a.GetMandate(ctx, m.ID)
	if got.Status != StatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
}

func TestExecuteActionNotApproved(t *testing.T) {
	a := newTestAuthority()
	m := createTestMandate(t, a, Scope{MaxAmount: "100"}, time.Hour)

	_, err := a.ExecuteAction(context.Background(), m.ID, Action{Type: ActionTransfer, Recipient: testRecipient, Amount: "200"})
	na, ok := err.(*NotApprovedError)
	if !ok {
		t.Fatalf("err = %v, want NotApprovedError", err)
	}
	if na.Reason != ReasonExceedsMaxAmount {
		t.Errorf("reason = %q", na.Reason)
	}
}

func TestConcurrentExecutionsRespectBudget(t *testing.T) {
	a := newTestAuthority()
	m := createTestMandate(t, a, Scope{
		MaxAmount:   tokens(1),
		TotalBudget: tokens(5),
	}, time.Hour)
	ctx := context.Background()
	action := Action{Type: ActionTransfer, Recipient: testRecipient, Amount: tokens(1)}

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.ExecuteAction(ctx, m.ID, action)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != 5 {
		t.Errorf("%d executions succeeded, want exactly 5", succeeded)
	}

	got, _ := a.GetMandate(ctx, m.ID)
	used, _ := amount.Parse(got.UsedAmount)
	if used.Cmp(amount.Tokens(5)) != 0 {
		t.Errorf("usedAmount = %s, want %s", got.UsedAmount, tokens(5))
	}
}

func TestUsedAmountMonotonic(t *testing.T) {
	a := newTestAuthority()
	m := createTestMandate(t, a, Scope{MaxAmount: tokens(1), TotalBudget: tokens(100)}, time.Hour)
	ctx := context.Background()

	prev, _ := amount.Parse("0")
	for i := 0; i < 10; i++ {
		amt := fmt.Sprintf("%d", (i+1)*1000)
		if err := a.RecordExecution(ctx, m.ID, Action{Type: ActionTransfer, Recipient: testRecipient, Amount: amt}, "ref"); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		got, _ := a.GetMandate(ctx, m.ID)
		used, _ := amount.Parse(got.UsedAmount)
		if used.Cmp(prev) < 0 {
			t.Fatalf("usedAmount decreased: %s < %s", used, prev)
		}
		prev = used
	}
}

func TestGetMandatesByParty(t *testing.T) {
	a := newTestAuthority()
	createTestMandate(t, a, Scope{MaxAmount: "1"}, time.Hour)
	createTestMandate(t, a, Scope{MaxAmount: "2"}, time.Hour)
	ctx := context.Background()

	forAgent, err := a.GetMandatesForAgent(ctx, testAgent)
	if err != nil || len(forAgent) != 2 {
		t.Errorf("GetMandatesForAgent: %d mandates, err=%v", len(forAgent), err)
	}
	fromPrincipal, err := a.GetMandatesFromPrincipal(ctx, testPrincipal)
	if err != nil || len(fromPrincipal) != 2 {
		t.Errorf("GetMandatesFromPrincipal: %d mandates, err=%v", len(fromPrincipal), err)
	}
}
