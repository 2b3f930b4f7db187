package dialoguenode

import (
	"context"
	"errors"
	"testing"
	"time"

	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	"github.com/tanpawarit/lead-capture-agent/agent/lead"
	promptx "github.com/tanpawarit/lead-capture-agent/agent/prompt"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	_, err := ValidateRequest(GraphInput{Message: "   "}, fixedNow)
	if !errors.Is(err, contractx.ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest, got %v", err)
	}

	_, err = ValidateRequest(GraphInput{
		Message: "hi",
		History: []lead.Turn{{Role: lead.Role("system"), Content: "x"}},
	}, fixedNow)
	if !errors.Is(err, contractx.ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest for unknown role, got %v", err)
	}

	st, err := ValidateRequest(GraphInput{
		LeadID:  "  lead-1 ",
		Message: " hi ",
		History: []lead.Turn{
			{Role: lead.RoleAssistant, Content: "Welcome!"},
			{Role: lead.RoleUser, Content: "  "},
		},
	}, fixedNow)
	if err != nil {
		t.Fatalf("ValidateRequest() error = %v", err)
	}
	if st.RequestedLeadID != "lead-1" || st.Message != "hi" {
		t.Fatalf("unexpected state: %#v", st)
	}
	if len(st.ClientHistory) != 1 {
		t.Fatalf("blank history turns must be dropped, got %#v", st.ClientHistory)
	}
}

func TestModelHistoryDropsWelcomeAndCurrentMessage(t *testing.T) {
	t.Parallel()

	now := fixedNow()
	turns := []lead.Turn{
		lead.NewTurn(lead.RoleAssistant, "Welcome! How can I help?", now),
		lead.NewTurn(lead.RoleUser, "I need servers", now),
		lead.NewTurn(lead.RoleAssistant, "Which company are you with?", now),
		lead.NewTurn(lead.RoleUser, "My company is Acme", now),
	}

	got := modelHistory(turns, "My company is Acme")
	if len(got) != 2 {
		t.Fatalf("history len = %d, want 2: %#v", len(got), got)
	}
	if got[0].Content != "I need servers" || got[1].Role != lead.RoleAssistant {
		t.Fatalf("unexpected history: %#v", got)
	}

	got = modelHistory(turns[:3], "My company is Acme")
	if len(got) != 2 {
		t.Fatalf("history without the current message must keep prior turns, got %#v", got)
	}
}

func TestLoadHistoryFallsBackToClientHistory(t *testing.T) {
	t.Parallel()

	store := lead.NewMemoryStore()
	now := fixedNow()
	st := &GraphState{
		LeadID:  "missing",
		Message: "hello again",
		ClientHistory: []lead.Turn{
			lead.NewTurn(lead.RoleAssistant, "Welcome!", now),
			lead.NewTurn(lead.RoleUser, "hi", now),
		},
	}

	out, err := LoadHistory(context.Background(), st, store)
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if len(out.History) != 1 || out.History[0].Content != "hi" {
		t.Fatalf("unexpected history: %#v", out.History)
	}
	if out.PhaseBefore != lead.PhaseIdentifying {
		t.Fatalf("phase = %s", out.PhaseBefore)
	}
}

func TestLoadHistoryUsesStoredTranscript(t *testing.T) {
	t.Parallel()

	store := lead.NewMemoryStore()
	ctx := context.Background()
	now := fixedNow()
	id, err := store.CreateSession(ctx, lead.NewTurn(lead.RoleUser, "email is a@b.com", now))
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	_ = store.ApplyFields(ctx, id, lead.Fields{Email: lead.StringPtr("a@b.com")})
	_ = store.AppendTurn(ctx, id, lead.NewTurn(lead.RoleAssistant, "Thanks!", now))
	_ = store.AppendTurn(ctx, id, lead.NewTurn(lead.RoleUser, "My company is Acme", now))

	out, err := LoadHistory(ctx, &GraphState{
		LeadID:        id,
		Message:       "My company is Acme",
		ClientHistory: []lead.Turn{lead.NewTurn(lead.RoleUser, "ignored", now)},
	}, store)
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if len(out.History) != 2 || out.History[0].Content != "email is a@b.com" {
		t.Fatalf("unexpected history: %#v", out.History)
	}
	if v, _ := out.Known.Get(lead.KeyEmail); v != "a@b.com" {
		t.Fatalf("known email = %q", v)
	}
}

func TestFinalizeReplyReportsFirstStoreError(t *testing.T) {
	t.Parallel()

	st := &GraphState{Reply: "ok", LeadID: "lead-1", Status: contractx.StatusUpdated}
	st.markStoreError(lead.ErrStoreUnavailable)
	st.markStoreError(errors.New("second"))

	out, err := FinalizeReply(st)
	if err != nil {
		t.Fatalf("FinalizeReply() error = %v", err)
	}
	if out.Status != contractx.StatusError {
		t.Fatalf("status = %s", out.Status)
	}
	if out.Error != lead.ErrStoreUnavailable.Error() {
		t.Fatalf("error = %q", out.Error)
	}
	if out.LeadID != "lead-1" {
		t.Fatalf("lead id = %q", out.LeadID)
	}
}

func TestFinalizeReplyNeverEmpty(t *testing.T) {
	t.Parallel()

	out, err := FinalizeReply(&GraphState{Status: contractx.StatusCreated})
	if err != nil {
		t.Fatalf("FinalizeReply() error = %v", err)
	}
	if out.Reply != promptx.FallbackApology {
		t.Fatalf("reply = %q", out.Reply)
	}
}

func TestQualified(t *testing.T) {
	t.Parallel()

	st := &GraphState{
		Extraction:  &lead.Fields{},
		PhaseBefore: lead.PhaseIdentifying,
		PhaseAfter:  lead.PhaseAdvisory,
	}
	if !st.Qualified() {
		t.Fatal("identifying -> advisory must qualify")
	}
	st.PhaseBefore = lead.PhaseAdvisory
	if st.Qualified() {
		t.Fatal("already advisory must not qualify again")
	}
}

func TestLogReplyStampsCaptureTime(t *testing.T) {
	t.Parallel()

	store := lead.NewMemoryStore()
	received := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	replied := received.Add(40 * time.Second)

	id, err := store.CreateSession(context.Background(), lead.NewTurn(lead.RoleUser, "hi", received))
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	state := &GraphState{
		Now:    received,
		Clock:  func() time.Time { return replied },
		LeadID: id,
		Reply:  "Hello! Which company are you with?",
	}
	if _, err := LogReply(context.Background(), state, store); err != nil {
		t.Fatalf("LogReply() error = %v", err)
	}

	l, err := store.GetLead(context.Background(), id)
	if err != nil {
		t.Fatalf("GetLead() error = %v", err)
	}
	if len(l.Transcript) != 2 {
		t.Fatalf("transcript len = %d, want 2", len(l.Transcript))
	}
	if got := l.Transcript[0].Timestamp; !got.Equal(received) {
		t.Fatalf("user turn timestamp = %s, want %s", got, received)
	}
	if got := l.Transcript[1].Timestamp; !got.Equal(replied) {
		t.Fatalf("reply timestamp = %s, want %s", got, replied)
	}
}

func TestValidateRequestCarriesClock(t *testing.T) {
	t.Parallel()

	ticks := []time.Time{
		time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 9, 0, 5, 0, time.UTC),
	}
	calls := 0
	clock := func() time.Time {
		tick := ticks[calls]
		calls++
		return tick
	}

	state, err := ValidateRequest(GraphInput{Message: "hi"}, clock)
	if err != nil {
		t.Fatalf("ValidateRequest() error = %v", err)
	}
	if !state.Now.Equal(ticks[0]) {
		t.Fatalf("Now = %s, want %s", state.Now, ticks[0])
	}
	if got := state.now(); !got.Equal(ticks[1]) {
		t.Fatalf("later clock read = %s, want %s", got, ticks[1])
	}
}
