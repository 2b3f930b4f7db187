package dialogue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	"github.com/tanpawarit/lead-capture-agent/agent/lead"
	promptx "github.com/tanpawarit/lead-capture-agent/agent/prompt"
	toolx "github.com/tanpawarit/lead-capture-agent/agent/tool"
)

type fakeReply struct {
	resp contractx.ConverseResponse
	err  error
}

type fakeModel struct {
	mu      sync.Mutex
	replies []fakeReply
	reqs    []contractx.ConverseRequest
}

func (f *fakeModel) Converse(ctx context.Context, req contractx.ConverseRequest) (contractx.ConverseResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.reqs)
	f.reqs = append(f.reqs, req)
	if idx >= len(f.replies) {
		return contractx.ConverseResponse{}, errors.New("no model reply left")
	}
	return f.replies[idx].resp, f.replies[idx].err
}

func (f *fakeModel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func reply(text string) fakeReply {
	return fakeReply{resp: contractx.ConverseResponse{Reply: text}}
}

func extraction(callID string, reply string, args string, fields lead.Fields) fakeReply {
	return fakeReply{resp: contractx.ConverseResponse{
		Reply:      reply,
		ToolCall:   &contractx.ToolCall{ID: callID, Name: toolx.SaveLeadDetails, Arguments: args},
		Extraction: &fields,
	}}
}

// failingStore fails every call; the controller must still answer.
type failingStore struct {
	calls int
}

func (f *failingStore) CreateSession(context.Context, lead.Turn) (string, error) {
	f.calls++
	return "", lead.ErrStoreUnavailable
}

func (f *failingStore) AppendTurn(context.Context, string, lead.Turn) error {
	f.calls++
	return lead.ErrStoreUnavailable
}

func (f *failingStore) ApplyFields(context.Context, string, lead.Fields) error {
	f.calls++
	return lead.ErrStoreUnavailable
}

func (f *failingStore) GetLead(context.Context, string) (*lead.Lead, error) {
	f.calls++
	return nil, lead.ErrStoreUnavailable
}

func (f *failingStore) Close() error { return nil }

// applyFailingStore only fails field updates.
type applyFailingStore struct {
	*lead.MemoryStore
}

func (s applyFailingStore) ApplyFields(context.Context, string, lead.Fields) error {
	return lead.ErrStoreUnavailable
}

type fakeNotifier struct {
	sent chan contractx.LeadSnapshot
}

func (f *fakeNotifier) NotifyQualified(ctx context.Context, snapshot contractx.LeadSnapshot) error {
	f.sent <- snapshot
	return nil
}

func newTestController(t *testing.T, store lead.Store, model contractx.ModelClient, notifier contractx.LeadNotifier) *Controller {
	t.Helper()

	c, err := New(store, model, notifier, Config{ModelTimeout: time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestHandleTurnMalformedRequest(t *testing.T) {
	t.Parallel()

	model := &fakeModel{}
	c := newTestController(t, lead.NewMemoryStore(), model, nil)

	_, err := c.HandleTurn(context.Background(), TurnInput{Message: "   "})
	if !errors.Is(err, contractx.ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest, got %v", err)
	}
	if model.calls() != 0 {
		t.Fatalf("model must not be called, got %d calls", model.calls())
	}
}

func TestHandleTurnTwoTurnScenario(t *testing.T) {
	t.Parallel()

	store := lead.NewMemoryStore()
	model := &fakeModel{replies: []fakeReply{
		extraction("call_1", "", `{"email":"a@b.com"}`, lead.Fields{Email: lead.StringPtr("a@b.com")}),
		reply("Thanks! Which company are you with?"),
		extraction("call_2", "", `{"company":"Acme"}`, lead.Fields{Company: lead.StringPtr("Acme")}),
		reply("Great. What kind of servers do you need?"),
	}}
	c := newTestController(t, store, model, nil)
	ctx := context.Background()

	first, err := c.HandleTurn(ctx, TurnInput{Message: "I need servers, email is a@b.com"})
	if err != nil {
		t.Fatalf("HandleTurn(first) error = %v", err)
	}
	if first.Status != contractx.StatusCreated {
		t.Fatalf("first status = %s, want %s", first.Status, contractx.StatusCreated)
	}
	if first.LeadID == "" || first.Reply != "Thanks! Which company are you with?" {
		t.Fatalf("unexpected first output: %#v", first)
	}
	if first.Error != "" {
		t.Fatalf("unexpected db error: %s", first.Error)
	}

	record, err := store.GetLead(ctx, first.LeadID)
	if err != nil {
		t.Fatalf("GetLead() error = %v", err)
	}
	if v, _ := record.Fields.Get(lead.KeyEmail); v != "a@b.com" {
		t.Fatalf("email = %q", v)
	}
	if record.Fields.Has(lead.KeyName) || record.Fields.Has(lead.KeyCompany) {
		t.Fatalf("email-only extraction set other fields: %#v", record.Fields.Values())
	}
	if len(record.Transcript) != 2 ||
		record.Transcript[0].Role != lead.RoleUser ||
		record.Transcript[1].Role != lead.RoleAssistant {
		t.Fatalf("unexpected transcript: %#v", record.Transcript)
	}
	if record.Phase() != lead.PhaseIdentifying {
		t.Fatalf("phase = %s, want identifying", record.Phase())
	}

	second, err := c.HandleTurn(ctx, TurnInput{LeadID: first.LeadID, Message: "My company is Acme"})
	if err != nil {
		t.Fatalf("HandleTurn(second) error = %v", err)
	}
	if second.Status != contractx.StatusUpdated || second.LeadID != first.LeadID {
		t.Fatalf("unexpected second output: %#v", second)
	}

	record, err = store.GetLead(ctx, first.LeadID)
	if err != nil {
		t.Fatalf("GetLead() error = %v", err)
	}
	if v, _ := record.Fields.Get(lead.KeyEmail); v != "a@b.com" {
		t.Fatalf("email lost: %q", v)
	}
	if v, _ := record.Fields.Get(lead.KeyCompany); v != "Acme" {
		t.Fatalf("company = %q", v)
	}
	for _, key := range []lead.FieldKey{lead.KeyName, lead.KeyServiceRequested, lead.KeySummary} {
		if record.Fields.Has(key) {
			t.Fatalf("%s must stay absent", key)
		}
	}
	if len(record.Transcript) != 4 {
		t.Fatalf("transcript len = %d, want 4", len(record.Transcript))
	}
	if record.Phase() != lead.PhaseAdvisory {
		t.Fatalf("phase = %s, want advisory", record.Phase())
	}

	// Second turn's model context: prior transcript only, new message separate.
	model.mu.Lock()
	defer model.mu.Unlock()
	req := model.reqs[2]
	if req.Message != "My company is Acme" || len(req.History) != 2 {
		t.Fatalf("unexpected model request: %#v", req)
	}
	if req.SystemInstruction != promptx.LoadPromptSet().Lead {
		t.Fatal("controller must send the lead system instruction")
	}
	ack := model.reqs[3].Acknowledgment
	if ack == nil || ack.ToolCall.ID != "call_2" || ack.Content != toolx.AcknowledgmentContent {
		t.Fatalf("confirmation must acknowledge the tool call, got %#v", ack)
	}
}

func TestHandleTurnUnknownLeadIDStartsNewSession(t *testing.T) {
	t.Parallel()

	store := lead.NewMemoryStore()
	c := newTestController(t, store, &fakeModel{replies: []fakeReply{reply("Hello!")}}, nil)

	out, err := c.HandleTurn(context.Background(), TurnInput{LeadID: "stale-id", Message: "hi"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if out.Status != contractx.StatusCreated {
		t.Fatalf("status = %s, want %s", out.Status, contractx.StatusCreated)
	}
	if out.LeadID == "" || out.LeadID == "stale-id" {
		t.Fatalf("expected a fresh lead id, got %q", out.LeadID)
	}
	record, err := store.GetLead(context.Background(), out.LeadID)
	if err != nil {
		t.Fatalf("GetLead() error = %v", err)
	}
	if len(record.Transcript) != 2 || record.Transcript[0].Content != "hi" {
		t.Fatalf("unexpected transcript: %#v", record.Transcript)
	}
}

func TestHandleTurnFailingStoreStillReplies(t *testing.T) {
	t.Parallel()

	store := &failingStore{}
	model := &fakeModel{replies: []fakeReply{
		extraction("call_1", "", `{"email":"a@b.com"}`, lead.Fields{Email: lead.StringPtr("a@b.com")}),
		reply("Thanks! Which company are you with?"),
	}}
	c := newTestController(t, store, model, nil)

	out, err := c.HandleTurn(context.Background(), TurnInput{Message: "email is a@b.com"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if strings.TrimSpace(out.Reply) == "" {
		t.Fatal("reply must not be empty")
	}
	if out.Status != contractx.StatusError {
		t.Fatalf("status = %s, want error", out.Status)
	}
	if out.LeadID != "" {
		t.Fatalf("lead id = %q, want empty", out.LeadID)
	}
	if out.Error == "" {
		t.Fatal("db error must carry a diagnostic")
	}
	if store.calls == 0 {
		t.Fatal("store must have been tried")
	}
}

func TestHandleTurnFailingStoreWithLeadIDKeepsID(t *testing.T) {
	t.Parallel()

	c := newTestController(t, &failingStore{}, &fakeModel{replies: []fakeReply{reply("Hi again")}}, nil)

	out, err := c.HandleTurn(context.Background(), TurnInput{LeadID: "lead-1", Message: "hello"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if out.Status != contractx.StatusError || out.LeadID != "lead-1" || out.Reply != "Hi again" {
		t.Fatalf("unexpected output: %#v", out)
	}
}

func TestHandleTurnModelFailureReturnsApology(t *testing.T) {
	t.Parallel()

	store := lead.NewMemoryStore()
	model := &fakeModel{replies: []fakeReply{{err: contractx.ErrModelUnavailable}}}
	c := newTestController(t, store, model, nil)

	out, err := c.HandleTurn(context.Background(), TurnInput{Message: "hi"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if out.Reply != promptx.FallbackApology {
		t.Fatalf("reply = %q", out.Reply)
	}
	if out.Status != contractx.StatusCreated {
		t.Fatalf("status = %s", out.Status)
	}
	if model.calls() != 1 {
		t.Fatalf("model calls = %d, want 1 (no retry)", model.calls())
	}

	record, err := store.GetLead(context.Background(), out.LeadID)
	if err != nil {
		t.Fatalf("GetLead() error = %v", err)
	}
	if len(record.Transcript) != 2 || record.Transcript[0].Content != "hi" {
		t.Fatalf("user turn must be logged before the model call: %#v", record.Transcript)
	}
}

func TestHandleTurnEmptyConfirmationFallsBack(t *testing.T) {
	t.Parallel()

	model := &fakeModel{replies: []fakeReply{
		extraction("call_1", "", `{"email":"a@b.com"}`, lead.Fields{Email: lead.StringPtr("a@b.com")}),
		reply(""),
	}}
	c := newTestController(t, lead.NewMemoryStore(), model, nil)

	out, err := c.HandleTurn(context.Background(), TurnInput{Message: "email is a@b.com"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if out.Reply != promptx.FallbackPrompt(lead.Fields{Email: lead.StringPtr("a@b.com")}) {
		t.Fatalf("reply = %q", out.Reply)
	}
	if !strings.Contains(out.Reply, "company") {
		t.Fatalf("fallback must ask for company first, got %q", out.Reply)
	}
}

func TestHandleTurnNoExtractionSkipsConfirmation(t *testing.T) {
	t.Parallel()

	model := &fakeModel{replies: []fakeReply{reply("How can I help?")}}
	c := newTestController(t, lead.NewMemoryStore(), model, nil)

	out, err := c.HandleTurn(context.Background(), TurnInput{Message: "hi"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if out.Reply != "How can I help?" || model.calls() != 1 {
		t.Fatalf("unexpected output %#v after %d calls", out, model.calls())
	}
}

func TestHandleTurnClientHistoryExcludesWelcomeAndMessage(t *testing.T) {
	t.Parallel()

	model := &fakeModel{replies: []fakeReply{reply("Noted.")}}
	c := newTestController(t, lead.NewMemoryStore(), model, nil)
	now := time.Now()

	_, err := c.HandleTurn(context.Background(), TurnInput{
		Message: "We have 20 staff",
		History: []lead.Turn{
			lead.NewTurn(lead.RoleAssistant, "Welcome! How can I help?", now),
			lead.NewTurn(lead.RoleUser, "I need servers", now),
			lead.NewTurn(lead.RoleAssistant, "How big is your team?", now),
			lead.NewTurn(lead.RoleUser, "We have 20 staff", now),
		},
	})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}

	model.mu.Lock()
	defer model.mu.Unlock()
	history := model.reqs[0].History
	if len(history) != 2 || history[0].Content != "I need servers" {
		t.Fatalf("unexpected model history: %#v", history)
	}
}

func TestHandleTurnApplyFailureKeepsStatus(t *testing.T) {
	t.Parallel()

	store := applyFailingStore{MemoryStore: lead.NewMemoryStore()}
	model := &fakeModel{replies: []fakeReply{
		extraction("call_1", "", `{"email":"a@b.com"}`, lead.Fields{Email: lead.StringPtr("a@b.com")}),
		reply("Thanks!"),
	}}
	c := newTestController(t, store, model, nil)

	out, err := c.HandleTurn(context.Background(), TurnInput{Message: "email is a@b.com"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}
	if out.Status != contractx.StatusCreated || out.Reply != "Thanks!" {
		t.Fatalf("unexpected output: %#v", out)
	}
}

func TestHandleTurnNotifiesQualifiedLead(t *testing.T) {
	t.Parallel()

	store := lead.NewMemoryStore()
	notifier := &fakeNotifier{sent: make(chan contractx.LeadSnapshot, 1)}
	model := &fakeModel{replies: []fakeReply{
		extraction("call_1", "", `{"email":"a@b.com","company":"Acme"}`, lead.Fields{
			Email:   lead.StringPtr("a@b.com"),
			Company: lead.StringPtr("Acme"),
		}),
		reply("Thanks! Tell me more about your project."),
	}}
	c := newTestController(t, store, model, notifier)

	out, err := c.HandleTurn(context.Background(), TurnInput{Message: "a@b.com from Acme"})
	if err != nil {
		t.Fatalf("HandleTurn() error = %v", err)
	}

	select {
	case snapshot := <-notifier.sent:
		if snapshot.LeadID != out.LeadID || snapshot.Phase != lead.PhaseAdvisory {
			t.Fatalf("unexpected snapshot: %#v", snapshot)
		}
		if v, _ := snapshot.Fields.Get(lead.KeyCompany); v != "Acme" {
			t.Fatalf("snapshot company = %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("qualified lead notification not sent")
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, &fakeModel{}, nil, Config{}); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := New(lead.NewMemoryStore(), nil, nil, Config{}); err == nil {
		t.Fatal("expected error for nil model")
	}
}
