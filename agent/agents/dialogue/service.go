package dialogue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/lead-capture-agent/agent/contract"
	"github.com/tanpawarit/lead-capture-agent/agent/lead"
	metricsx "github.com/tanpawarit/lead-capture-agent/agent/metrics"
	nodex "github.com/tanpawarit/lead-capture-agent/agent/nodes"
	promptx "github.com/tanpawarit/lead-capture-agent/agent/prompt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tanpawarit/lead-capture-agent/agent/agents/dialogue"

type Config struct {
	// SystemInstruction overrides the embedded lead prompt.
	SystemInstruction string
	ModelTimeout      time.Duration
	NotifyTimeout     time.Duration
}

type TurnInput struct {
	LeadID  string
	Message string
	History []lead.Turn
}

type TurnOutput struct {
	Reply  string
	LeadID string
	Status contractx.PersistenceStatus
	Error  string
}

// Controller runs one slot-filling turn per call. It keeps no session state
// between calls; everything lives in the lead store.
type Controller struct {
	store    lead.Store
	model    contractx.ModelClient
	notifier contractx.LeadNotifier

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	instruction   string
	modelTimeout  time.Duration
	notifyTimeout time.Duration

	tracer trace.Tracer
	now    func() time.Time
}

func New(
	store lead.Store,
	model contractx.ModelClient,
	notifier contractx.LeadNotifier,
	cfg Config,
) (*Controller, error) {
	if store == nil {
		return nil, errors.New("lead store is required")
	}
	if model == nil {
		return nil, errors.New("model client is required")
	}
	if notifier == nil {
		notifier = contractx.NoopNotifier{}
	}

	instruction := strings.TrimSpace(cfg.SystemInstruction)
	if instruction == "" {
		instruction = promptx.LoadPromptSet().Lead
	}
	notifyTimeout := cfg.NotifyTimeout
	if notifyTimeout <= 0 {
		notifyTimeout = 10 * time.Second
	}

	c := &Controller{
		store:         store,
		model:         model,
		notifier:      notifier,
		instruction:   instruction,
		modelTimeout:  cfg.ModelTimeout,
		notifyTimeout: notifyTimeout,
		tracer:        otel.Tracer(tracerName),
		now:           time.Now,
	}

	graphRunner, err := c.compileHandleTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	c.graphRunner = graphRunner

	return c, nil
}

// HandleTurn answers one user message. Only a malformed request fails; store
// and model trouble degrade the persistence status or the reply instead.
func (c *Controller) HandleTurn(ctx context.Context, in TurnInput) (TurnOutput, error) {
	started := time.Now()
	ctx, span := c.tracer.Start(ctx, "dialogue.handle_turn",
		trace.WithAttributes(
			attribute.Bool("lead.id_supplied", strings.TrimSpace(in.LeadID) != ""),
			attribute.Int("history.len", len(in.History)),
		),
	)
	defer span.End()

	out, err := c.graphRunner.Invoke(ctx, nodex.GraphInput{
		LeadID:  in.LeadID,
		Message: in.Message,
		History: in.History,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		return TurnOutput{}, err
	}

	span.SetAttributes(
		attribute.String("lead.id", out.LeadID),
		attribute.String("db.status", string(out.Status)),
	)
	metricsx.RecordTurn(string(out.Status), time.Since(started).Seconds())
	zerolog.Ctx(ctx).Debug().
		Str("lead_id", out.LeadID).
		Str("db_status", string(out.Status)).
		Dur("elapsed", time.Since(started)).
		Msg("turn handled")

	return TurnOutput{
		Reply:  out.Reply,
		LeadID: out.LeadID,
		Status: out.Status,
		Error:  out.Error,
	}, nil
}
