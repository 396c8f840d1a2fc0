package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orgai/backend/internal/classifier"
	"github.com/orgai/backend/internal/history"
	"github.com/orgai/backend/internal/llm"
	"github.com/orgai/backend/internal/metrics"
	"github.com/orgai/backend/internal/sqlgate"
	"github.com/orgai/backend/internal/storage/models"
	"github.com/orgai/backend/pkg/apperr"
	"github.com/orgai/backend/pkg/logger"
	"github.com/orgai/backend/pkg/utils"
)

// Recorder persists the audit trail of a chat. Chat records are written
// before the statements that belong to them.
type Recorder interface {
	InsertChatRecord(ctx context.Context, record *models.ChatRecord) error
	InsertSQLExecution(ctx context.Context, exec *models.SQLExecution) error
}

type Engine struct {
	assembler *Assembler
	llmClient llm.Completer
	gate      *sqlgate.Gate
	executor  sqlgate.Executor
	history   *history.History
	recorder  Recorder
	org       Organization
	now       func() time.Time
}

type Options struct {
	Assembler *Assembler
	LLM       llm.Completer
	Gate      *sqlgate.Gate
	// Executor runs accepted statements; nil when no database is configured.
	Executor     sqlgate.Executor
	History      *history.History
	Recorder     Recorder
	Organization Organization
}

func NewEngine(opts Options) *Engine {
	return &Engine{
		assembler: opts.Assembler,
		llmClient: opts.LLM,
		gate:      opts.Gate,
		executor:  opts.Executor,
		history:   opts.History,
		recorder:  opts.Recorder,
		org:       opts.Organization,
		now:       time.Now,
	}
}

type ChatRequest struct {
	User   string
	Prompt string
	Mode   classifier.Mode
}

type ChatResponse struct {
	ID       string
	Queue    int64
	Mode     classifier.Mode
	Category classifier.Category
	Response string
	Context  string
	// Statement is the gated statement, if one was found.
	Statement string
	Rejected  bool
	LatencyMS int
}

// Chat answers one prompt. A literal statement on the data path is gated and
// executed without consulting the LLM. Otherwise the assembled context goes
// to the LLM, and on the data path a statement in its reply is gated too.
// Gate rejections are returned as the response text, not as errors.
func (e *Engine) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := e.now()

	queue, err := e.history.Store().NextQueue(ctx, req.User)
	if err != nil {
		logger.Warn("Failed to assign queue number", zap.String("user", req.User), zap.Error(err))
	}

	cls := classifier.Classify(req.Prompt, req.Mode)
	resp := &ChatResponse{
		ID:       uuid.New().String(),
		Queue:    queue,
		Mode:     cls.Mode,
		Category: cls.Category,
	}

	logger.Info("Processing chat",
		zap.String("chat_id", resp.ID),
		zap.String("user", req.User),
		zap.Int64("queue", queue),
		zap.String("mode", string(cls.Mode)),
		zap.String("category", string(cls.Category)),
	)

	var execs []models.SQLExecution
	literal, hasLiteral := "", false
	if cls.Category == classifier.CategoryData {
		literal, hasLiteral = sqlgate.Extract(req.Prompt)
	}

	if hasLiteral {
		out, err := e.runStatement(ctx, literal)
		execs = append(execs, out.audit)
		if err != nil {
			return nil, e.fail(ctx, req, resp, execs, start, err)
		}
		resp.Response = out.text
		resp.Statement = out.audit.Statement
		resp.Rejected = out.rejected
	} else {
		assembled := e.assembler.Assemble(ctx, cls, req.Prompt, req.User)
		resp.Context = assembled.Text

		completion, err := e.llmClient.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: e.systemPrompt(cls.Category),
			UserPrompt:   BuildPrompt(assembled.Text, req.Prompt),
		})
		if err != nil {
			return nil, e.fail(ctx, req, resp, execs, start, err)
		}
		resp.Response = completion.Content

		if cls.Category == classifier.CategoryData {
			if stmt, ok := sqlgate.Extract(completion.Content); ok {
				out, err := e.runStatement(ctx, stmt)
				execs = append(execs, out.audit)
				if err != nil {
					return nil, e.fail(ctx, req, resp, execs, start, err)
				}
				resp.Statement = out.audit.Statement
				resp.Rejected = out.rejected
				if out.rejected {
					resp.Response = out.text
				} else {
					resp.Response = completion.Content + "\n\n" + out.text
				}
			}
		}
	}

	if err := e.history.Record(ctx, req.User, req.Prompt, resp.Response); err != nil {
		logger.Warn("Failed to record conversation", zap.String("user", req.User), zap.Error(err))
	}

	resp.LatencyMS = int(time.Since(start).Milliseconds())
	status := "success"
	if resp.Rejected {
		status = "rejected"
	}
	metrics.ChatRequests.WithLabelValues(string(cls.Mode), status).Inc()
	metrics.ChatDuration.WithLabelValues(string(cls.Category)).Observe(time.Since(start).Seconds())
	e.audit(ctx, req, resp, execs)

	logger.Info("Chat completed",
		zap.String("chat_id", resp.ID),
		zap.String("category", string(resp.Category)),
		zap.Bool("rejected", resp.Rejected),
		zap.Int("latency_ms", resp.LatencyMS),
	)
	return resp, nil
}

// Clear forgets the user's conversation.
func (e *Engine) Clear(ctx context.Context, user string) error {
	return e.history.Clear(ctx, user)
}

type statementOutcome struct {
	text     string
	rejected bool
	audit    models.SQLExecution
}

func (e *Engine) runStatement(ctx context.Context, stmt string) (statementOutcome, error) {
	out := statementOutcome{audit: models.SQLExecution{
		Fingerprint: utils.StatementFingerprint(stmt),
		Statement:   stmt,
		CreatedAt:   e.now(),
	}}

	var res *sqlgate.Result
	var err error
	if e.executor == nil {
		if _, err = e.gate.Validate(stmt); err == nil {
			err = apperr.Safety("database integration is disabled")
		}
	} else {
		out.audit.Backend = e.executor.Kind()
		res, err = e.gate.Run(ctx, e.executor, stmt)
	}

	switch {
	case apperr.IsKind(err, apperr.KindSafety):
		out.text = err.Error()
		out.rejected = true
		out.audit.Verdict = models.VerdictRejected
		out.audit.Reason = err.Error()
		return out, nil
	case err != nil:
		out.audit.Verdict = models.VerdictFailed
		out.audit.Reason = err.Error()
		return out, err
	}

	out.text = res.Table
	out.audit.Statement = res.Statement
	out.audit.Verdict = models.VerdictAccepted
	out.audit.RowCount = len(res.Rows)
	return out, nil
}

func (e *Engine) fail(ctx context.Context, req ChatRequest, resp *ChatResponse, execs []models.SQLExecution, start time.Time, err error) error {
	metrics.ChatRequests.WithLabelValues(string(resp.Mode), "error").Inc()
	logger.Error("Chat failed",
		zap.String("chat_id", resp.ID),
		zap.String("user", req.User),
		zap.String("kind", apperr.KindOf(err).String()),
		zap.Error(err),
	)
	resp.LatencyMS = int(time.Since(start).Milliseconds())
	e.audit(ctx, req, resp, execs)

	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return fmt.Errorf("failed to process chat: %w", err)
}

func (e *Engine) audit(ctx context.Context, req ChatRequest, resp *ChatResponse, execs []models.SQLExecution) {
	if e.recorder == nil {
		return
	}
	err := e.recorder.InsertChatRecord(ctx, &models.ChatRecord{
		ID:        resp.ID,
		UserID:    req.User,
		Queue:     resp.Queue,
		Mode:      string(resp.Mode),
		Category:  string(resp.Category),
		Prompt:    req.Prompt,
		Response:  resp.Response,
		Context:   resp.Context,
		LatencyMS: resp.LatencyMS,
		CreatedAt: e.now(),
	})
	if err != nil {
		logger.Warn("Failed to store chat record", zap.String("chat_id", resp.ID), zap.Error(err))
		return
	}
	for i := range execs {
		execs[i].ChatID = resp.ID
		if err := e.recorder.InsertSQLExecution(ctx, &execs[i]); err != nil {
			logger.Warn("Failed to store sql execution", zap.String("chat_id", resp.ID), zap.Error(err))
		}
	}
}

func (e *Engine) systemPrompt(category classifier.Category) string {
	name := e.org.Name
	if name == "" {
		name = "the organization"
	}
	prompt := fmt.Sprintf("You are the internal assistant of %s. Answer from the supplied context and say so when it does not cover the question.", name)
	if category == classifier.CategoryData {
		prompt += " When data is requested, write one SELECT statement that follows the listed rules."
	}
	return prompt
}

// BuildPrompt wraps the assembled context and the user's question.
func BuildPrompt(contextText, question string) string {
	return fmt.Sprintf("Context from available data sources:\n%s\n\nUser question: %s\n\nPlease provide a comprehensive answer based on the available information.", contextText, question)
}
