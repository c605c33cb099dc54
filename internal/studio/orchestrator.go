package studio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dom/genstudio/internal/client"
	"github.com/dom/genstudio/internal/domain"
	"github.com/dom/genstudio/internal/upload"
)

// API is the remote generation service.
type API interface {
	CreateGeneration(ctx context.Context, token string, form client.GenerationForm) (*client.Generation, error)
	ListGenerations(ctx context.Context, token string, limit int) ([]client.Generation, error)
}

// TokenSource supplies the bearer token and is told when the server rejects it.
type TokenSource interface {
	Token() (string, bool)
	Invalidate()
}

var ErrGenerationInProgress = errors.New("a generation is already in progress")

type State int

const (
	StateIdle State = iota
	StateValidating
	StateSubmitting
	StateAwaitingResult
	StateRetryPending
	StateSucceeded
	StateAborted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateSubmitting:
		return "submitting"
	case StateAwaitingResult:
		return "awaiting_result"
	case StateRetryPending:
		return "retry_pending"
	case StateSucceeded:
		return "succeeded"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transition is reported to the observer on every state change.
type Transition struct {
	From    State
	To      State
	Attempt int
	Err     error
}

type Outcome int

const (
	OutcomeSucceeded Outcome = iota + 1
	OutcomeAborted
	OutcomeFailed
)

type Result struct {
	Outcome    Outcome
	Generation *client.Generation
	Attempts   int
}

// RetryPolicy bounds resubmission of overloaded requests.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: time.Second}
}

// Allow reports whether a request that failed with err on attempt may be
// submitted again. Only overload is retryable.
func (p RetryPolicy) Allow(attempt int, err error) bool {
	return domain.KindOf(err) == domain.KindOverload && attempt < p.MaxAttempts
}

// Asset is an image chosen for upload, read once when the request is
// validated.
type Asset struct {
	Filename    string
	ContentType string
	Reader      io.Reader
}

type Request struct {
	Prompt string
	Style  string
	Asset  *Asset
}

// Orchestrator drives one logical generation request at a time through
// validation, submission, bounded retry on overload and cancellation.
type Orchestrator struct {
	api     API
	tokens  TokenSource
	history *History
	policy  RetryPolicy
	upload  upload.Policy

	OnTransition func(Transition)

	runMu sync.Mutex
	mu    sync.Mutex
	state State
}

func NewOrchestrator(api API, tokens TokenSource, history *History, policy RetryPolicy) *Orchestrator {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Orchestrator{
		api:     api,
		tokens:  tokens,
		history: history,
		policy:  policy,
		upload:  upload.DefaultPolicy(),
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) transition(to State, attempt int, err error) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()

	if o.OnTransition != nil {
		o.OnTransition(Transition{From: from, To: to, Attempt: attempt, Err: err})
	}
}

// Generate runs req to a terminal outcome. A second call while one is in
// flight returns ErrGenerationInProgress without touching the first.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Result, error) {
	const op = "studio.Generate"

	if !o.runMu.TryLock() {
		return nil, ErrGenerationInProgress
	}
	defer o.runMu.Unlock()

	o.transition(StateValidating, 0, nil)
	form, err := o.validate(op, req)
	if err != nil {
		return o.fail(0, err)
	}

	token, ok := o.tokens.Token()
	if !ok {
		return o.fail(0, domain.NewError(domain.KindAuth, op, domain.MsgUnauthorized))
	}

	for attempt := 1; ; attempt++ {
		o.transition(StateSubmitting, attempt, nil)
		if ctx.Err() != nil {
			return o.abort(op, attempt, ctx.Err())
		}

		o.transition(StateAwaitingResult, attempt, nil)
		gen, err := o.api.CreateGeneration(ctx, token, form)
		if err == nil {
			return o.succeed(ctx, attempt, gen)
		}
		if ctx.Err() != nil || domain.KindOf(err) == domain.KindCancelled {
			return o.abort(op, attempt, err)
		}

		if domain.KindOf(err) == domain.KindAuth {
			o.tokens.Invalidate()
			return o.fail(attempt, err)
		}

		if !o.policy.Allow(attempt, err) {
			if domain.KindOf(err) == domain.KindOverload {
				err = domain.WrapError(domain.KindOverload, op, domain.MsgOverloadExhausted, err)
			}
			return o.fail(attempt, err)
		}

		o.transition(StateRetryPending, attempt, err)
		if !o.wait(ctx) {
			return o.abort(op, attempt, ctx.Err())
		}
	}
}

func (o *Orchestrator) wait(ctx context.Context) bool {
	timer := time.NewTimer(o.policy.Backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (o *Orchestrator) succeed(ctx context.Context, attempt int, gen *client.Generation) (*Result, error) {
	o.transition(StateSucceeded, attempt, nil)

	if o.history != nil {
		if _, err := o.history.Refresh(ctx); err != nil {
			log.Printf("WARN [studio.Generate] history refresh failed: %v", err)
		}
	}

	o.transition(StateIdle, attempt, nil)
	return &Result{Outcome: OutcomeSucceeded, Generation: gen, Attempts: attempt}, nil
}

func (o *Orchestrator) abort(op string, attempt int, cause error) (*Result, error) {
	err := domain.WrapError(domain.KindCancelled, op, domain.MsgGenerationCancelled, cause)
	o.transition(StateAborted, attempt, err)
	return &Result{Outcome: OutcomeAborted, Attempts: attempt}, err
}

func (o *Orchestrator) fail(attempt int, err error) (*Result, error) {
	o.transition(StateFailed, attempt, err)
	return &Result{Outcome: OutcomeFailed, Attempts: attempt}, err
}

// validate checks the request locally and stages the asset bytes. Nothing
// here touches the network.
func (o *Orchestrator) validate(op string, req Request) (client.GenerationForm, error) {
	prompt := strings.TrimSpace(req.Prompt)
	style := strings.TrimSpace(req.Style)

	if req.Asset == nil || req.Asset.Reader == nil {
		return client.GenerationForm{}, domain.NewError(domain.KindValidation, op, domain.MsgImageRequired)
	}
	if prompt == "" {
		return client.GenerationForm{}, domain.NewError(domain.KindValidation, op, domain.MsgPromptRequired)
	}
	if style == "" {
		return client.GenerationForm{}, domain.NewError(domain.KindValidation, op, domain.MsgStyleRequired)
	}

	data, err := io.ReadAll(io.LimitReader(req.Asset.Reader, o.upload.MaxBytes+1))
	if err != nil {
		return client.GenerationForm{}, domain.WrapError(domain.KindValidation, op, "Could not read image", err)
	}

	contentType := req.Asset.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if err := o.upload.Check(contentType, int64(len(data))); err != nil {
		return client.GenerationForm{}, upload.RejectionError(op, err)
	}

	return client.GenerationForm{
		Prompt: prompt,
		Style:  style,
		Image: &client.Image{
			Filename:    req.Asset.Filename,
			ContentType: contentType,
			Data:        data,
		},
	}, nil
}
