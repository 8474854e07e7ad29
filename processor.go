package rowbatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// RunState is the lifecycle state of a run.
type RunState int32

const (
	StateIdle RunState = iota
	StateRunning
	StateCompleted
	StateAborted
)

func (s RunState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "idle"
	}
}

// ProcessedRow is a successful row: the original fields merged with the
// parsed response, parsed fields winning on collisions.
type ProcessedRow struct {
	Index     int
	Fields    *Record
	Data      *Record
	Raw       string
	Grounding *Grounding
}

// ErrorRow is a failed row with its original fields.
type ErrorRow struct {
	Index   int
	Fields  *Record
	Message string
	Err     error
}

// Result is the outcome of a run. Success and Errors are sorted by input index.
type Result struct {
	RunID     string
	State     RunState
	Total     int
	Completed int
	Success   []ProcessedRow
	Errors    []ErrorRow
	Started   time.Time
	Finished  time.Time
}

// Summary returns the success and error counts.
func (r *Result) Summary() Summary {
	return Summary{SuccessCount: len(r.Success), ErrorCount: len(r.Errors)}
}

// Processor drives row jobs through render, rate limit, remote call and
// response normalisation. A Processor may run several jobs over its life;
// runs share nothing but the invoker.
type Processor struct {
	invoker Invoker
	log     *slog.Logger
	current atomic.Pointer[Run]
}

// New returns a Processor that logs with slog.Default().
func New(inv Invoker) *Processor {
	return NewWithLogger(inv, slog.Default())
}

// NewWithLogger lets the caller supply their own logger.
func NewWithLogger(inv Invoker, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{invoker: inv, log: log}
}

// Start validates job and launches it in the background. A validation
// failure is returned as a *ValidationError before any row is scheduled.
func (p *Processor) Start(ctx context.Context, job Job, optFns ...func(*Options)) (*Run, error) {
	if err := p.validate(job); err != nil {
		p.log.Debug("Job rejected", "error", err)
		return nil, err
	}

	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	run := newRun(ctx, p.invoker, p.log, job, opts)
	p.current.Store(run)
	p.log.Info("Run started",
		"run_id", run.id,
		"rows", len(job.Rows),
		"concurrency", job.Concurrency,
		"rate_limit_per_minute", job.RateLimitPerMinute,
		"timeout", job.Timeout)

	go func() {
		run.loop(ctx)
		p.current.CompareAndSwap(run, nil)
	}()
	return run, nil
}

// Process runs job to completion and returns its result.
func (p *Processor) Process(ctx context.Context, job Job, optFns ...func(*Options)) (*Result, error) {
	run, err := p.Start(ctx, job, optFns...)
	if err != nil {
		return nil, err
	}
	return run.Wait(), nil
}

// Abort stops the active run, if any. It is safe to call at any time.
func (p *Processor) Abort() {
	if run := p.current.Load(); run != nil {
		run.Abort()
	}
}

func (p *Processor) validate(job Job) error {
	if p.invoker == nil {
		return &ValidationError{Field: "invoker", Err: ErrInvokerMissing}
	}
	return validateJob(job)
}

func validateJob(job Job) error {
	switch {
	case len(job.Rows) == 0:
		return &ValidationError{Field: "rows", Err: ErrNoRows}
	case strings.TrimSpace(job.Template) == "":
		return &ValidationError{Field: "template", Err: ErrEmptyTemplate}
	case job.Concurrency < 1:
		return &ValidationError{Field: "concurrency", Err: ErrInvalidConcurrency}
	case job.RateLimitPerMinute < 1:
		return &ValidationError{Field: "rateLimitPerMinute", Err: ErrInvalidRateLimit}
	case job.Timeout <= 0:
		return &ValidationError{Field: "timeout", Err: ErrInvalidTimeout}
	}
	return ValidateColumns(job.Columns)
}

// Run is one execution of a job.
type Run struct {
	id         string
	job        Job
	opts       Options
	invoker    Invoker
	log        *slog.Logger
	limiter    Limiter
	schemaText string
	started    time.Time

	state   atomic.Int32
	aborted atomic.Bool

	// waitCtx bounds rate-limiter waits only; Abort cancels it. Remote
	// calls never see it, so admitted calls run to completion.
	waitCtx    context.Context
	cancelWait context.CancelFunc

	completed atomic.Int64
	inFlight  atomic.Int64
	emitMu    sync.Mutex // serialises callbacks and counter updates

	mu      sync.Mutex
	success []ProcessedRow
	errs    []ErrorRow

	done   chan struct{}
	result *Result
}

func newRun(ctx context.Context, inv Invoker, log *slog.Logger, job Job, opts Options) *Run {
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewFixedWindowLimiter(job.RateLimitPerMinute, opts.RateWindow)
	}
	waitCtx, cancel := context.WithCancel(ctx)
	r := &Run{
		id:         uuid.NewString(),
		job:        job,
		opts:       opts,
		invoker:    inv,
		log:        log,
		limiter:    limiter,
		schemaText: CompileSchema(job.Columns),
		started:    time.Now(),
		waitCtx:    waitCtx,
		cancelWait: cancel,
		done:       make(chan struct{}),
	}
	r.state.Store(int32(StateRunning))
	return r
}

// ID returns the run's unique identifier.
func (r *Run) ID() string { return r.id }

// State returns the current lifecycle state.
func (r *Run) State() RunState { return RunState(r.state.Load()) }

// Progress returns the current counters.
func (r *Run) Progress() Progress {
	return Progress{
		Completed: int(r.completed.Load()),
		Total:     len(r.job.Rows),
		InFlight:  int(r.inFlight.Load()),
	}
}

// Abort stops launching rows. Calls already sent to the model finish and
// their rows are recorded. Abort is idempotent and a no-op once the run
// has terminated.
func (r *Run) Abort() {
	if r.State() != StateRunning {
		return
	}
	if r.aborted.CompareAndSwap(false, true) {
		r.log.Info("Run abort requested", "run_id", r.id, "completed", r.completed.Load())
		r.cancelWait()
	}
}

// Done is closed when the run has terminated.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run terminates and returns its result.
func (r *Run) Wait() *Result {
	<-r.done
	return r.result
}

func (r *Run) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		r.aborted.Store(true)
	}
	return r.aborted.Load()
}

func (r *Run) loop(ctx context.Context) {
	newRunner := r.opts.RunnerFactory
	if newRunner == nil {
		newRunner = NewLimitedRunner
	}
	runner := newRunner(ctx, r.job.Concurrency)

	for i, row := range r.job.Rows {
		if r.stopped(ctx) {
			r.log.Debug("Not launching remaining rows", "run_id", r.id, "next_index", i)
			break
		}
		index, row := i, row
		runner.Go(func() error {
			r.processRow(ctx, index, row)
			return nil
		})
	}
	_ = runner.Wait()
	r.finish()
}

func (r *Run) processRow(ctx context.Context, index int, row *Record) {
	if r.stopped(ctx) {
		return
	}
	prompt := RenderPrompt(r.job.Template, row, r.schemaText)
	r.log.Debug("Row prompt rendered", "run_id", r.id, "index", index, "prompt_length", len(prompt))

	if err := r.limiter.Wait(r.waitCtx); err != nil {
		if r.stopped(ctx) {
			r.log.Debug("Row dropped while waiting for rate limit", "run_id", r.id, "index", index)
			return
		}
		r.settleError(index, row, &CallError{Kind: CallTransport, Err: fmt.Errorf("rate limit: %w", err)})
		return
	}
	if r.stopped(ctx) {
		return
	}

	r.adjustInFlight(1)
	resp, err := r.invoke(ctx, prompt)
	r.adjustInFlight(-1)

	if err != nil {
		r.log.Debug("Row failed", "run_id", r.id, "index", index, "error", err)
		r.settleError(index, row, err)
		return
	}

	data := ParseRecord(resp.Text)
	r.log.Debug("Row succeeded", "run_id", r.id, "index", index, "fields", data.Len())
	r.settleSuccess(ProcessedRow{
		Index:     index,
		Fields:    mergeRecords(row, data),
		Data:      data,
		Raw:       resp.Text,
		Grounding: resp.Grounding,
	})
}

// invoke calls the model under the run's per-call deadline. A call that
// outlives its deadline is reported as failed, but invoke still waits for it
// to return so the slot stays occupied while the call is running.
func (r *Run) invoke(ctx context.Context, prompt string) (*Response, error) {
	timeout := r.job.Timeout
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		resp *Response
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		resp, err := r.invoker.Generate(callCtx, prompt)
		ch <- outcome{resp, err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, classifyCallError(out.err, timeout)
		}
		if out.resp == nil || strings.TrimSpace(out.resp.Text) == "" {
			return nil, &CallError{Kind: CallEmptyResponse, Err: ErrEmptyResponse}
		}
		return out.resp, nil
	case <-callCtx.Done():
		err := &CallError{Kind: CallTransport, Err: callCtx.Err()}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = &CallError{Kind: CallTimeout, Timeout: timeout, Err: callCtx.Err()}
		}
		<-ch
		return nil, err
	}
}

func (r *Run) adjustInFlight(delta int64) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	n := r.inFlight.Add(delta)
	if r.opts.OnActive != nil {
		r.opts.OnActive(int(n))
	}
}

func (r *Run) settleSuccess(row ProcessedRow) {
	r.mu.Lock()
	r.success = append(r.success, row)
	r.mu.Unlock()
	r.settled(RowEvent{Index: row.Index, Status: StatusSuccess, Data: row.Data})
}

func (r *Run) settleError(index int, row *Record, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, ErrorRow{
		Index:   index,
		Fields:  cloneRecord(row),
		Message: err.Error(),
		Err:     err,
	})
	r.mu.Unlock()
	r.settled(RowEvent{Index: index, Status: StatusError, Error: err.Error()})
}

func (r *Run) settled(ev RowEvent) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.opts.OnRow != nil {
		r.opts.OnRow(ev)
	}
	n := r.completed.Add(1)
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(int(n), len(r.job.Rows))
	}
}

func (r *Run) finish() {
	state := StateCompleted
	if r.aborted.Load() {
		state = StateAborted
	}
	r.cancelWait()

	r.mu.Lock()
	success := append([]ProcessedRow(nil), r.success...)
	errs := append([]ErrorRow(nil), r.errs...)
	r.mu.Unlock()
	sort.Slice(success, func(i, j int) bool { return success[i].Index < success[j].Index })
	sort.Slice(errs, func(i, j int) bool { return errs[i].Index < errs[j].Index })

	r.result = &Result{
		RunID:     r.id,
		State:     state,
		Total:     len(r.job.Rows),
		Completed: int(r.completed.Load()),
		Success:   success,
		Errors:    errs,
		Started:   r.started,
		Finished:  time.Now(),
	}
	r.state.Store(int32(state))

	summary := r.result.Summary()
	r.log.Info("Run finished",
		"run_id", r.id,
		"state", state.String(),
		"success", summary.SuccessCount,
		"errors", summary.ErrorCount,
		"duration", r.result.Finished.Sub(r.started))
	if r.opts.OnSummary != nil {
		r.opts.OnSummary(summary)
	}
	close(r.done)
}
