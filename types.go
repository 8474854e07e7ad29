package rowbatch

import (
	"context"
	"time"
)

// Runner lets a run schedule row jobs with any concurrency model.
type Runner interface {
	Go(fn func() error) // schedule
	Wait() error        // join / propagate first err
}

// PromptProvider should return the prompt template text for the given tag
type PromptProvider interface {
	GetPrompt(tag string) (string, error)
}

// ColumnPromptProvider extends PromptProvider with row column bindings.
type ColumnPromptProvider interface {
	PromptProvider
	GetPromptWithColumns(tag string, columns []string) (string, error)
}

// Invoker is the remote call seam; it allows mocking, retrying and caching.
// Implementations should honour ctx, which carries the per-call deadline.
type Invoker interface {
	Generate(ctx context.Context, prompt string) (*Response, error)
}

// InvokerFunc adapts a plain function to Invoker.
type InvokerFunc func(ctx context.Context, prompt string) (*Response, error)

func (f InvokerFunc) Generate(ctx context.Context, prompt string) (*Response, error) {
	return f(ctx, prompt)
}

// Limiter admits outbound calls. Wait blocks until the caller may proceed.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Response is the text returned by the model plus optional search grounding.
type Response struct {
	Text      string
	Grounding *Grounding
}

// Grounding lists the web searches and sources behind a grounded answer.
type Grounding struct {
	Queries []string
	Sources []Source
}

// Source is one web page cited by a grounded answer.
type Source struct {
	URI   string
	Title string
}

// Job is the input of one run. Rows and Columns must not be modified while
// the run is active.
type Job struct {
	Rows               []*Record
	Template           string
	Columns            []OutputColumn
	Concurrency        int
	RateLimitPerMinute int
	Timeout            time.Duration
}

// RowStatus is the outcome of one row job.
type RowStatus string

const (
	StatusSuccess RowStatus = "success"
	StatusError   RowStatus = "error"
)

// RowEvent is emitted once per settled row.
type RowEvent struct {
	Index  int
	Status RowStatus
	Data   *Record // parsed response, success only
	Error  string  // error only
}

// Summary is emitted once when a run terminates.
type Summary struct {
	SuccessCount int
	ErrorCount   int
}

// Progress is a point-in-time view of a run.
type Progress struct {
	Completed int
	Total     int
	InFlight  int
}

// Options represents functional options for a run
type Options struct {
	Limiter       Limiter                                       // nil → fixed window from the job's rate limit
	RateWindow    time.Duration                                 // 0 → one minute
	RunnerFactory func(ctx context.Context, concurrency int) Runner // nil → NewLimitedRunner
	OnProgress    func(completed, total int)
	OnActive      func(inFlight int)
	OnRow         func(RowEvent)
	OnSummary     func(Summary)
}

// Functional option constructors
func WithLimiter(l Limiter) func(*Options) {
	return func(o *Options) { o.Limiter = l }
}

func WithRateWindow(d time.Duration) func(*Options) {
	return func(o *Options) { o.RateWindow = d }
}

func WithRunner(factory func(ctx context.Context, concurrency int) Runner) func(*Options) {
	return func(o *Options) { o.RunnerFactory = factory }
}

func WithProgress(fn func(completed, total int)) func(*Options) {
	return func(o *Options) { o.OnProgress = fn }
}

// WithActiveRequests reports the number of remote calls in flight, before
// and after every call.
func WithActiveRequests(fn func(inFlight int)) func(*Options) {
	return func(o *Options) { o.OnActive = fn }
}

func WithRowEvents(fn func(RowEvent)) func(*Options) {
	return func(o *Options) { o.OnRow = fn }
}

func WithSummary(fn func(Summary)) func(*Options) {
	return func(o *Options) { o.OnSummary = fn }
}
