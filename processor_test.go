package rowbatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// numberedRows returns n rows {"id": "<i>", "company": "co<i>"}.
func numberedRows(n int) []*Record {
	rows := make([]*Record, n)
	for i := range rows {
		rows[i] = RecordOf("id", strconv.Itoa(i), "company", fmt.Sprintf("co%d", i))
	}
	return rows
}

func rowIndex(t *testing.T, prompt string) int {
	t.Helper()
	line, _, _ := strings.Cut(strings.TrimPrefix(prompt, "row "), "\n")
	i, err := strconv.Atoi(line)
	require.NoError(t, err)
	return i
}

func testJob(rows []*Record) Job {
	return Job{
		Rows:               rows,
		Template:           "row {{id}}",
		Concurrency:        2,
		RateLimitPerMinute: 1000,
		Timeout:            time.Second,
	}
}

func TestProcessor_Validation(t *testing.T) {
	ok := testJob(numberedRows(1))
	tests := []struct {
		name   string
		mutate func(*Job)
		field  string
		target error
	}{
		{"no rows", func(j *Job) { j.Rows = nil }, "rows", ErrNoRows},
		{"empty template", func(j *Job) { j.Template = "  " }, "template", ErrEmptyTemplate},
		{"zero concurrency", func(j *Job) { j.Concurrency = 0 }, "concurrency", ErrInvalidConcurrency},
		{"zero rate", func(j *Job) { j.RateLimitPerMinute = 0 }, "rateLimitPerMinute", ErrInvalidRateLimit},
		{"zero timeout", func(j *Job) { j.Timeout = 0 }, "timeout", ErrInvalidTimeout},
		{"bad column", func(j *Job) { j.Columns = []OutputColumn{{Name: ""}} }, "columns[0].name", ErrInvalidColumn},
	}
	p := NewForTesting(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := ok
			tt.mutate(&job)
			run, err := p.Start(context.Background(), job)
			assert.Nil(t, run)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
			assert.ErrorIs(t, err, tt.target)
		})
	}

	t.Run("leftover children on scalar column", func(t *testing.T) {
		job := ok
		job.Columns = []OutputColumn{{Name: "city", Type: TypeString, Columns: []OutputColumn{{Name: "leftover"}}}}
		res, err := p.Process(context.Background(), job)
		require.NoError(t, err)
		assert.Len(t, res.Success, 1)
	})

	t.Run("missing invoker", func(t *testing.T) {
		_, err := New(nil).Start(context.Background(), ok)
		assert.ErrorIs(t, err, ErrInvokerMissing)
	})
}

func TestProcessor_ProcessSuccess(t *testing.T) {
	p := NewForTesting(func(prompt string) (string, error) {
		i := rowIndex(t, prompt)
		return fmt.Sprintf("```json\n{\"city\": \"city%d\", \"company\": \"parsed%d\"}\n```", i, i), nil
	})

	var (
		mu       sync.Mutex
		progress []int
		events   []RowEvent
		summary  *Summary
	)
	job := testJob(numberedRows(5))
	job.Columns = []OutputColumn{{Name: "city"}}

	res, err := p.Process(context.Background(), job,
		WithProgress(func(completed, total int) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 5, total)
			progress = append(progress, completed)
		}),
		WithRowEvents(func(ev RowEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, ev)
		}),
		WithSummary(func(s Summary) { summary = &s }),
	)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 5, res.Completed)
	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Success, 5)

	for i, row := range res.Success {
		assert.Equal(t, i, row.Index)
		// parsed fields win, input column order is kept
		assert.Equal(t, []string{"id", "company", "city"}, Keys(row.Fields))
		company, _ := row.Fields.Get("company")
		assert.Equal(t, fmt.Sprintf("parsed%d", i), company)
		assert.Equal(t, []string{"city", "company"}, Keys(row.Data))
		assert.Contains(t, row.Raw, "```json")
	}

	assert.Equal(t, []int{1, 2, 3, 4, 5}, progress)
	assert.Len(t, events, 5)
	for _, ev := range events {
		assert.Equal(t, StatusSuccess, ev.Status)
		assert.NotNil(t, ev.Data)
	}
	require.NotNil(t, summary)
	assert.Equal(t, Summary{SuccessCount: 5}, *summary)
	assert.Equal(t, *summary, res.Summary())
}

func TestProcessor_InputRowsAreNotModified(t *testing.T) {
	p := NewForTesting(func(string) (string, error) { return `{"company": "changed"}`, nil })
	rows := numberedRows(2)
	res, err := p.Process(context.Background(), testJob(rows))
	require.NoError(t, err)
	require.Len(t, res.Success, 2)
	company, _ := rows[0].Get("company")
	assert.Equal(t, "co0", company)
}

func TestProcessor_TimeoutIsolatesOneRow(t *testing.T) {
	inv := InvokerFunc(func(ctx context.Context, prompt string) (*Response, error) {
		if rowIndex(t, prompt) == 3 {
			// ignores ctx on purpose
			time.Sleep(300 * time.Millisecond)
		}
		return &Response{Text: `{"ok": true}`}, nil
	})
	job := testJob(numberedRows(10))
	job.Timeout = 50 * time.Millisecond

	res, err := New(inv).Process(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, 10, res.Completed)
	assert.Len(t, res.Success, 9)
	require.Len(t, res.Errors, 1)

	failed := res.Errors[0]
	assert.Equal(t, 3, failed.Index)
	assert.True(t, IsTimeout(failed.Err))
	assert.Equal(t, "request timed out after 50ms", failed.Message)
	id, _ := failed.Fields.Get("id")
	assert.Equal(t, "3", id)
}

func TestProcessor_ErrorKinds(t *testing.T) {
	boom := errors.New("connection reset")
	inv := InvokerFunc(func(ctx context.Context, prompt string) (*Response, error) {
		switch rowIndex(t, prompt) {
		case 0:
			return nil, boom
		case 1:
			return &Response{Text: "   "}, nil
		case 2:
			return nil, nil
		case 3:
			return nil, fmt.Errorf("wrapped: %w", context.DeadlineExceeded)
		default:
			return &Response{Text: "no json here"}, nil
		}
	})
	job := testJob(numberedRows(5))
	res, err := New(inv).Process(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, res.Errors, 4)
	assert.Equal(t, "request failed: connection reset", res.Errors[0].Message)
	assert.ErrorIs(t, res.Errors[0].Err, boom)
	assert.Equal(t, "no response returned from the model", res.Errors[1].Message)
	assert.Equal(t, "no response returned from the model", res.Errors[2].Message)
	assert.True(t, IsTimeout(res.Errors[3].Err))

	var ce *CallError
	require.True(t, errors.As(res.Errors[1].Err, &ce))
	assert.Equal(t, CallEmptyResponse, ce.Kind)

	// unparseable text is a success with the raw answer under "result"
	require.Len(t, res.Success, 1)
	v, _ := res.Success[0].Data.Get(ResultKey)
	assert.Equal(t, "no json here", v)
	assert.Equal(t, res.Completed, len(res.Success)+len(res.Errors))
}

func TestProcessor_ConcurrencyBound(t *testing.T) {
	var active, peak int32
	inv := InvokerFunc(func(ctx context.Context, prompt string) (*Response, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return &Response{Text: `{}`}, nil
	})

	var maxReported, last int32
	job := testJob(numberedRows(12))
	job.Concurrency = 3
	res, err := New(inv).Process(context.Background(), job,
		WithActiveRequests(func(n int) {
			if int32(n) > maxReported {
				maxReported = int32(n)
			}
			last = int32(n)
		}),
	)
	require.NoError(t, err)
	assert.Len(t, res.Success, 12)
	assert.LessOrEqual(t, peak, int32(3))
	assert.LessOrEqual(t, maxReported, int32(3))
	assert.Equal(t, int32(0), last)
}

func TestProcessor_TimedOutCallsHoldTheirSlot(t *testing.T) {
	var active, peak int32
	inv := InvokerFunc(func(ctx context.Context, prompt string) (*Response, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		// ignores ctx on purpose
		time.Sleep(100 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return &Response{Text: `{}`}, nil
	})

	var maxReported int32
	job := testJob(numberedRows(4))
	job.Concurrency = 1
	job.Timeout = 10 * time.Millisecond
	res, err := New(inv).Process(context.Background(), job,
		WithActiveRequests(func(n int) {
			if int32(n) > maxReported {
				maxReported = int32(n)
			}
		}),
	)
	require.NoError(t, err)

	require.Len(t, res.Errors, 4)
	for _, row := range res.Errors {
		assert.True(t, IsTimeout(row.Err))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
	assert.Equal(t, int32(1), maxReported)
	assert.Equal(t, int32(0), atomic.LoadInt32(&active))
}

func TestProcessor_RateLimitIsApplied(t *testing.T) {
	var calls int32
	p := NewForTesting(func(string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return `{}`, nil
	})
	job := testJob(numberedRows(3))
	job.RateLimitPerMinute = 2
	job.Concurrency = 3

	start := time.Now()
	res, err := p.Process(context.Background(), job, WithRateWindow(80*time.Millisecond))
	require.NoError(t, err)
	assert.Len(t, res.Success, 3)
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

type countingLimiter struct{ n int32 }

func (c *countingLimiter) Wait(ctx context.Context) error {
	atomic.AddInt32(&c.n, 1)
	return ctx.Err()
}

func TestProcessor_CustomLimiterAndRunner(t *testing.T) {
	lim := &countingLimiter{}
	var factoryCalls int32
	factory := func(ctx context.Context, n int) Runner {
		atomic.AddInt32(&factoryCalls, 1)
		assert.Equal(t, 2, n)
		return NewLimitedRunner(ctx, n)
	}
	res, err := NewForTesting(nil).Process(context.Background(), testJob(numberedRows(4)),
		WithLimiter(lim), WithRunner(factory))
	require.NoError(t, err)
	assert.Len(t, res.Success, 4)
	assert.Equal(t, int32(4), lim.n)
	assert.Equal(t, int32(1), factoryCalls)
}

func TestProcessor_AbortLetsInFlightCallsFinish(t *testing.T) {
	release := make(chan struct{})
	inv := InvokerFunc(func(ctx context.Context, prompt string) (*Response, error) {
		<-release
		return &Response{Text: `{"done": true}`}, nil
	})

	inFlight := make(chan int, 64)
	job := testJob(numberedRows(6))
	job.Concurrency = 6
	job.RateLimitPerMinute = 2
	job.Timeout = 5 * time.Second

	p := New(inv)
	run, err := p.Start(context.Background(), job,
		WithRateWindow(time.Hour),
		WithActiveRequests(func(n int) { inFlight <- n }),
	)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, run.State())

	// two calls admitted by the limiter, the rest wait for the next window
	for n := range inFlight {
		if n == 2 {
			break
		}
	}
	p.Abort()
	run.Abort()
	close(release)

	res := run.Wait()
	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, StateAborted, run.State())
	assert.Equal(t, 2, res.Completed)
	assert.Len(t, res.Success, 2)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 6, res.Total)
	assert.Equal(t, Progress{Completed: 2, Total: 6, InFlight: 0}, run.Progress())
}

func TestProcessor_AbortAfterCompletionIsNoop(t *testing.T) {
	p := NewForTesting(nil)
	run, err := p.Start(context.Background(), testJob(numberedRows(2)))
	require.NoError(t, err)
	res := run.Wait()

	run.Abort()
	p.Abort()
	assert.Equal(t, StateCompleted, run.State())
	assert.Equal(t, StateCompleted, res.State)
}

func TestProcessor_ContextCancelAbortsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	job := testJob(numberedRows(5))
	job.Concurrency = 1
	job.RateLimitPerMinute = 1

	run, err := NewForTesting(nil).Start(ctx, job, WithRateWindow(time.Hour))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	res := run.Wait()
	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, 1, res.Completed)
}

func TestProcessor_RowEventsCoverEveryRowOnce(t *testing.T) {
	p := NewForTesting(func(prompt string) (string, error) {
		if rowIndex(t, prompt)%3 == 0 {
			return "", errors.New("nope")
		}
		return `{"x": 1}`, nil
	})

	var mu sync.Mutex
	seen := map[int]int{}
	res, err := p.Process(context.Background(), testJob(numberedRows(9)),
		WithRowEvents(func(ev RowEvent) {
			mu.Lock()
			seen[ev.Index]++
			mu.Unlock()
			if ev.Status == StatusError {
				assert.Equal(t, "request failed: nope", ev.Error)
			}
		}))
	require.NoError(t, err)

	assert.Len(t, seen, 9)
	for i := 0; i < 9; i++ {
		assert.Equal(t, 1, seen[i], "row %d", i)
	}
	assert.Len(t, res.Errors, 3)
	assert.Len(t, res.Success, 6)
	for i := 1; i < len(res.Errors); i++ {
		assert.Less(t, res.Errors[i-1].Index, res.Errors[i].Index)
	}
}

func TestProcessor_ReusableAcrossRuns(t *testing.T) {
	p := NewForTesting(nil)
	first, err := p.Process(context.Background(), testJob(numberedRows(3)))
	require.NoError(t, err)
	second, err := p.Process(context.Background(), testJob(numberedRows(2)))
	require.NoError(t, err)

	assert.Len(t, first.Success, 3)
	assert.Len(t, second.Success, 2)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestProcessor_PromptIncludesSchema(t *testing.T) {
	var got string
	var once sync.Once
	p := NewForTesting(func(prompt string) (string, error) {
		once.Do(func() { got = prompt })
		return `{}`, nil
	})
	job := testJob(numberedRows(1))
	job.Columns = []OutputColumn{{Name: "city", Description: "HQ"}}
	_, err := p.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "row 0"+SchemaHeader+CompileSchema(job.Columns), got)
}
