// Package rowbatch runs one LLM prompt per row of a table and turns the
// answers back into tables. A prompt template with {{column}} placeholders is
// rendered for every input row, an output schema compiled from a column tree
// is appended, and the rows are sent to the model under a concurrency bound
// and a fixed-window rate limit. Answers are normalised into ordered records,
// merged over the input row and expanded into flat rows for export.
//
// # Problem Statement
//
// Enriching a spreadsheet with a model is easy for ten rows and tedious for
// ten thousand:
//
//   - Quotas: providers throttle per minute, so calls must be paced
//   - Latency: calls take seconds, so they must overlap
//   - Messy answers: models wrap JSON in prose or code fences
//   - Nested answers: lists inside answers do not fit in a table cell
//   - Partial failure: one bad row must not sink the batch
//
// # Basic Usage
//
//	client, _ := genai.NewClient(ctx, &genai.ClientConfig{APIKey: key})
//	inv, _ := rowbatch.NewGenAIInvoker(client, slog.Default(),
//	    rowbatch.WithWebSearch(true))
//	p := rowbatch.New(inv)
//
//	rows, _, _ := rowbatch.LoadRows("companies.csv")
//	res, err := p.Process(ctx, rowbatch.Job{
//	    Rows:               rows,
//	    Template:           "Find the headquarters of {{company}}.",
//	    Columns:            []rowbatch.OutputColumn{{Name: "city", Type: rowbatch.TypeString}},
//	    Concurrency:        4,
//	    RateLimitPerMinute: 60,
//	    Timeout:            30 * time.Second,
//	})
//	success, failed := rowbatch.Export(res)
//	_ = rowbatch.WriteCSV(os.Stdout, success)
//
// # Runs
//
// Processor.Start validates the job and returns a *Run immediately; Process
// blocks until the run ends. Every launched row ends in exactly one of the
// success or error lists, and progress counters only grow. Run.Abort stops
// scheduling new rows: rows waiting for the rate limiter are dropped, while
// calls already sent finish and are recorded. The run then ends in
// StateAborted with Completed possibly below Total.
//
// Observers receive progress, in-flight counts, per-row events and a final
// summary through WithProgress, WithActiveRequests, WithRowEvents and
// WithSummary. Callbacks are serialised.
//
// # Rate Limiting
//
// The default limiter admits RateLimitPerMinute calls per window counted from
// the moment the run starts. RedisLimiter applies the same policy across
// processes. Any Limiter can be supplied with WithLimiter.
//
// # Answers
//
// ParseResponse never fails: it accepts fenced JSON, bare JSON, JSON embedded
// in prose, and falls back to {"result": text}. Flatten and Expand turn
// nested records into flat rows, one per array index.
//
// # Templates
//
// StickPromptProvider loads Twig templates (tyler-sommer/stick) from an
// fs.FS. GetPromptWithColumns binds each column name to its own placeholder,
// so a template may loop over columns and still produce {{column}} tokens
// for RenderPrompt.
//
// # Execution Plans
//
// PlanBuilder renders every prompt without calling the model and explains
// the run as a tree with token, window and cost estimates, in text, JSON or
// Graphviz form.
package rowbatch
