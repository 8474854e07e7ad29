package rowbatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// defaultOutputTokens is the per-row answer size assumed when the job has no
// output columns to estimate from.
const defaultOutputTokens = 50

// DryRunner interface for types that can estimate a job without calling the model
type DryRunner interface {
	DryRun(ctx context.Context, job Job, optFns ...func(*Options)) (*ExecutionStats, error)
}

// ExecutionStats is the estimated shape of a run.
type ExecutionStats struct {
	Rows               int           `json:"rows"`               // Rows in the job
	PromptCalls        int           `json:"promptCalls"`        // One model call per row
	Concurrency        int           `json:"concurrency"`        // Calls allowed in flight
	RateLimitPerMinute int           `json:"rateLimitPerMinute"` // Admissions per window
	RateWindow         time.Duration `json:"rateWindow"`         // Length of one rate window
	RateWindows        int           `json:"rateWindows"`        // Windows needed to admit every row
	MinDuration        time.Duration `json:"minDuration"`        // Lower bound imposed by the rate limit
	SchemaTokens       int           `json:"schemaTokens"`       // Tokens of the compiled schema block
	TotalInputTokens   int           `json:"totalInputTokens"`   // Sum over rendered prompts (estimated)
	TotalOutputTokens  int           `json:"totalOutputTokens"`  // Sum over answers (estimated)
	MaxPromptTokens    int           `json:"maxPromptTokens"`    // Largest rendered prompt (estimated)
	SamplePrompt       string        `json:"samplePrompt"`       // Prompt rendered for the first row
}

// DryRun validates job and estimates it by rendering every prompt without
// calling the model. It does not need an invoker.
func (p *Processor) DryRun(ctx context.Context, job Job, optFns ...func(*Options)) (*ExecutionStats, error) {
	if err := validateJob(job); err != nil {
		return nil, err
	}
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	window := opts.RateWindow
	if window <= 0 {
		window = DefaultRateWindow
	}

	schemaText := CompileSchema(job.Columns)
	stats := &ExecutionStats{
		Rows:               len(job.Rows),
		PromptCalls:        len(job.Rows),
		Concurrency:        job.Concurrency,
		RateLimitPerMinute: job.RateLimitPerMinute,
		RateWindow:         window,
		SchemaTokens:       EstimateTokensFromText(schemaText),
	}

	outputPerRow := defaultOutputTokens
	if len(job.Columns) > 0 {
		outputPerRow = stats.SchemaTokens
	}
	for i, row := range job.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prompt := RenderPrompt(job.Template, row, schemaText)
		if i == 0 {
			stats.SamplePrompt = prompt
		}
		tokens := EstimateTokensFromText(prompt)
		stats.TotalInputTokens += tokens
		stats.MaxPromptTokens = max(stats.MaxPromptTokens, tokens)
		stats.TotalOutputTokens += outputPerRow
	}

	stats.RateWindows = (stats.Rows + job.RateLimitPerMinute - 1) / job.RateLimitPerMinute
	if stats.RateWindows > 1 {
		stats.MinDuration = time.Duration(stats.RateWindows-1) * window
	}

	p.log.Debug("Dry run estimated",
		"rows", stats.Rows,
		"input_tokens", stats.TotalInputTokens,
		"rate_windows", stats.RateWindows,
		"min_duration", stats.MinDuration)
	return stats, nil
}

// PlanNodeType defines the type of operation a node represents.
type PlanNodeType string

const (
	SchemaCompileType PlanNodeType = "SchemaCompile"
	PromptRenderType  PlanNodeType = "PromptRender"
	RateLimitType     PlanNodeType = "RateLimit"
	PromptCallType    PlanNodeType = "PromptCall"
	NormalizeType     PlanNodeType = "Normalize"
	ExpandType        PlanNodeType = "Expand"
)

// PlanNode represents a node in the run's execution plan.
// Warning: Children and Metadata are exported for extensibility but should not be
// modified after plan generation to maintain internal consistency.
type PlanNode struct {
	Type         PlanNodeType   `json:"type"`                   // e.g. "SchemaCompile", "PromptCall", ...
	PromptName   string         `json:"promptName,omitempty"`   // Template name (if applicable)
	Model        string         `json:"model,omitempty"`        // LLM model used (if applicable)
	Fields       []string       `json:"fields,omitempty"`       // Output columns covered at this node
	Calls        int            `json:"calls,omitempty"`        // Model calls made by this node
	InputTokens  int            `json:"inputTokens,omitempty"`  // Estimated input size in tokens for this node
	OutputTokens int            `json:"outputTokens,omitempty"` // Estimated output size in tokens for this node
	EstCost      float64        `json:"estCost"`                // Estimated *abstract* cost units for this node (includes children)
	ActCost      *float64       `json:"actCost,omitempty"`      // Optional cost in $ if pricing is known
	Children     []*PlanNode    `json:"children,omitempty"`     // Child plan nodes (sub-operations)
	Metadata     map[string]any `json:"metadata,omitempty"`     // Additional metadata for extensibility
}

// ModelPrice represents the pricing for a specific model.
type ModelPrice struct {
	PromptTokCost     float64 // Cost per 1000 input tokens
	CompletionTokCost float64 // Cost per 1000 output tokens
}

// FormatType represents different output formats for the execution plan.
type FormatType string

const (
	FormatText     FormatType = "text"
	FormatJSON     FormatType = "json"
	FormatGraphviz FormatType = "dot"
)

// PlanBuilder is responsible for constructing execution plans.
// Note: PlanBuilder is not thread-safe. Create separate instances for concurrent use.
type PlanBuilder struct {
	job        Job
	hasJob     bool
	promptName string
	model      string
	rateWindow time.Duration
	dryRunner  DryRunner
}

// NewPlanBuilder creates a new plan builder.
func NewPlanBuilder() *PlanBuilder {
	return &PlanBuilder{model: DefaultModel, dryRunner: NewWithLogger(nil, slog.Default())}
}

// WithJob sets the job to plan.
func (pb *PlanBuilder) WithJob(job Job) *PlanBuilder {
	pb.job = job
	pb.hasJob = true
	return pb
}

// WithPromptName labels the prompt call node, e.g. with a template tag.
func (pb *PlanBuilder) WithPromptName(name string) *PlanBuilder {
	pb.promptName = name
	return pb
}

// WithModel sets the model the plan is priced for.
func (pb *PlanBuilder) WithModel(model string) *PlanBuilder {
	pb.model = model
	return pb
}

// WithRateWindow overrides the one minute rate window.
func (pb *PlanBuilder) WithRateWindow(d time.Duration) *PlanBuilder {
	pb.rateWindow = d
	return pb
}

// WithDryRunner replaces the estimator used to build the plan.
func (pb *PlanBuilder) WithDryRunner(d DryRunner) *PlanBuilder {
	pb.dryRunner = d
	return pb
}

// Explain generates the execution plan with abstract costs.
func (pb *PlanBuilder) Explain() (*PlanNode, error) {
	return pb.buildPlan(nil)
}

// ExplainWithCosts generates the execution plan with real cost estimates.
func (pb *PlanBuilder) ExplainWithCosts(pricing map[string]ModelPrice) (*PlanNode, error) {
	if pricing == nil {
		return nil, fmt.Errorf("pricing information is required for cost calculations")
	}
	return pb.buildPlan(pricing)
}

func (pb *PlanBuilder) buildPlan(pricing map[string]ModelPrice) (*PlanNode, error) {
	if !pb.hasJob {
		return nil, fmt.Errorf("job is required to build execution plan")
	}
	stats, err := pb.dryRunner.DryRun(context.Background(), pb.job, WithRateWindow(pb.rateWindow))
	if err != nil {
		return nil, fmt.Errorf("dry run: %w", err)
	}

	fields := make([]string, 0, len(pb.job.Columns))
	for _, col := range pb.job.Columns {
		fields = append(fields, col.Name)
	}

	root := &PlanNode{
		Type:        SchemaCompileType,
		Fields:      fields,
		InputTokens: stats.SchemaTokens,
		Metadata:    map[string]any{"rows": stats.Rows},
	}
	root.Children = []*PlanNode{
		{
			Type:        PromptRenderType,
			InputTokens: stats.TotalInputTokens,
			Metadata:    map[string]any{"maxPromptTokens": stats.MaxPromptTokens},
		},
		{
			Type: RateLimitType,
			Metadata: map[string]any{
				"limit":       stats.RateLimitPerMinute,
				"window":      stats.RateWindow.String(),
				"windows":     stats.RateWindows,
				"minDuration": stats.MinDuration.String(),
				"concurrency": stats.Concurrency,
			},
		},
		{
			Type:         PromptCallType,
			PromptName:   pb.promptName,
			Model:        pb.model,
			Fields:       fields,
			Calls:        stats.PromptCalls,
			InputTokens:  stats.TotalInputTokens,
			OutputTokens: stats.TotalOutputTokens,
		},
		{Type: NormalizeType, Fields: fields},
		{Type: ExpandType, Fields: fields},
	}

	pb.calculateCosts(root, pricing)
	return root, nil
}

// calculateCosts calculates abstract and actual costs for all nodes.
func (pb *PlanBuilder) calculateCosts(node *PlanNode, pricing map[string]ModelPrice) {
	// Calculate costs for children first (bottom-up)
	childrenCost := 0.0
	for _, child := range node.Children {
		pb.calculateCosts(child, pricing)
		childrenCost += child.EstCost
	}

	node.EstCost = pb.calculateNodeCost(node) + childrenCost

	if pricing != nil {
		if actualCost := calculateActualCost(node, pricing); actualCost > 0 {
			node.ActCost = &actualCost
		}
	}
}

// calculateNodeCost calculates the abstract cost for a single node.
func (pb *PlanBuilder) calculateNodeCost(node *PlanNode) float64 {
	switch node.Type {
	case SchemaCompileType:
		return 1.0 + float64(len(node.Fields))*0.5
	case PromptRenderType:
		return 0.5 + float64(node.InputTokens)*0.001
	case PromptCallType:
		// Base cost per call plus token-based cost
		return float64(node.Calls)*3.0 + float64(node.InputTokens)*0.01
	case NormalizeType, ExpandType:
		return 0.5 + float64(len(node.Fields))*0.1
	default:
		return 1.0
	}
}

// calculateActualCost calculates the real cost in USD for a node.
func calculateActualCost(node *PlanNode, pricing map[string]ModelPrice) float64 {
	if node.Type != PromptCallType || node.Model == "" {
		return 0.0
	}
	price, exists := pricing[node.Model]
	if !exists {
		return 0.0
	}
	inputCost := float64(node.InputTokens) * price.PromptTokCost / 1000.0
	outputCost := float64(node.OutputTokens) * price.CompletionTokCost / 1000.0
	return inputCost + outputCost
}

// ExplainPretty returns a human-readable formatted plan.
func (pb *PlanBuilder) ExplainPretty(format FormatType) (string, error) {
	plan, err := pb.Explain()
	if err != nil {
		return "", err
	}
	return pb.FormatPlan(plan, format)
}

// ExplainPrettyWithCosts returns a human-readable formatted plan with costs.
func (pb *PlanBuilder) ExplainPrettyWithCosts(format FormatType, pricing map[string]ModelPrice) (string, error) {
	plan, err := pb.ExplainWithCosts(pricing)
	if err != nil {
		return "", err
	}
	return pb.FormatPlan(plan, format)
}

// FormatPlan formats a plan according to the specified format.
func (pb *PlanBuilder) FormatPlan(plan *PlanNode, format FormatType) (string, error) {
	switch format {
	case FormatText:
		return pb.formatAsText(plan), nil
	case FormatJSON:
		return pb.formatAsJSON(plan)
	case FormatGraphviz:
		return pb.formatAsGraphviz(plan), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// DefaultModelPricing returns input/output token costs (USD per 1 K tokens).
func DefaultModelPricing() map[string]ModelPrice {
	return map[string]ModelPrice{
		"gemini-2.5-pro":        {PromptTokCost: 0.00125, CompletionTokCost: 0.0100}, // $1.25 / M in, $10 / M out
		"gemini-2.5-flash":      {PromptTokCost: 0.00030, CompletionTokCost: 0.0025}, // $0.30 / M in, $2.50 / M out
		"gemini-2.5-flash-lite": {PromptTokCost: 0.00010, CompletionTokCost: 0.0004}, // $0.10 / M in, $0.40 / M out
		"gemini-2.0-flash":      {PromptTokCost: 0.00015, CompletionTokCost: 0.0006}, // $0.15 / M in, $0.60 / M out
	}
}

// escapeDOT escapes quotes and backslashes for Graphviz labels.
func escapeDOT(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`)
}
