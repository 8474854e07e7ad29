package rowbatch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// formatAsText formats the plan as an ASCII tree.
func (pb *PlanBuilder) formatAsText(plan *PlanNode) string {
	var sb strings.Builder
	sb.WriteString("Row Batch Execution Plan (estimated costs)\n")
	pb.formatNodeAsText(plan, "", true, &sb)
	return sb.String()
}

// formatNodeAsText recursively formats a node and its children as text.
func (pb *PlanBuilder) formatNodeAsText(node *PlanNode, prefix string, isLast bool, sb *strings.Builder) {
	connector := "├─ "
	if isLast {
		connector = "└─ "
	}
	if prefix == "" {
		connector = ""
	}

	sb.WriteString(fmt.Sprintf("%s%s%s\n", prefix, connector, pb.formatNodeInfo(node)))

	childPrefix := prefix
	if prefix == "" {
		// First level children get "  " as prefix to properly indent them
		childPrefix = "  "
	} else if isLast {
		childPrefix += "   "
	} else {
		childPrefix += "│  "
	}

	for i, child := range node.Children {
		pb.formatNodeAsText(child, childPrefix, i == len(node.Children)-1, sb)
	}
}

// formatNodeInfo formats information for a single node.
func (pb *PlanBuilder) formatNodeInfo(node *PlanNode) string {
	parts := []string{string(node.Type)}

	if node.PromptName != "" {
		parts = append(parts, fmt.Sprintf(`"%s"`, node.PromptName))
	}

	var details []string
	if node.Model != "" {
		details = append(details, fmt.Sprintf("model=%s", node.Model))
	}
	if node.Calls > 0 {
		details = append(details, fmt.Sprintf("calls=%d", node.Calls))
	}
	details = append(details, fmt.Sprintf("cost=%.1f", node.EstCost))

	if node.InputTokens > 0 || node.OutputTokens > 0 {
		if node.OutputTokens > 0 {
			details = append(details, fmt.Sprintf("tokens(in=%d,out=%d)", node.InputTokens, node.OutputTokens))
		} else {
			details = append(details, fmt.Sprintf("tokens(in=%d)", node.InputTokens))
		}
	}

	if len(node.Fields) == 1 {
		details = append(details, fmt.Sprintf("field=%s", node.Fields[0]))
	} else if len(node.Fields) > 1 {
		details = append(details, fmt.Sprintf("fields=%v", node.Fields))
	}

	keys := make([]string, 0, len(node.Metadata))
	for k := range node.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		details = append(details, fmt.Sprintf("%s=%v", k, node.Metadata[k]))
	}

	if node.ActCost != nil {
		details = append(details, fmt.Sprintf("$%.6f", *node.ActCost))
	}

	parts = append(parts, fmt.Sprintf("(%s)", strings.Join(details, ", ")))
	return strings.Join(parts, " ")
}

// formatAsGraphviz formats the plan as Graphviz DOT format.
func (pb *PlanBuilder) formatAsGraphviz(plan *PlanNode) string {
	var sb strings.Builder
	sb.WriteString("digraph RowBatchPlan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n")

	counter := 0
	var walk func(node *PlanNode) string
	walk = func(node *PlanNode) string {
		id := fmt.Sprintf("node%d", counter)
		counter++
		sb.WriteString(fmt.Sprintf("  %s [label=\"%s\"];\n", id, pb.formatGraphvizNodeLabel(node)))
		for _, child := range node.Children {
			childID := walk(child)
			sb.WriteString(fmt.Sprintf("  %s -> %s;\n", id, childID))
		}
		return id
	}
	walk(plan)

	sb.WriteString("}\n")
	return sb.String()
}

// formatGraphvizNodeLabel formats a node label for Graphviz.
func (pb *PlanBuilder) formatGraphvizNodeLabel(node *PlanNode) string {
	parts := []string{string(node.Type)}
	if node.PromptName != "" {
		parts[0] = fmt.Sprintf("%s: %s", node.Type, escapeDOT(node.PromptName))
	}
	if node.Model != "" {
		parts = append(parts, fmt.Sprintf("model: %s", escapeDOT(node.Model)))
	}
	if node.Calls > 0 {
		parts = append(parts, fmt.Sprintf("calls: %d", node.Calls))
	}
	parts = append(parts, fmt.Sprintf("cost=%.1f", node.EstCost))
	return strings.Join(parts, "\\n")
}

// formatAsJSON formats the plan as indented JSON.
func (pb *PlanBuilder) formatAsJSON(plan *PlanNode) (string, error) {
	out, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format plan: %w", err)
	}
	return string(out), nil
}
