package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

func planPrompt(query, catalog string) string {
	return fmt.Sprintf(`You are a data lineage investigator. A user is asking:

%q

Your job is to plan which tools you'll use to answer this question.

Available tools:
%s
Create a concise investigation plan (2-3 steps):

PLAN:
`, query, catalog)
}

func decisionPrompt(query, plan, catalog string, results []ToolResult) string {
	var sb strings.Builder
	sb.WriteString("Given the investigation plan:\n")
	sb.WriteString(plan)
	sb.WriteString("\n\nAnd the original query: ")
	fmt.Fprintf(&sb, "%q\n\n", query)

	if len(results) > 0 {
		sb.WriteString("Results gathered so far:\n")
		for _, r := range results {
			payload, _ := json.Marshal(r.Result)
			fmt.Fprintf(&sb, "- %s: %s\n", r.Tool, payload)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Available tools:\n")
	sb.WriteString(catalog)
	sb.WriteString(`
Which tool should we call next to make progress?

Respond with ONLY a JSON object naming the tool and its input, like:
{"tool": "search_semantic", "input": {"query": "revenue tables", "limit": 3}}
`)
	return sb.String()
}

// synthesisPrompt includes every recorded tool result verbatim: the final
// answer must be derivable from the evidence, not invented.
func synthesisPrompt(query string, results []ToolResult) string {
	var sb strings.Builder
	sb.WriteString("You are a data lineage assistant.\n\n")
	sb.WriteString("You MUST:\n")
	sb.WriteString("1. Answer the question in a short sentence.\n")
	sb.WriteString("2. Then explicitly list ALL relevant table names found in the tool results.\n")
	sb.WriteString("3. When describing a path, use the format:\n")
	sb.WriteString("   orders -> order_clean -> revenue_daily -> revenue_dashboard\n\n")
	fmt.Fprintf(&sb, "Question:\n%s\n\n", query)

	sb.WriteString("Tool results (JSON):\n")
	for _, r := range results {
		entry, _ := json.Marshal(r)
		sb.Write(entry)
		sb.WriteString("\n")
	}

	sb.WriteString(`
Answer using this template:

Lineage:
<one sentence answer>

Tables:
<comma-separated list of table names>

Path:
<optional arrow-separated path if applicable>

ANSWER:
`)
	return sb.String()
}

// decodeDecision parses the model's tool choice. Models habitually wrap JSON
// in markdown fences or prose, so the first balanced object is extracted
// before the strict decode.
func decodeDecision(raw string) (tool string, input json.RawMessage, err error) {
	objText, ok := extractJSONObject(raw)
	if !ok {
		return "", nil, fmt.Errorf("no JSON object in reasoner output")
	}
	var decision struct {
		Tool  string          `json:"tool"`
		Input json.RawMessage `json:"input"`
	}
	dec := json.NewDecoder(strings.NewReader(objText))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&decision); err != nil {
		return "", nil, fmt.Errorf("decode tool decision: %w", err)
	}
	if strings.TrimSpace(decision.Tool) == "" {
		return "", nil, fmt.Errorf("tool decision missing tool name")
	}
	return decision.Tool, decision.Input, nil
}

func extractJSONObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}
