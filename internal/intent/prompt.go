package intent

import (
	"encoding/json"
	"strings"
)

const schemaHelp = `Fields:
- "intent": one of "Informational", "Navigational", "Transactional", "Commercial Investigation", "Mixed", "Unknown"
- "category": a short free-text topic category
- "funnel_stage": one of "Awareness", "Consideration", "Decision", "Post-Purchase", "Unknown"
- "main_keywords": an array of the key terms in the query`

func batchPrompt(queries []string) string {
	list, _ := json.Marshal(queries)

	var sb strings.Builder
	sb.WriteString("You are an SEO analyst. Classify the search intent of each search query below.\n")
	sb.WriteString("Return ONLY a JSON array with exactly one object per query, no prose.\n")
	sb.WriteString(`Each object must have the fields "query" (copied verbatim), "intent", "category", "funnel_stage" and "main_keywords".`)
	sb.WriteString("\n")
	sb.WriteString(schemaHelp)
	sb.WriteString("\n\nQueries:\n")
	sb.Write(list)
	return sb.String()
}

func itemPrompt(query string) string {
	quoted, _ := json.Marshal(query)

	var sb strings.Builder
	sb.WriteString("You are an SEO analyst. Classify the search intent of the search query below.\n")
	sb.WriteString(`Return ONLY a single JSON object (not an array) with the fields "intent", "category", "funnel_stage" and "main_keywords".`)
	sb.WriteString("\n")
	sb.WriteString(schemaHelp)
	sb.WriteString("\n\nQuery: ")
	sb.Write(quoted)
	return sb.String()
}
