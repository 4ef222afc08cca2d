package executor

import (
	"encoding/json"

	"github.com/cortexgw/cortex/internal/parsers"
	"github.com/cortexgw/cortex/internal/pathway"
)

// parseOutput applies the pathway's declared output typing to the final
// aggregated text. Text pathways return the string unchanged; typed
// pathways return the parser's structured value.
func parseOutput(p *pathway.Pathway, text string) any {
	switch p.Output {
	case pathway.OutputNumberedList:
		return parsers.NumberedList(text)
	case pathway.OutputCSV:
		return parsers.CommaList(text)
	case pathway.OutputObjectList:
		return parsers.ObjectList(text, p.OutputFields)
	case pathway.OutputJSON:
		repaired := parsers.JSONDocument(text)
		var doc any
		if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
			return map[string]any{}
		}
		return doc
	default:
		return text
	}
}
