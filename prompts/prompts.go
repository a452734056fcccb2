// Package prompts embeds the research instruction and the service
// description exposed as an MCP resource.
package prompts

import (
	_ "embed"
	"strconv"
	"strings"
)

//go:embed rio_research.txt
var RioResearch string

//go:embed service_info.txt
var ServiceInfo string

// Research renders RioResearch with the configured minimum number of tool
// calls. The instruction holds no curly braces since ADK treats them as
// state placeholders.
func Research(minToolCalls int) string {
	return strings.NewReplacer("[[MIN_TOOL_CALLS]]", strconv.Itoa(minToolCalls)).Replace(RioResearch)
}
