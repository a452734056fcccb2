package policy

import (
	"fmt"
	"strings"
)

// Explain renders the decision as Portuguese feedback for the research
// agent: what was rejected and what to do about it. It returns "" when
// nothing blocks the answer.
func (d Decision) Explain() string {
	blocking := d.Blocking()
	if len(blocking) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("A resposta anterior foi rejeitada pela validação automática:\n")
	for _, v := range blocking {
		fmt.Fprintf(&b, "- %s\n", v.Message)
		if hint := remediation(v.Rule); hint != "" {
			fmt.Fprintf(&b, "  Como corrigir: %s\n", hint)
		}
	}

	var repaired []string
	for _, v := range d.Violations {
		if !v.Blocking {
			repaired = append(repaired, v.Message)
		}
	}
	if len(repaired) > 0 {
		b.WriteString("Também foram corrigidos automaticamente:\n")
		for _, m := range repaired {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	return b.String()
}

func remediation(rule Rule) string {
	switch rule {
	case RuleResearchDepth:
		return "continue pesquisando com web_search e read_url antes de responder de novo."
	case RuleStructure:
		return "reescreva a resposta completa com as quatro seções, nesta ordem e com estes títulos."
	case RuleOfficialLink:
		return "leia com read_url uma página específica de um portal oficial e cite a URL exata."
	default:
		return ""
	}
}
