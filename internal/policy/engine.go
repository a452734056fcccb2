package policy

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// Engine evaluates draft answers against the policy.
type Engine struct {
	config        *Config
	dryRun        bool
	emergency     emergencyDetector
	redactions    []compiledRedaction
	solicitations []*regexp.Regexp
}

type compiledRedaction struct {
	name         string
	re           *regexp.Regexp
	replacement  string
	keepOfficial bool
}

// EngineConfig configures the policy engine.
type EngineConfig struct {
	// PolicyConfig is the loaded policy configuration. Nil means DefaultConfig.
	PolicyConfig *Config

	// DryRun logs blocking violations but allows the answer. Redactions are
	// still applied.
	DryRun bool
}

// NewEngine compiles the policy into an engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.PolicyConfig == nil {
		cfg.PolicyConfig = DefaultConfig()
	}
	if err := validate(cfg.PolicyConfig); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}

	e := &Engine{
		config:    cfg.PolicyConfig,
		dryRun:    cfg.DryRun,
		emergency: newEmergencyDetector(cfg.PolicyConfig.Emergency),
	}
	for _, r := range cfg.PolicyConfig.Redactions {
		e.redactions = append(e.redactions, compiledRedaction{
			name:         r.Name,
			re:           regexp.MustCompile(r.Pattern), // validated above
			replacement:  r.Replacement,
			keepOfficial: r.KeepOfficial,
		})
	}
	for _, p := range cfg.PolicyConfig.Solicitations {
		e.solicitations = append(e.solicitations, regexp.MustCompile(p))
	}
	return e, nil
}

// MinToolCalls returns the research depth the policy requires.
func (e *Engine) MinToolCalls() int {
	return e.config.MinToolCalls
}

// Sections returns the section titles the answer must carry, in order.
func (e *Engine) Sections() []string {
	titles := make([]string, len(e.config.Sections))
	for i, s := range e.config.Sections {
		titles[i] = s.Title
	}
	return titles
}

// Evaluate checks a draft answer and returns the repaired answer together
// with every violation found.
func (e *Engine) Evaluate(req Request) Decision {
	var d Decision

	answer, n := e.Redact(req.Answer)
	if n > 0 {
		d.Redactions += n
		d.Violations = append(d.Violations, Violation{
			Rule:    RuleRedaction,
			Message: fmt.Sprintf("%d trecho(s) com endereço completo ou dado pessoal removido(s)", n),
		})
	}

	answer, n = e.dropSolicitations(answer)
	if n > 0 {
		d.Redactions += n
		d.Violations = append(d.Violations, Violation{
			Rule:    RuleSolicitation,
			Message: fmt.Sprintf("%d frase(s) pedindo dados pessoais ao cidadão removida(s)", n),
		})
	}

	answer, dropped := dropUngroundedLinks(answer, req.Evidence)
	if len(dropped) > 0 {
		d.Violations = append(d.Violations, Violation{
			Rule:    RuleGrounding,
			Message: "links não encontrados nas fontes consultadas foram removidos: " + strings.Join(dropped, ", "),
		})
	}

	if req.ToolCalls < e.config.MinToolCalls {
		d.Violations = append(d.Violations, Violation{
			Rule:     RuleResearchDepth,
			Message:  fmt.Sprintf("pesquisa insuficiente: %d de no mínimo %d chamadas às ferramentas web_search/read_url", req.ToolCalls, e.config.MinToolCalls),
			Blocking: true,
		})
	}

	if missing := e.missingSections(answer); len(missing) > 0 {
		d.Violations = append(d.Violations, Violation{
			Rule:     RuleStructure,
			Message:  "seções ausentes ou fora de ordem: " + strings.Join(missing, ", "),
			Blocking: true,
		})
	}

	if len(e.config.OfficialDomains) > 0 && !e.hasOfficialDeepLink(answer) {
		d.Violations = append(d.Violations, Violation{
			Rule:     RuleOfficialLink,
			Message:  "nenhum link específico (não página inicial) de domínio oficial verificado: " + strings.Join(e.config.OfficialDomains, ", "),
			Blocking: true,
		})
	}

	d.Answer = strings.TrimSpace(answer)
	d.Allowed = len(d.Blocking()) == 0
	d.DryRun = e.dryRun

	logDecision(req, d)

	if e.dryRun && !d.Allowed {
		d.Allowed = true
	}
	return d
}

// Redact removes full addresses and personal identifiers from text and
// returns the number of replacements made.
func (e *Engine) Redact(text string) (string, int) {
	total := 0
	for _, r := range e.redactions {
		if !r.re.MatchString(text) {
			continue
		}
		text = r.re.ReplaceAllStringFunc(text, func(m string) string {
			if r.keepOfficial && e.isOfficialHost(m[strings.LastIndex(m, "@")+1:]) {
				return m
			}
			total++
			return r.replacement
		})
	}
	if total > 0 {
		text = tidy(text)
	}
	return text, total
}

func (e *Engine) dropSolicitations(text string) (string, int) {
	total := 0
	for _, re := range e.solicitations {
		matches := len(re.FindAllStringIndex(text, -1))
		if matches == 0 {
			continue
		}
		total += matches
		text = re.ReplaceAllLiteralString(text, "")
	}
	if total > 0 {
		text = tidy(text)
	}
	return text, total
}

// missingSections returns the titles not found in order.
func (e *Engine) missingSections(answer string) []string {
	folded := fold(answer)
	var missing []string
	pos := 0
	for _, s := range e.config.Sections {
		idx := strings.Index(folded[pos:], fold(s.Title))
		if idx < 0 {
			missing = append(missing, s.Title)
			continue
		}
		pos += idx + len(fold(s.Title))
	}
	return missing
}

func (e *Engine) hasOfficialDeepLink(answer string) bool {
	for _, raw := range extractURLs(answer) {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if strings.Trim(u.Path, "/") == "" && u.RawQuery == "" {
			continue
		}
		if e.isOfficialHost(u.Hostname()) {
			return true
		}
	}
	return false
}

// isOfficialHost reports whether host is an official domain or a subdomain
// of one.
func (e *Engine) isOfficialHost(host string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	for _, d := range e.config.OfficialDomains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func logDecision(req Request, d Decision) {
	attrs := []any{
		"tool_calls", req.ToolCalls,
		"allowed", d.Allowed,
		"redactions", d.Redactions,
	}
	if d.DryRun {
		attrs = append(attrs, "dry_run", true)
	}
	for _, v := range d.Violations {
		attrs = append(attrs, string(v.Rule), v.Message)
	}

	switch {
	case !d.Allowed:
		slog.Warn("policy decision: BLOCKED", attrs...)
	case d.Redactions > 0:
		slog.Info("policy decision: REDACTED", attrs...)
	default:
		slog.Debug("policy decision: ALLOW", attrs...)
	}
}

var (
	spaceRun   = regexp.MustCompile(`[ \t]{2,}`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// tidy collapses whitespace left behind by removals.
func tidy(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		l = spaceRun.ReplaceAllString(l, " ")
		lines[i] = strings.TrimRight(l, " \t")
	}
	return blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
}
