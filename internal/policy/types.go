// Package policy implements the answer policy applied to every draft the
// research agent produces. It is deterministic: the same draft and the same
// evidence always yield the same decision, whatever the model was told.
package policy

// Rule names a check the engine runs against a draft answer.
type Rule string

const (
	RuleResearchDepth Rule = "research_depth"
	RuleStructure     Rule = "structure"
	RuleOfficialLink  Rule = "official_link"
	RuleGrounding     Rule = "grounding"
	RuleRedaction     Rule = "redaction"
	RuleSolicitation  Rule = "solicitation"
)

// Config is the top-level policy configuration.
type Config struct {
	Version string `yaml:"version"`

	// MinToolCalls is the research depth required before an answer is accepted.
	MinToolCalls int `yaml:"min_tool_calls"`

	// Sections must appear in the answer, in this order.
	Sections []Section `yaml:"sections"`

	// OfficialDomains lists municipal domains whose deep links count as
	// official. Subdomains match.
	OfficialDomains []string `yaml:"official_domains"`

	Emergency EmergencyConfig `yaml:"emergency"`

	// Redactions are applied to every answer before release.
	Redactions []Redaction `yaml:"redactions"`

	// Solicitations are patterns for sentences asking the citizen for
	// personal data. Matching sentences are dropped.
	Solicitations []string `yaml:"solicitations"`
}

// Section is one labeled block of the structured answer.
type Section struct {
	Name  string `yaml:"name"`
	Title string `yaml:"title"`
}

// EmergencyConfig drives the emergency short-circuit. All lists are matched
// on whole words, ignoring case and accents.
type EmergencyConfig struct {
	Message string `yaml:"message"`

	// Keywords signal imminent risk on their own ("não consigo respirar").
	Keywords []string `yaml:"keywords"`

	// Topics name an emergency subject ("incêndio", "avc"). A topic counts
	// only together with a cue and without any exclusion.
	Topics []string `yaml:"topics"`

	// Cues mark the situation as happening now ("agora", "estou").
	Cues []string `yaml:"cues"`

	// Exclusions mark a service or prevention context ("certificado",
	// "prevenção") that overrides a topic match.
	Exclusions []string `yaml:"exclusions"`
}

// Redaction replaces every match of Pattern with Replacement.
type Redaction struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`

	// KeepOfficial leaves matches ending in an official domain alone, so
	// public service mailboxes survive e-mail redaction.
	KeepOfficial bool `yaml:"keep_official"`
}

// Request is a draft answer submitted for evaluation.
type Request struct {
	Query     string
	Answer    string
	ToolCalls int      // adapter calls made during the invocation, failed ones included
	Evidence  []string // successful tool observations from the same invocation
}

// Violation is one failed check.
type Violation struct {
	Rule     Rule
	Message  string
	Blocking bool // false when the engine repaired the answer itself
}

// Decision is the result of evaluating a draft.
type Decision struct {
	// Allowed is false when a blocking violation remains.
	Allowed bool

	// Answer is the draft after redaction and link filtering.
	Answer string

	Violations []Violation
	Redactions int
	DryRun     bool
}

// Blocking returns the violations the engine could not repair.
func (d Decision) Blocking() []Violation {
	var out []Violation
	for _, v := range d.Violations {
		if v.Blocking {
			out = append(out, v)
		}
	}
	return out
}
