package policy

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// DefaultEmergencyMessage is returned verbatim for emergency queries.
const DefaultEmergencyMessage = "EMERGÊNCIA DETECTADA: Oriente ligar 190 (Polícia), 192 (SAMU) ou 193 (Bombeiros)"

// DefaultMinToolCalls is the research depth required by default.
const DefaultMinToolCalls = 15

// LoadFile loads a policy configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Load(data)
}

// Load parses policy configuration from YAML data.
func Load(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse policy YAML: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}
	return &cfg, nil
}

// validate checks the configuration and fills in the fixed defaults.
func validate(cfg *Config) error {
	if cfg.Version == "" {
		cfg.Version = "1"
	}
	if cfg.MinToolCalls < 0 {
		return fmt.Errorf("min_tool_calls must not be negative, got %d", cfg.MinToolCalls)
	}
	if cfg.Emergency.Message == "" {
		cfg.Emergency.Message = DefaultEmergencyMessage
	}

	seen := make(map[string]bool)
	for i, s := range cfg.Sections {
		if s.Title == "" {
			return fmt.Errorf("section %d: title is required", i)
		}
		if s.Name == "" {
			cfg.Sections[i].Name = s.Title
		}
		if seen[cfg.Sections[i].Name] {
			return fmt.Errorf("section %d: duplicate name %q", i, cfg.Sections[i].Name)
		}
		seen[cfg.Sections[i].Name] = true
	}

	for i, d := range cfg.OfficialDomains {
		if d == "" {
			return fmt.Errorf("official_domains %d: empty domain", i)
		}
	}

	for name, list := range map[string][]string{
		"keyword":   cfg.Emergency.Keywords,
		"topic":     cfg.Emergency.Topics,
		"cue":       cfg.Emergency.Cues,
		"exclusion": cfg.Emergency.Exclusions,
	} {
		for i, k := range list {
			if fold(k) == "" {
				return fmt.Errorf("emergency %s %d: empty entry", name, i)
			}
		}
	}
	if len(cfg.Emergency.Topics) > 0 && len(cfg.Emergency.Cues) == 0 {
		return fmt.Errorf("emergency topics need at least one cue")
	}

	seen = make(map[string]bool)
	for i, r := range cfg.Redactions {
		if r.Name == "" {
			return fmt.Errorf("redaction %d: name is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("redaction %d: duplicate name %q", i, r.Name)
		}
		seen[r.Name] = true
		if r.Pattern == "" {
			return fmt.Errorf("redaction %q: pattern is required", r.Name)
		}
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("redaction %q: %w", r.Name, err)
		}
	}

	for i, p := range cfg.Solicitations {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("solicitation %d: %w", i, err)
		}
	}
	return nil
}

// Default patterns. Exported so tests and tooling can check answers with the
// same expressions the engine redacts with.
const (
	StreetAddressPattern = `\b(?i:rua|r\.|avenida|av\.|travessa|tv\.|estrada|estr\.|pra[çc]a|largo|rodovia|alameda|ladeira|beco|boulevard)\s+(?:d[aeo]s?\s+)?(?:\p{Lu}[\p{L}'’.-]*|\d{1,2}[º°o]?\s+de\s+\p{Lu}\p{L}*)(?:\s+(?:(?:d[aeo]s?|e)\s+)?(?:\p{Lu}[\p{L}'’.-]*|\d{1,2}[º°o]?\s+de\s+\p{Lu}\p{L}*)){0,6},?\s*(?:n[º°o]\.?\s*)?(?:\d{1,3}(?:\.\d{3})+|\d{1,5})\b(?:\s*[-–,]\s*)?`
	CEPPattern           = `(?i)(?:,\s*)?(?:\bCEP:?\s*)?\b\d{5}-\d{3}\b`
	CPFPattern           = `\b\d{3}\.\d{3}\.\d{3}-\d{2}\b`
	RGPattern            = `\b\d{1,2}\.\d{3}\.\d{3}-[\dXx]\b`
	EmailPattern         = `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`
)

// DefaultConfig returns the policy used when no policy file is configured.
func DefaultConfig() *Config {
	return &Config{
		Version:      "1",
		MinToolCalls: DefaultMinToolCalls,
		Sections: []Section{
			{Name: "main", Title: "INFORMAÇÕES PRINCIPAIS"},
			{Name: "contacts", Title: "CONTATOS E LOCALIZAÇÕES"},
			{Name: "links", Title: "LINKS OFICIAIS"},
			{Name: "programs", Title: "PROGRAMAS MUNICIPAIS RELEVANTES"},
		},
		OfficialDomains: []string{"1746.rio", "prefeitura.rio", "carioca.rio", "rio.rj.gov.br"},
		Emergency: EmergencyConfig{
			Message: DefaultEmergencyMessage,
			Keywords: []string{
				"socorro urgente", "risco de vida", "risco de morte",
				"não consigo respirar", "não está respirando", "parou de respirar",
				"sangrando muito", "pegando fogo", "me matar", "quero morrer", "tirar minha vida",
				"estou sendo agredido", "estou sendo agredida", "estou sendo ameaçado",
				"estou sendo ameaçada", "ameaça de morte", "assalto em andamento",
			},
			Topics: []string{
				"infarto", "ataque cardíaco", "parada cardíaca", "dor no peito forte",
				"desmaiou", "desmaiada", "desmaiado", "inconsciente", "convulsão", "convulsionando",
				"avc", "derrame", "overdose", "envenenado", "envenenada", "envenenamento",
				"hemorragia", "suicídio", "tiroteio", "baleado", "baleada",
				"esfaqueado", "esfaqueada", "incêndio", "fogo", "afogando", "afogamento",
				"desabamento", "desabando", "soterrado", "soterrada", "sequestro", "sequestrado",
				"sequestrada",
			},
			Cues: []string{
				"agora", "agorinha", "neste momento", "nesse momento", "urgente", "socorro",
				"estou", "estamos", "está tendo", "está acontecendo", "está pegando", "tá tendo",
				"tendo um", "tendo uma", "teve um", "teve uma", "acabou de", "acabei de",
				"aconteceu agora", "ajuda rápido",
			},
			Exclusions: []string{
				"prevenção", "prevenir", "preventivo", "certificado", "alvará", "licença",
				"vistoria", "laudo", "depois de", "após", "programa", "campanha", "curso",
				"aula", "aulas", "treinamento", "palestra", "fisioterapia", "reabilitação",
				"tratamento", "acompanhamento", "estatística", "estatísticas", "indenização",
				"auxílio", "benefício", "histórico",
			},
		},
		Redactions: []Redaction{
			{Name: "cpf", Pattern: CPFPattern, Replacement: "[CPF removido]"},
			{Name: "rg", Pattern: RGPattern, Replacement: "[RG removido]"},
			{Name: "email", Pattern: EmailPattern, Replacement: "[e-mail removido]", KeepOfficial: true},
			{Name: "street_address", Pattern: StreetAddressPattern, Replacement: ""},
			{Name: "cep", Pattern: CEPPattern, Replacement: ""},
		},
		Solicitations: []string{
			`(?i)[^.!?\n]*\b(?:informe|informar|envie|enviar|forne[çc]a|fornecer|digite|passe|mande|compartilhe|diga|confirme)\s+(?:-?me\s+)?(?:o\s+|a\s+|os\s+|as\s+)?(?:seu|sua|seus|suas)\s+(?:n[úu]mero\s+d[eo]\s+)?(?:nome|cpf|rg|identidade|telefone|celular|whatsapp|e-?mail|endere[çc]o)[^.!?\n]*[.!?]?`,
			`(?i)[^.!?\n]*\bqual\s+(?:[ée]\s+)?(?:o\s+|a\s+)?(?:seu|sua)\s+(?:nome|cpf|rg|identidade|telefone|celular|whatsapp|e-?mail|endere[çc]o)[^.!?\n]*[.!?]?`,
		},
	}
}
