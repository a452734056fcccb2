package policy

import (
	"regexp"
	"strings"
	"testing"
)

const goodAnswer = `1. INFORMAÇÕES PRINCIPAIS
Para regularizar a situação migratória, procure o Centro de Referência e Atendimento para Imigrantes (CRAI-Rio).

2. CONTATOS E LOCALIZAÇÕES
CRAI-Rio, no bairro Centro. Telefone: 1746. Atendimento de segunda a sexta, das 9h às 17h.

3. LINKS OFICIAIS
- https://prefeitura.rio/cidadania/crai-rio
- https://www.1746.rio/hc/pt-br/articles/10822996862875

4. PROGRAMAS MUNICIPAIS RELEVANTES
Programa Rio Acolhe.`

var goodEvidence = []string{
	"Web Search query: CRAI Rio imigrantes, response: [1] Title: CRAI-Rio\n[1] URL Source: https://prefeitura.rio/cidadania/crai-rio",
	"Read URL: https://www.1746.rio/hc/pt-br/articles/10822996862875, content: Atendimento a imigrantes",
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestLoadAndEvaluate(t *testing.T) {
	yamlConfig := `
version: "1"
min_tool_calls: 2
sections:
  - name: main
    title: "INFORMAÇÕES PRINCIPAIS"
  - name: links
    title: "LINKS OFICIAIS"
official_domains: [prefeitura.rio]
emergency:
  keywords: [incêndio]
`
	cfg, err := Load([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Emergency.Message != DefaultEmergencyMessage {
		t.Errorf("emergency message not defaulted: %q", cfg.Emergency.Message)
	}

	engine, err := NewEngine(EngineConfig{PolicyConfig: cfg})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	tests := []struct {
		name      string
		answer    string
		calls     int
		wantAllow bool
	}{
		{"complete", goodAnswer, 2, true},
		{"shallow", goodAnswer, 1, false},
		{"no sections", "Procure o CRAI-Rio. https://prefeitura.rio/cidadania/crai-rio", 5, false},
		{"homepage only", "INFORMAÇÕES PRINCIPAIS\nx\nLINKS OFICIAIS\nhttps://prefeitura.rio/", 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := engine.Evaluate(Request{Answer: tt.answer, ToolCalls: tt.calls, Evidence: goodEvidence})
			if d.Allowed != tt.wantAllow {
				t.Errorf("Allowed = %v, want %v (violations: %+v)", d.Allowed, tt.wantAllow, d.Violations)
			}
		})
	}

	if !engine.IsEmergency("Tem um INCENDIO aqui") {
		t.Error("configured keyword should match regardless of case and accents")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"negative depth", "min_tool_calls: -1"},
		{"section without title", "sections:\n  - name: main"},
		{"duplicate section", "sections:\n  - {name: a, title: X}\n  - {name: a, title: Y}"},
		{"bad redaction regex", "redactions:\n  - {name: x, pattern: '(['}"},
		{"redaction without name", "redactions:\n  - {pattern: 'a'}"},
		{"bad solicitation regex", "solicitations: ['(?P<']"},
		{"not yaml", "sections: [unterminated"},
		{"topics without cues", "emergency:\n  topics: [incêndio]"},
		{"empty cue", "emergency:\n  topics: [avc]\n  cues: ['  ']"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	e := newTestEngine(t)
	if e.MinToolCalls() != 15 {
		t.Errorf("MinToolCalls = %d, want 15", e.MinToolCalls())
	}
	want := []string{"INFORMAÇÕES PRINCIPAIS", "CONTATOS E LOCALIZAÇÕES", "LINKS OFICIAIS", "PROGRAMAS MUNICIPAIS RELEVANTES"}
	if strings.Join(e.Sections(), "|") != strings.Join(want, "|") {
		t.Errorf("Sections = %v", e.Sections())
	}
}

func TestEvaluate_Accepts(t *testing.T) {
	e := newTestEngine(t)

	d := e.Evaluate(Request{Answer: goodAnswer, ToolCalls: 15, Evidence: goodEvidence})
	if !d.Allowed {
		t.Fatalf("expected allowed, violations: %+v", d.Violations)
	}
	if d.Answer != goodAnswer {
		t.Errorf("clean answer should pass through unchanged:\n%s", d.Answer)
	}
	if len(d.Violations) != 0 {
		t.Errorf("unexpected violations: %+v", d.Violations)
	}
}

func TestEvaluate_ResearchDepth(t *testing.T) {
	e := newTestEngine(t)

	d := e.Evaluate(Request{Answer: goodAnswer, ToolCalls: 14, Evidence: goodEvidence})
	if d.Allowed {
		t.Fatal("answer with 14 tool calls must be blocked")
	}
	blocking := d.Blocking()
	if len(blocking) != 1 || blocking[0].Rule != RuleResearchDepth {
		t.Errorf("blocking = %+v, want research_depth only", blocking)
	}
	if !strings.Contains(blocking[0].Message, "14 de no mínimo 15") {
		t.Errorf("message = %q", blocking[0].Message)
	}
}

func TestEvaluate_Sections(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name    string
		answer  string
		missing string
	}{
		{
			name:    "missing programs",
			answer:  strings.Split(goodAnswer, "4. PROGRAMAS")[0],
			missing: "PROGRAMAS MUNICIPAIS RELEVANTES",
		},
		{
			name:    "out of order",
			answer:  strings.Replace(goodAnswer, "1. INFORMAÇÕES PRINCIPAIS", "1. RESUMO", 1) + "\nINFORMAÇÕES PRINCIPAIS",
			missing: "CONTATOS E LOCALIZAÇÕES",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(Request{Answer: tt.answer, ToolCalls: 20, Evidence: goodEvidence})
			if d.Allowed {
				t.Fatal("expected structure violation")
			}
			var found bool
			for _, v := range d.Blocking() {
				if v.Rule == RuleStructure && strings.Contains(v.Message, tt.missing) {
					found = true
				}
			}
			if !found {
				t.Errorf("violations = %+v, want structure naming %q", d.Violations, tt.missing)
			}
		})
	}
}

func TestEvaluate_Sections_AccentInsensitive(t *testing.T) {
	e := newTestEngine(t)
	answer := strings.NewReplacer(
		"INFORMAÇÕES PRINCIPAIS", "Informacoes principais",
		"CONTATOS E LOCALIZAÇÕES", "Contatos e localizações",
	).Replace(goodAnswer)

	d := e.Evaluate(Request{Answer: answer, ToolCalls: 15, Evidence: goodEvidence})
	if !d.Allowed {
		t.Errorf("violations: %+v", d.Violations)
	}
}

func TestEvaluate_OfficialDeepLink(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name      string
		link      string
		wantAllow bool
	}{
		{"municipal deep link", "https://prefeitura.rio/cidadania/crai-rio", true},
		{"subdomain deep link", "https://educacao.prefeitura.rio/matricula", true},
		{"state portal deep link", "https://www.rio.rj.gov.br/web/smas", true},
		{"homepage", "https://prefeitura.rio/", false},
		{"lookalike domain", "https://prefeitura.rio.example.com/crai", false},
		{"federal site", "https://www.gov.br/inss/pt-br", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answer := "INFORMAÇÕES PRINCIPAIS\nx\nCONTATOS E LOCALIZAÇÕES\ny\nLINKS OFICIAIS\n- " + tt.link + "\nPROGRAMAS MUNICIPAIS RELEVANTES\nz"
			evidence := []string{"URL Source: " + tt.link}
			d := e.Evaluate(Request{Answer: answer, ToolCalls: 15, Evidence: evidence})
			if d.Allowed != tt.wantAllow {
				t.Errorf("Allowed = %v, want %v (violations: %+v)", d.Allowed, tt.wantAllow, d.Violations)
			}
		})
	}
}

func TestEvaluate_UngroundedLinksRemoved(t *testing.T) {
	e := newTestEngine(t)
	answer := goodAnswer + "\n- https://carioca.rio/inventado/servico\nVeja também [o portal](https://prefeitura.rio/pagina-inventada)."

	d := e.Evaluate(Request{Answer: answer, ToolCalls: 15, Evidence: goodEvidence})
	if !d.Allowed {
		t.Fatalf("grounded links remain, should be allowed: %+v", d.Violations)
	}
	if strings.Contains(d.Answer, "inventado") || strings.Contains(d.Answer, "pagina-inventada") {
		t.Errorf("ungrounded links survived:\n%s", d.Answer)
	}
	if !strings.Contains(d.Answer, "Veja também o portal.") {
		t.Errorf("markdown label should be kept:\n%s", d.Answer)
	}
	if !strings.Contains(d.Answer, "https://prefeitura.rio/cidadania/crai-rio") {
		t.Errorf("grounded link was removed:\n%s", d.Answer)
	}

	var grounding bool
	for _, v := range d.Violations {
		if v.Rule == RuleGrounding && !v.Blocking {
			grounding = true
		}
	}
	if !grounding {
		t.Errorf("expected non-blocking grounding violation, got %+v", d.Violations)
	}
}

func TestDropUngroundedLinks_ExactMatch(t *testing.T) {
	evidence := []string{"Read URL: https://www.1746.rio/hc/pt-br/articles/4406893452699-Atendimento-a-imigrantes, content: CRAI-Rio"}

	tests := []struct {
		name string
		link string
		keep bool
	}{
		{"observed", "https://www.1746.rio/hc/pt-br/articles/4406893452699-Atendimento-a-imigrantes", true},
		{"without www and with slash", "https://1746.rio/hc/pt-br/articles/4406893452699-Atendimento-a-imigrantes/", true},
		{"with fragment", "https://www.1746.rio/hc/pt-br/articles/4406893452699-Atendimento-a-imigrantes#horarios", true},
		{"truncated path", "https://www.1746.rio/hc/pt-br/articles/44", false},
		{"path prefix", "https://www.1746.rio/hc", false},
		{"host only", "https://www.1746.rio", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dropped := dropUngroundedLinks("Veja "+tt.link+" hoje.", evidence)
			if kept := strings.Contains(got, tt.link); kept != tt.keep {
				t.Errorf("kept = %v, want %v (answer %q, dropped %v)", kept, tt.keep, got, dropped)
			}
			if (len(dropped) == 0) != tt.keep {
				t.Errorf("dropped = %v", dropped)
			}
		})
	}
}

func TestEvaluate_TruncatedLinkIsNotOfficial(t *testing.T) {
	e := newTestEngine(t)
	answer := strings.NewReplacer(
		"https://prefeitura.rio/cidadania/crai-rio", "https://prefeitura.rio/cidadania",
		"https://www.1746.rio/hc/pt-br/articles/10822996862875", "https://www.1746.rio/hc/pt-br/articles/108",
	).Replace(goodAnswer)

	d := e.Evaluate(Request{Answer: answer, ToolCalls: 15, Evidence: goodEvidence})
	if d.Allowed {
		t.Fatalf("truncated links must not satisfy the official link rule:\n%s", d.Answer)
	}
	if strings.Contains(d.Answer, "articles/108") {
		t.Errorf("truncated link survived:\n%s", d.Answer)
	}
}

func TestEvaluate_NoGroundedOfficialLink(t *testing.T) {
	e := newTestEngine(t)

	// Links are right but nothing was observed, so they are all dropped.
	d := e.Evaluate(Request{Answer: goodAnswer, ToolCalls: 15, Evidence: nil})
	if d.Allowed {
		t.Fatal("answer without any observed link must be blocked")
	}
	if strings.Contains(d.Answer, "https://") {
		t.Errorf("unobserved links survived:\n%s", d.Answer)
	}
}

func TestRedact_StreetAddresses(t *testing.T) {
	e := newTestEngine(t)
	address := regexp.MustCompile(StreetAddressPattern)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"street with neighborhood", "Endereço: Rua São José, 35 - Centro", "Endereço: Centro"},
		{"avenue with numero", "Fica na Av. Presidente Vargas, nº 1997, Cidade Nova.", "Fica na Cidade Nova."},
		{"estrada", "Posto na Estrada do Galeão 1000 - Ilha do Governador", "Posto na Ilha do Governador"},
		{"cep", "Rua Afonso Cavalcanti 455, CEP 20211-110", ""},
		{"cep after neighborhood", "Atendimento em Madureira, CEP 21351-050.", "Atendimento em Madureira."},
		{"neighborhood only", "Unidade no bairro Madureira", "Unidade no bairro Madureira"},
		{"thousands separator", "Avenida Presidente Vargas, 1.997 - Centro", "Centro"},
		{"date street name", "Posto na Rua 1º de Março, 50 - Centro", "Posto na Centro"},
		{"neighborhood named praca", "O bairro Praça Seca tem 3 unidades do CRAS.", "O bairro Praça Seca tem 3 unidades do CRAS."},
		{"street in prose", "A Avenida Brasil recebe 15 linhas de ônibus.", "A Avenida Brasil recebe 15 linhas de ônibus."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := e.Redact(tt.in)
			if got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if address.MatchString(got) {
				t.Errorf("address pattern still matches %q", got)
			}
		})
	}
}

func TestRedact_PersonalIdentifiers(t *testing.T) {
	e := newTestEngine(t)
	in := "Cidadã: CPF 123.456.789-09, RG 12.345.678-9, e-mail maria.silva@gmail.com. Ligue 1746."

	got, n := e.Redact(in)
	if n != 3 {
		t.Errorf("redactions = %d, want 3", n)
	}
	for _, p := range []string{CPFPattern, RGPattern, EmailPattern} {
		if regexp.MustCompile(p).MatchString(got) {
			t.Errorf("pattern %s still matches %q", p, got)
		}
	}
	if !strings.Contains(got, "Ligue 1746.") {
		t.Errorf("public phone should survive: %q", got)
	}
}

func TestRedact_OfficialMailboxesKept(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		in    string
		want  string
		count int
	}{
		{"Contato: crai.rio@prefeitura.rio", "Contato: crai.rio@prefeitura.rio", 0},
		{"Escreva para ouvidoria@smas.rio.rj.gov.br.", "Escreva para ouvidoria@smas.rio.rj.gov.br.", 0},
		{"Contato: maria.silva@gmail.com", "Contato: [e-mail removido]", 1},
		{"Falso: atendimento@prefeitura.rio.com.br", "Falso: [e-mail removido]", 1},
		{"crai.rio@prefeitura.rio ou joao@hotmail.com", "crai.rio@prefeitura.rio ou [e-mail removido]", 1},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, n := e.Redact(tt.in)
			if got != tt.want || n != tt.count {
				t.Errorf("Redact(%q) = %q, %d; want %q, %d", tt.in, got, n, tt.want, tt.count)
			}
		})
	}
}

func TestEvaluate_Solicitation(t *testing.T) {
	e := newTestEngine(t)
	answer := strings.Replace(goodAnswer,
		"Programa Rio Acolhe.",
		"Programa Rio Acolhe. Para agilizar, me informe seu nome completo e telefone. Qual é o seu CPF? O CRAS fica no Centro.",
		1)

	d := e.Evaluate(Request{Answer: answer, ToolCalls: 15, Evidence: goodEvidence})
	if !d.Allowed {
		t.Fatalf("solicitations are repaired, not blocking: %+v", d.Violations)
	}
	for _, s := range []string{"nome completo", "seu CPF"} {
		if strings.Contains(d.Answer, s) {
			t.Errorf("solicitation %q survived:\n%s", s, d.Answer)
		}
	}
	if !strings.Contains(d.Answer, "O CRAS fica no Centro.") {
		t.Errorf("unrelated sentence removed:\n%s", d.Answer)
	}
}

func TestEvaluate_DryRun(t *testing.T) {
	e, err := NewEngine(EngineConfig{DryRun: true})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	d := e.Evaluate(Request{Answer: "Resposta curta. CPF 123.456.789-09", ToolCalls: 0})
	if !d.Allowed || !d.DryRun {
		t.Errorf("dry run should allow, got %+v", d)
	}
	if len(d.Blocking()) == 0 {
		t.Error("violations should still be reported in dry run")
	}
	if strings.Contains(d.Answer, "123.456.789-09") {
		t.Error("redaction must apply in dry run")
	}
}

func TestIsEmergency(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		query string
		want  bool
	}{
		{"Meu pai está tendo um infarto, o que faço?", true},
		{"Tem um incêndio no meu prédio agora", true},
		{"Estou sendo agredida pelo meu marido", true},
		{"QUERO MORRER", true},
		{"minha filha nao esta respirando", true},
		{"Meu vizinho teve uma CONVULSAO", true},
		{"Preciso de ajuda para regularizar minha situação no Brasil", false},
		{"Como tirar a segunda via do IPTU?", false},
		{"Onde fica o pronto-socorro de Madureira?", false},
		{"Horário do CRAS em Campo Grande", false},
		{"Tem alguém se afogando agora na praia do Leme", true},
		{"Acabou de ter um tiroteio aqui, tem gente baleada", true},
		{"Como tirar o certificado de prevenção de incêndio para meu comércio?", false},
		{"Onde fazer fisioterapia depois de um AVC no Rio?", false},
		{"Existe programa municipal de prevenção ao suicídio?", false},
		{"Aulas de natação para prevenir afogamento nas escolas", false},
		{"Como denunciar risco de incêndio em terreno baldio?", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := e.IsEmergency(tt.query); got != tt.want {
				t.Errorf("IsEmergency(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}

	if e.EmergencyMessage() != "EMERGÊNCIA DETECTADA: Oriente ligar 190 (Polícia), 192 (SAMU) ou 193 (Bombeiros)" {
		t.Errorf("EmergencyMessage = %q", e.EmergencyMessage())
	}
}

func TestDecision_Explain(t *testing.T) {
	e := newTestEngine(t)

	allowed := e.Evaluate(Request{Answer: goodAnswer, ToolCalls: 15, Evidence: goodEvidence})
	if got := allowed.Explain(); got != "" {
		t.Errorf("allowed decision should explain nothing, got %q", got)
	}

	d := e.Evaluate(Request{Answer: "Sem seções. Informe seu CPF.", ToolCalls: 2})
	got := d.Explain()
	for _, want := range []string{
		"rejeitada",
		"pesquisa insuficiente: 2 de no mínimo 15",
		"continue pesquisando",
		"quatro seções",
		"corrigidos automaticamente",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("explanation missing %q:\n%s", want, got)
		}
	}
}
