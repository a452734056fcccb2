package research

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"
	"testing"

	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"

	"riosearch/internal/jina"
	"riosearch/internal/policy"
)

const officialURL = "https://www.1746.rio/hc/pt-br/articles/4406893452699-Atendimento-a-imigrantes"

type fakeSearcher struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSearcher) Search(ctx context.Context, query string) (*jina.SearchResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &jina.SearchResult{
		Query: query,
		Body:  "[1] Title: Atendimento a imigrantes\n[1] URL Source: " + officialURL + "\n[1] Description: CRAI-Rio",
	}, nil
}

type fakeReader struct {
	calls atomic.Int32
	err   error
}

func (f *fakeReader) Read(ctx context.Context, pageURL string) (*jina.PageContent, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &jina.PageContent{
		URL:  pageURL,
		Body: "O CRAI-Rio fica na Rua São José, 35 - Centro. Telefone 1746. Segunda a sexta, 9h às 17h.",
	}, nil
}

type adapters struct {
	searcher *fakeSearcher
	reader   *fakeReader
}

func (a *adapters) calls() int {
	return int(a.searcher.calls.Load() + a.reader.calls.Load())
}

// scriptedLLM is an adkmodel.LLM whose every step is decided by next.
type scriptedLLM struct {
	next  func(req *adkmodel.LLMRequest) (*genai.Content, error)
	steps atomic.Int32
}

func (m *scriptedLLM) Name() string { return "scripted" }

func (m *scriptedLLM) GenerateContent(ctx context.Context, req *adkmodel.LLMRequest, stream bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		m.steps.Add(1)
		content, err := m.next(req)
		if err != nil {
			yield(nil, err)
			return
		}
		complete := true
		for _, p := range content.Parts {
			if p.FunctionCall != nil {
				complete = false
			}
		}
		yield(&adkmodel.LLMResponse{Content: content, TurnComplete: complete}, nil)
	}
}

func toolCall(n int) *genai.Content {
	call := &genai.FunctionCall{ID: fmt.Sprintf("call_%d", n), Name: "web_search",
		Args: map[string]any{"query": fmt.Sprintf("regularização migratória Rio de Janeiro %d", n)}}
	if n%2 == 1 {
		call.Name = "read_url"
		call.Args = map[string]any{"url": officialURL}
	}
	return &genai.Content{Role: "model", Parts: []*genai.Part{{FunctionCall: call}}}
}

func textReply(s string) *genai.Content {
	return &genai.Content{Role: "model", Parts: []*genai.Part{{Text: s}}}
}

// draftAnswer carries the four sections, one grounded official link, one
// invented link, a street address, a CEP and a request for personal data.
const draftAnswer = `1. INFORMAÇÕES PRINCIPAIS:
Imigrantes podem buscar orientação para regularização no CRAI-Rio. Informe seu CPF para agendar.

2. CONTATOS E LOCALIZAÇÕES:
O atendimento é feito no CRAI-Rio, Rua São José, 35 - Centro, CEP 20010-020.
Telefone 1746, de segunda a sexta, das 9h às 17h.

3. LINKS OFICIAIS:
- ` + officialURL + `
- https://www.prefeitura.rio/pagina-inventada/imigrantes

4. PROGRAMAS MUNICIPAIS RELEVANTES:
Programa Rio Acolhe e unidades de CRAS.`

// seen reports whether any message in the request contains s.
func seen(req *adkmodel.LLMRequest, s string) bool {
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			if strings.Contains(p.Text, s) {
				return true
			}
		}
	}
	return false
}

// diligent researches until the adapters have served minCalls calls, then
// answers.
func diligent(a *adapters, minCalls int) func(*adkmodel.LLMRequest) (*genai.Content, error) {
	return func(req *adkmodel.LLMRequest) (*genai.Content, error) {
		if n := a.calls(); n < minCalls {
			return toolCall(n), nil
		}
		return textReply(draftAnswer), nil
	}
}

var errProvider = errors.New("HTTP 503 from provider")

func newAdapters(err error) *adapters {
	return &adapters{searcher: &fakeSearcher{err: err}, reader: &fakeReader{err: err}}
}

func newTestHandler(t *testing.T, llm *scriptedLLM, a *adapters, mutate func(*HandlerConfig)) *Handler {
	t.Helper()
	cfg := HandlerConfig{
		Model:            llm,
		Searcher:         a.searcher,
		Reader:           a.reader,
		MaxContinuations: 2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h, err := NewHandler(cfg)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h
}

func policyRequestWithoutResearch() policy.Request {
	return policy.Request{Query: "IPTU", Answer: "Não sei."}
}
