package research

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	adkmodel "google.golang.org/adk/model"
)

// ErrStepLimit is returned once a query uses more model steps than allowed.
var ErrStepLimit = errors.New("reasoning step limit exceeded")

// boundedModel counts model steps across every turn of one query and fails
// the step that goes over the limit.
type boundedModel struct {
	adkmodel.LLM
	max   int
	steps atomic.Int64
}

func newBoundedModel(llm adkmodel.LLM, max int) *boundedModel {
	return &boundedModel{LLM: llm, max: max}
}

func (m *boundedModel) GenerateContent(ctx context.Context, req *adkmodel.LLMRequest, stream bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	step := m.steps.Add(1)
	if step > int64(m.max) {
		return func(yield func(*adkmodel.LLMResponse, error) bool) {
			yield(nil, fmt.Errorf("%w: step %d of %d", ErrStepLimit, step, m.max))
		}
	}
	return m.LLM.GenerateContent(ctx, req, stream)
}

// Steps returns how many model steps were attempted.
func (m *boundedModel) Steps() int {
	return int(m.steps.Load())
}
