package policy

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
	"github.com/pesio-ai/be-ap-lifecycle/internal/llm"
)

type fakeChat struct {
	reply string
	err   error
}

func (f *fakeChat) Chat(context.Context, llm.ChatRequest) (llm.ChatResponse, error) {
	return llm.ChatResponse{Content: f.reply}, f.err
}

func TestLLMAdvisorAcceptsCandidateReply(t *testing.T) {
	advisor := NewLLMAdvisor(&fakeChat{reply: " IT-Lead \n"}, []string{"it-lead", "ap-manager"})

	inv := &domain.Invoice{InvoiceID: "INV-1", DepartmentID: "IT", Amount: decimal.NewFromInt(500)}
	approver, err := advisor.SuggestApprover(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "it-lead", approver, "matching is case-insensitive and trimmed")
}

func TestLLMAdvisorRejectsUnknownReply(t *testing.T) {
	advisor := NewLLMAdvisor(&fakeChat{reply: "the CEO, obviously"}, []string{"it-lead"})

	inv := &domain.Invoice{InvoiceID: "INV-1", DepartmentID: "IT"}
	_, err := advisor.SuggestApprover(context.Background(), inv)
	assert.Error(t, err, "confabulated approvers never reach the review queue")
}

func TestLLMAdvisorNoCandidates(t *testing.T) {
	advisor := NewLLMAdvisor(&fakeChat{reply: "anyone"}, nil)
	_, err := advisor.SuggestApprover(context.Background(), &domain.Invoice{})
	assert.Error(t, err)
}
