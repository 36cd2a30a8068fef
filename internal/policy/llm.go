package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
	"github.com/pesio-ai/be-ap-lifecycle/internal/llm"
)

// RuleAdvisor maps departments to approvers from a static routing table;
// the default when no LLM endpoint is configured.
type RuleAdvisor struct {
	// Routes maps department ID to approver; empty string key is the
	// fallback approver.
	Routes map[string]string
}

func (a *RuleAdvisor) SuggestApprover(_ context.Context, inv *domain.Invoice) (string, error) {
	if approver, ok := a.Routes[inv.DepartmentID]; ok {
		return approver, nil
	}
	if approver, ok := a.Routes[""]; ok {
		return approver, nil
	}
	return "", fmt.Errorf("no approver route for department %s", inv.DepartmentID)
}

const advisorSystemPrompt = `You route accounts-payable invoices to approvers.
Given invoice details, reply with exactly one approver identifier from the
provided list and nothing else. If unsure, reply with the first identifier.`

// LLMAdvisor asks a chat model to pick an approver from the candidate
// list. Replies outside the list are rejected so a confabulated name can
// never reach the review queue.
type LLMAdvisor struct {
	client     llm.Client
	candidates []string
}

func NewLLMAdvisor(client llm.Client, candidates []string) *LLMAdvisor {
	return &LLMAdvisor{client: client, candidates: candidates}
}

func (a *LLMAdvisor) SuggestApprover(ctx context.Context, inv *domain.Invoice) (string, error) {
	if len(a.candidates) == 0 {
		return "", fmt.Errorf("advisor has no approver candidates")
	}

	prompt := fmt.Sprintf(
		"Invoice %s: vendor %s, amount %s %s, department %s, category %s, over budget: %t.\nApprovers: %s",
		inv.InvoiceID, inv.VendorName, inv.Amount, inv.Currency,
		inv.DepartmentID, inv.Category, inv.OverBudget,
		strings.Join(a.candidates, ", "))

	resp, err := a.client.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: advisorSystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
		MaxTokens:   32,
	})
	if err != nil {
		return "", err
	}

	answer := strings.TrimSpace(resp.Content)
	for _, c := range a.candidates {
		if strings.EqualFold(answer, c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("advisor reply %q not in candidate list", answer)
}
