package synth

import (
	"sort"
	"strings"

	"github.com/ashureev/shopilots-chat/internal/domain"
)

// SystemPrompt instructs the model to answer only from the supplied context.
const SystemPrompt = `You are a knowledgeable customer service representative for Shopilots, an AI-powered e-commerce sales platform.

Your task is to provide accurate, helpful, and complete answers based ONLY on the context provided below.

CRITICAL INSTRUCTIONS:
1. Read the entire context carefully before answering
2. For product questions, mention ALL relevant AI Sales Agents:
   - Website Agent
   - Social Media Agent
   - Messenger Agent
   - Call Agent
   - GPT Store
3. Include key features and benefits when discussing products
4. Be specific and include details like conversion rates, AOV improvements when mentioned in context
5. Format lists clearly using bullet points
6. If information is not in the context, politely state you don't have that specific information
7. Be conversational but professional
8. Provide complete answers, not fragments`

const promptPassages = 3

var boilerplatePrefixes = []string{
	"Refined Answer:",
	"Answer:",
	"Response:",
	"Based on",
	"According to",
}

func init() {
	sort.SliceStable(boilerplatePrefixes, func(i, j int) bool {
		return len(boilerplatePrefixes[i]) > len(boilerplatePrefixes[j])
	})
}

// BuildPrompt assembles the prompt for a question over the first passages.
func BuildPrompt(question string, passages []domain.Passage, history []domain.Turn, temperature float64) Prompt {
	n := min(len(passages), promptPassages)
	parts := make([]string, 0, n)
	for _, p := range passages[:n] {
		parts = append(parts, p.Content)
	}

	var b strings.Builder
	b.WriteString("Context about Shopilots:\n")
	b.WriteString(strings.Join(parts, "\n\n"))
	b.WriteString("\n\n")
	if len(history) > 0 {
		b.WriteString("Previous conversation:\n")
		for _, t := range history {
			b.WriteString(t.String())
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Customer Question: ")
	b.WriteString(question)
	b.WriteString("\n\nProvide a clear, complete answer based on the context above:")

	return Prompt{System: SystemPrompt, User: b.String(), Temperature: temperature}
}

// StripBoilerplate removes leading filler such as "Answer:" or "Based on",
// always taking the longest prefix that matches, until none does.
func StripBoilerplate(answer string) string {
	answer = strings.TrimSpace(answer)
	for {
		stripped := false
		for _, p := range boilerplatePrefixes {
			if strings.HasPrefix(answer, p) {
				answer = strings.TrimSpace(answer[len(p):])
				stripped = true
				break
			}
		}
		if !stripped {
			return answer
		}
	}
}
