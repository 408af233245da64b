package domain

import "fmt"

// Turn is one question/answer exchange kept as synthesis context.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// String renders the turn the way it is fed back into prompts.
func (t Turn) String() string {
	return fmt.Sprintf("question: %s, answer: %s", t.Question, t.Answer)
}
