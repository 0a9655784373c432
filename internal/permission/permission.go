// Package permission holds the approval policy handed to the agent and the
// unattended answers given to its approval and user-input requests.
package permission

import (
	"strconv"
	"strings"

	"github.com/wagiedev/codex-relay/internal/errors"
	"github.com/wagiedev/codex-relay/internal/message"
)

// Policy controls when the agent asks for approval before acting.
type Policy string

const (
	// PolicyUntrusted asks before running anything not known to be safe.
	PolicyUntrusted Policy = "untrusted"
	// PolicyOnFailure asks only after a sandboxed command fails.
	PolicyOnFailure Policy = "on-failure"
	// PolicyOnRequest lets the model decide when to ask.
	PolicyOnRequest Policy = "on-request"
	// PolicyNever never asks.
	PolicyNever Policy = "never"
)

// Policies lists every accepted policy in wire form.
var Policies = []Policy{PolicyUntrusted, PolicyOnFailure, PolicyOnRequest, PolicyNever}

// NormalizePolicy maps alternate spellings to the wire value.
//
// Mappings:
//   - "onRequest", "on_request" -> "on-request"
//   - "onFailure", "on_failure" -> "on-failure"
//   - "unlessTrusted", "unless-trusted" -> "untrusted"
func NormalizePolicy(p string) Policy {
	switch strings.TrimSpace(p) {
	case "onRequest", "on_request":
		return PolicyOnRequest
	case "onFailure", "on_failure":
		return PolicyOnFailure
	case "unlessTrusted", "unless-trusted", "unless_trusted":
		return PolicyUntrusted
	default:
		return Policy(strings.TrimSpace(p))
	}
}

// ParsePolicy normalizes and validates an approval policy.
func ParsePolicy(p string) (Policy, error) {
	policy := NormalizePolicy(p)

	for _, allowed := range Policies {
		if policy == allowed {
			return policy, nil
		}
	}

	names := make([]string, len(Policies))
	for i, allowed := range Policies {
		names[i] = string(allowed)
	}

	return "", &errors.ValidationError{Field: "approval policy", Value: p, Allowed: names}
}

// Decision is the answer to an approval request.
type Decision string

const (
	// DecisionAccept approves the action.
	DecisionAccept Decision = "accept"
	// DecisionDecline rejects the action and lets the turn continue.
	DecisionDecline Decision = "decline"
	// DecisionCancel rejects the action and stops the turn.
	DecisionCancel Decision = "cancel"
	// DecisionDenied is the legacy spelling of a decline.
	DecisionDenied Decision = "denied"
)

// Unattended is the decision given to every approval request. The relay has
// no human in the loop who could approve anything.
const Unattended = DecisionDecline

// Option is one choice offered for a user-input question.
type Option struct {
	Label       string
	Description string
}

// Question is one prompt inside a user-input request.
type Question struct {
	ID       string
	Header   string
	Question string
	Options  []Option
}

// ParseQuestions reads the questions of a user-input request.
func ParseQuestions(params map[string]any) []Question {
	raw := message.Slice(params, "questions")
	questions := make([]Question, 0, len(raw))

	for i, q := range raw {
		qm, ok := q.(map[string]any)
		if !ok {
			continue
		}

		question := Question{
			ID:       message.String(qm, "id", "questionId"),
			Header:   message.String(qm, "header"),
			Question: message.String(qm, "question", "text"),
		}

		if question.ID == "" {
			question.ID = strconv.Itoa(i)
		}

		for _, o := range message.Slice(qm, "options") {
			switch ov := o.(type) {
			case map[string]any:
				question.Options = append(question.Options, Option{
					Label:       message.String(ov, "label"),
					Description: message.String(ov, "description"),
				})
			case string:
				question.Options = append(question.Options, Option{Label: ov})
			}
		}

		questions = append(questions, question)
	}

	return questions
}

// ChooseOption picks the unattended answer to one question: the first option
// whose label suggests declining or cancelling, else the first option.
// Returns false when the question offers no options.
func ChooseOption(q Question) (string, bool) {
	for _, o := range q.Options {
		label := strings.ToLower(o.Label)
		if strings.Contains(label, "decline") || strings.Contains(label, "cancel") {
			return o.Label, true
		}
	}

	if len(q.Options) > 0 {
		return q.Options[0].Label, true
	}

	return "", false
}

// Answers builds the unattended response payload for a user-input request.
func Answers(questions []Question) map[string]any {
	answers := make(map[string]any, len(questions))

	for _, q := range questions {
		label, ok := ChooseOption(q)
		if !ok {
			continue
		}

		answers[q.ID] = map[string]any{"answers": []string{label}}
	}

	return map[string]any{"answers": answers}
}
