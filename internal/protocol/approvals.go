package protocol

import (
	"context"

	"github.com/wagiedev/codex-relay/internal/permission"
)

// Inbound request methods answered without a human in the loop.
const (
	MethodCommandApproval    = "item/commandExecution/requestApproval"
	MethodFileChangeApproval = "item/fileChange/requestApproval"
	MethodRequestUserInput   = "item/tool/requestUserInput"

	// Legacy approval methods from older app-server releases.
	MethodExecCommandApproval = "execCommandApproval"
	MethodApplyPatchApproval  = "applyPatchApproval"
)

func registerApprovalHandlers(c *Controller) {
	decline := fixedDecision(permission.Unattended)
	denied := fixedDecision(permission.DecisionDenied)

	c.RegisterHandler(MethodCommandApproval, decline)
	c.RegisterHandler(MethodFileChangeApproval, decline)
	c.RegisterHandler(MethodExecCommandApproval, denied)
	c.RegisterHandler(MethodApplyPatchApproval, denied)
	c.RegisterHandler(MethodRequestUserInput, answerUserInput)
}

func fixedDecision(decision permission.Decision) RequestHandler {
	return func(_ context.Context, _ *Request) (any, error) {
		return map[string]any{"decision": decision}, nil
	}
}

func answerUserInput(_ context.Context, req *Request) (any, error) {
	return permission.Answers(permission.ParseQuestions(req.Params)), nil
}
