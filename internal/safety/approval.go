package safety

import (
	"fmt"
	"strings"
)

// approvalPhrases are the exact tokens accepted as a one-time approval when
// found in the user's text. Matching is case-insensitive on whole tokens.
var approvalPhrases = map[string]bool{
	"approve":  true,
	"approved": true,
	"yes":      true,
	"ok":       true,
	"proceed":  true,
	"승인":       true,
	"진행":       true,
}

// Resolver turns a risk assessment plus caller intent into a final decision.
type Resolver struct {
	classifier *Classifier
}

// NewResolver builds a resolver over the given classifier.
func NewResolver(classifier *Classifier) *Resolver {
	return &Resolver{classifier: classifier}
}

// Resolve gates one batch. The priority chain is the core contract:
// guardrails are evaluated before any convenience auto-approval path, so a
// mandatory hold or a dangerous denial can never be talked past by
// alwaysApproveTools or an approval phrase.
func (r *Resolver) Resolve(calls []ToolCall, settings Settings, ctx Context) ApprovalDecision {
	assessment := r.classifier.Assess(calls, ctx)
	return ResolveWithAssessment(assessment, settings)
}

// ResolveWithAssessment applies the decision chain to a precomputed
// assessment. Exposed separately so the pipeline can assess once and both
// gate and trace from the same result.
func ResolveWithAssessment(assessment RiskAssessment, settings Settings) ApprovalDecision {
	// 1. Mandatory-approval findings hold unconditionally.
	if len(assessment.MandatoryApproval) > 0 {
		return ApprovalDecision{
			Status:             StatusFeedback,
			Note:               guardrailNote(assessment.MandatoryApproval),
			AlwaysApproveTools: false,
			OneTimeApprove:     false,
		}
	}

	// 2. Dangerous findings deny outright.
	if len(assessment.Dangerous) > 0 {
		return ApprovalDecision{
			Status: StatusDenied,
			Note:   fmt.Sprintf("denied: %s", joinReasons(assessment.Dangerous)),
		}
	}

	// 3. Untrusted input forces a hold and strips every convenience flag,
	// whatever the caller asked for.
	if settings.InputTrustLevel == TrustUntrusted {
		return ApprovalDecision{
			Status:             StatusFeedback,
			Note:               fmt.Sprintf("%s approval required: batch driven by untrusted content", UntrustedMarker),
			AlwaysApproveTools: false,
			OneTimeApprove:     false,
		}
	}

	// 4. Standing auto-approval.
	if settings.AlwaysApproveTools {
		return ApprovalDecision{
			Status:             StatusApproved,
			AlwaysApproveTools: true,
		}
	}

	// 5. Explicit one-time approval phrase in the user text.
	if containsApprovalPhrase(settings.UserText) {
		return ApprovalDecision{
			Status:         StatusApproved,
			OneTimeApprove: true,
		}
	}

	// 6. Findings that need a human.
	if len(assessment.RequiresExplicitApproval) > 0 {
		return ApprovalDecision{
			Status: StatusFeedback,
			Note:   fmt.Sprintf("approval required: %s", joinReasons(assessment.RequiresExplicitApproval)),
		}
	}

	// 7. Nothing to hold on.
	return ApprovalDecision{Status: StatusApproved}
}

func guardrailNote(findings []Finding) string {
	return fmt.Sprintf("%s approval required: %s", GuardrailMarker, joinReasons(findings))
}

func joinReasons(findings []Finding) string {
	seen := make(map[string]bool, len(findings))
	reasons := make([]string, 0, len(findings))
	for _, finding := range findings {
		if seen[finding.Reason] {
			continue
		}
		seen[finding.Reason] = true
		reasons = append(reasons, finding.Reason)
	}
	return strings.Join(reasons, ", ")
}

func containsApprovalPhrase(text string) bool {
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,!?")
		if approvalPhrases[token] {
			return true
		}
	}
	return false
}
