// Package safety classifies proposed tool-call batches and resolves whether
// they may execute automatically, need a human in the loop, or are denied.
package safety

// ToolCall is one proposed tool invocation from the agent loop. Arguments is
// the raw bag as proposed; DecodeArgs turns it into a typed shape at the
// boundary before any rule runs.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// RiskLevel orders batch risk. Worst level wins across a batch.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func (l RiskLevel) rank() int {
	switch l {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// worse returns the higher of two risk levels.
func worse(a, b RiskLevel) RiskLevel {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Finding reasons. These strings appear in decision notes and in persisted
// approval history, so they are part of the stable surface.
const (
	ReasonDestructiveCommand = "destructive_command"
	ReasonPackageInstall     = "package_install_command"
	ReasonNetworkFetch       = "network_fetch_command"
	ReasonOutsideWorkdir     = "outside_workdir_command"
	ReasonSensitiveFile      = "sensitive_file_change"
	ReasonBulkFileChange     = "bulk_file_change"
	ReasonMalformedArguments = "malformed_arguments"
)

// Finding is one matched rule against one call.
type Finding struct {
	CallID string `json:"call_id,omitempty"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// RiskAssessment is the classifier output for one batch.
type RiskAssessment struct {
	Level RiskLevel `json:"risk_level"`

	// Dangerous findings deny the batch outright.
	Dangerous []Finding `json:"dangerous,omitempty"`

	// RequiresExplicitApproval findings hold the batch for a human unless a
	// convenience auto-approval path applies.
	RequiresExplicitApproval []Finding `json:"requires_explicit_approval,omitempty"`

	// MandatoryApproval findings hold the batch for a human and cannot be
	// bypassed by any setting or approval phrase.
	MandatoryApproval []Finding `json:"mandatory_approval,omitempty"`
}

// TrustLevel classifies the origin of the text driving a batch.
type TrustLevel string

const (
	TrustTrusted   TrustLevel = "trusted"
	TrustUntrusted TrustLevel = "untrusted"
)

// Context carries optional classification inputs.
type Context struct {
	WorkingDirectory string
	InputTrustLevel  TrustLevel
}

// DecisionStatus is the outcome of approval resolution.
type DecisionStatus string

const (
	StatusApproved DecisionStatus = "approved"
	StatusFeedback DecisionStatus = "feedback"
	StatusDenied   DecisionStatus = "denied"
)

// Markers embedded in decision notes. GuardrailMarker tags holds forced by
// mandatory-approval findings; UntrustedMarker tags holds forced by
// untrusted input.
const (
	GuardrailMarker = "[GUARDRAIL]"
	UntrustedMarker = "[UNTRUSTED_INPUT]"
)

// ApprovalDecision is the resolver output for one batch.
type ApprovalDecision struct {
	Status DecisionStatus `json:"status"`
	Note   string         `json:"note,omitempty"`

	// AlwaysApproveTools echoes the effective auto-approve flag. Untrusted
	// input forces it to false regardless of the caller's settings.
	AlwaysApproveTools bool `json:"always_approve_tools"`

	// OneTimeApprove is set when an explicit approval phrase in the user
	// text approved this batch only.
	OneTimeApprove bool `json:"one_time_approve"`
}

// Settings carries caller intent into approval resolution.
type Settings struct {
	AlwaysApproveTools bool
	UserText           string
	InputTrustLevel    TrustLevel
}
