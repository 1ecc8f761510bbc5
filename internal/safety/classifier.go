package safety

import (
	"fmt"
	"strings"
)

// Classifier evaluates tool-call batches against an ordered rule table. It
// holds no mutable state; one instance is built by the composition root and
// shared freely.
type Classifier struct {
	rules RuleSet
}

// NewClassifier builds a classifier over the given rules.
func NewClassifier(rules RuleSet) *Classifier {
	if rules.BulkChangeThreshold <= 0 {
		rules.BulkChangeThreshold = DefaultRules().BulkChangeThreshold
	}
	return &Classifier{rules: rules}
}

// Rules exposes the active ordered rule table, e.g. for CLI display.
func (c *Classifier) Rules() RuleSet {
	return c.rules
}

// Assess classifies one batch. The batch's level is the worst level across
// all matched findings; an empty batch is low risk with no findings.
func (c *Classifier) Assess(calls []ToolCall, ctx Context) RiskAssessment {
	assessment := RiskAssessment{Level: RiskLow}

	mutatedPaths := make(map[string]bool)

	for _, call := range calls {
		parsed, err := DecodeArgs(call)
		if err != nil {
			// Malformed arguments for a known tool shape cannot be reasoned
			// about; hold the batch for a human instead of guessing.
			assessment.add(ClassExplicit, Finding{
				CallID: call.ID,
				Reason: ReasonMalformedArguments,
				Detail: err.Error(),
			}, RiskMedium)
			continue
		}

		switch args := parsed.(type) {
		case ShellArgs:
			c.assessCommand(&assessment, call, args.Command, ctx)
		case FileWriteArgs:
			c.assessFileMutation(&assessment, call, args.Path)
			mutatedPaths[args.Path] = true
		case FileEditArgs:
			c.assessFileMutation(&assessment, call, args.Path)
			mutatedPaths[args.Path] = true
		case FileDeleteArgs:
			c.assessFileMutation(&assessment, call, args.Path)
			mutatedPaths[args.Path] = true
		case UnknownArgs:
			// Unknown tools carry no classifiable surface; they pass through
			// at the batch's current level.
		}
	}

	if len(mutatedPaths) > c.rules.BulkChangeThreshold {
		assessment.add(ClassExplicit, Finding{
			Reason: ReasonBulkFileChange,
			Detail: fmt.Sprintf("%d distinct paths in one batch", len(mutatedPaths)),
		}, RiskMedium)
	}

	return assessment
}

func (c *Classifier) assessCommand(assessment *RiskAssessment, call ToolCall, command string, ctx Context) {
	normalized := " " + normalizeCommand(command)

	for _, rule := range c.rules.Commands {
		if !strings.Contains(normalized, " "+rule.Pattern) {
			continue
		}
		finding := Finding{CallID: call.ID, Reason: rule.Reason, Detail: rule.Pattern}
		assessment.add(rule.Class, finding, rule.Level)

		// Network retrieval holds both explain-to-human surfaces: it needs
		// explicit approval like an install, and it is also a guardrail.
		if rule.Class == ClassMandatory && rule.Reason == ReasonNetworkFetch {
			assessment.add(ClassExplicit, finding, rule.Level)
		}
	}

	if target, escaped := escapedWorkdirTarget(command, ctx.WorkingDirectory); escaped {
		assessment.add(ClassMandatory, Finding{
			CallID: call.ID,
			Reason: ReasonOutsideWorkdir,
			Detail: target,
		}, RiskHigh)
	}
}

func (c *Classifier) assessFileMutation(assessment *RiskAssessment, call ToolCall, path string) {
	lower := strings.ToLower(path)
	for _, rule := range c.rules.Paths {
		if strings.Contains(lower, rule.Fragment) {
			assessment.add(ClassExplicit, Finding{
				CallID: call.ID,
				Reason: rule.Reason,
				Detail: path,
			}, rule.Level)
			return
		}
	}
}

func (a *RiskAssessment) add(class FindingClass, finding Finding, level RiskLevel) {
	switch class {
	case ClassDangerous:
		a.Dangerous = append(a.Dangerous, finding)
	case ClassMandatory:
		a.MandatoryApproval = append(a.MandatoryApproval, finding)
	default:
		a.RequiresExplicitApproval = append(a.RequiresExplicitApproval, finding)
	}
	a.Level = worse(a.Level, level)
}
