package safety

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FindingClass routes a matched rule into one of the assessment buckets.
type FindingClass string

const (
	ClassDangerous FindingClass = "dangerous"
	ClassExplicit  FindingClass = "explicit_approval"
	ClassMandatory FindingClass = "mandatory_approval"
)

// CommandRule is one substring guardrail against a normalized shell command.
// Rules are ordered configuration data, not inline conditionals: new
// guardrails are additive and every active rule is enumerable in tests.
type CommandRule struct {
	Pattern string       `yaml:"pattern"`
	Reason  string       `yaml:"reason"`
	Level   RiskLevel    `yaml:"level"`
	Class   FindingClass `yaml:"class"`
}

// PathRule flags file mutations whose target path contains a sensitive
// fragment.
type PathRule struct {
	Fragment string    `yaml:"fragment"`
	Reason   string    `yaml:"reason"`
	Level    RiskLevel `yaml:"level"`
}

// RuleSet is the full ordered rule configuration for one classifier.
type RuleSet struct {
	Commands []CommandRule `yaml:"commands"`
	Paths    []PathRule    `yaml:"paths"`

	// BulkChangeThreshold holds the batch when more than this many distinct
	// paths are mutated.
	BulkChangeThreshold int `yaml:"bulk_change_threshold"`
}

// DefaultRules returns the built-in guardrail table. Matching is done against
// a lowercased, whitespace-collapsed command string.
func DefaultRules() RuleSet {
	return RuleSet{
		Commands: []CommandRule{
			// Broad recursive deletes and other destructive shapes.
			{Pattern: "rm -rf", Reason: ReasonDestructiveCommand, Level: RiskHigh, Class: ClassDangerous},
			{Pattern: "rm -fr", Reason: ReasonDestructiveCommand, Level: RiskHigh, Class: ClassDangerous},
			{Pattern: "rm -r ", Reason: ReasonDestructiveCommand, Level: RiskHigh, Class: ClassDangerous},
			{Pattern: "sudo rm", Reason: ReasonDestructiveCommand, Level: RiskHigh, Class: ClassDangerous},
			{Pattern: "mkfs", Reason: ReasonDestructiveCommand, Level: RiskHigh, Class: ClassDangerous},
			{Pattern: "dd if=", Reason: ReasonDestructiveCommand, Level: RiskHigh, Class: ClassDangerous},
			{Pattern: "git clean -fd", Reason: ReasonDestructiveCommand, Level: RiskHigh, Class: ClassDangerous},
			{Pattern: "git reset --hard", Reason: ReasonDestructiveCommand, Level: RiskHigh, Class: ClassDangerous},
			{Pattern: ":(){", Reason: ReasonDestructiveCommand, Level: RiskHigh, Class: ClassDangerous},

			// Package managers pull and run third-party code.
			{Pattern: "npm install", Reason: ReasonPackageInstall, Level: RiskMedium, Class: ClassExplicit},
			{Pattern: "npm i ", Reason: ReasonPackageInstall, Level: RiskMedium, Class: ClassExplicit},
			{Pattern: "pnpm add", Reason: ReasonPackageInstall, Level: RiskMedium, Class: ClassExplicit},
			{Pattern: "pnpm install", Reason: ReasonPackageInstall, Level: RiskMedium, Class: ClassExplicit},
			{Pattern: "yarn add", Reason: ReasonPackageInstall, Level: RiskMedium, Class: ClassExplicit},
			{Pattern: "pip install", Reason: ReasonPackageInstall, Level: RiskMedium, Class: ClassExplicit},
			{Pattern: "pip3 install", Reason: ReasonPackageInstall, Level: RiskMedium, Class: ClassExplicit},
			{Pattern: "go get", Reason: ReasonPackageInstall, Level: RiskMedium, Class: ClassExplicit},
			{Pattern: "go install", Reason: ReasonPackageInstall, Level: RiskMedium, Class: ClassExplicit},
			{Pattern: "cargo install", Reason: ReasonPackageInstall, Level: RiskMedium, Class: ClassExplicit},
			{Pattern: "apt-get install", Reason: ReasonPackageInstall, Level: RiskMedium, Class: ClassExplicit},
			{Pattern: "apt install", Reason: ReasonPackageInstall, Level: RiskMedium, Class: ClassExplicit},
			{Pattern: "brew install", Reason: ReasonPackageInstall, Level: RiskMedium, Class: ClassExplicit},
			{Pattern: "gem install", Reason: ReasonPackageInstall, Level: RiskMedium, Class: ClassExplicit},

			// Direct network retrieval is a guardrail: no setting bypasses it.
			{Pattern: "curl ", Reason: ReasonNetworkFetch, Level: RiskMedium, Class: ClassMandatory},
			{Pattern: "wget ", Reason: ReasonNetworkFetch, Level: RiskMedium, Class: ClassMandatory},
			{Pattern: "fetch http", Reason: ReasonNetworkFetch, Level: RiskMedium, Class: ClassMandatory},
			{Pattern: "nc ", Reason: ReasonNetworkFetch, Level: RiskMedium, Class: ClassMandatory},
			{Pattern: "invoke-webrequest", Reason: ReasonNetworkFetch, Level: RiskMedium, Class: ClassMandatory},
		},
		Paths: []PathRule{
			{Fragment: ".env", Reason: ReasonSensitiveFile, Level: RiskHigh},
			{Fragment: "credentials", Reason: ReasonSensitiveFile, Level: RiskHigh},
			{Fragment: "secrets", Reason: ReasonSensitiveFile, Level: RiskHigh},
			{Fragment: "id_rsa", Reason: ReasonSensitiveFile, Level: RiskHigh},
			{Fragment: ".pem", Reason: ReasonSensitiveFile, Level: RiskHigh},
			{Fragment: ".npmrc", Reason: ReasonSensitiveFile, Level: RiskHigh},
			{Fragment: ".netrc", Reason: ReasonSensitiveFile, Level: RiskHigh},
		},
		BulkChangeThreshold: 5,
	}
}

// LoadRules reads a YAML rule file and overlays it on the defaults: file
// rules are prepended so operator-supplied guardrails win ties, and a
// positive threshold in the file replaces the default.
func LoadRules(path string) (RuleSet, error) {
	base := DefaultRules()

	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read rules file: %w", err)
	}

	var overlay RuleSet
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return base, fmt.Errorf("parse rules file: %w", err)
	}

	for _, rule := range overlay.Commands {
		if err := validateCommandRule(rule); err != nil {
			return base, err
		}
	}

	merged := RuleSet{
		Commands:            append(overlay.Commands, base.Commands...),
		Paths:               append(overlay.Paths, base.Paths...),
		BulkChangeThreshold: base.BulkChangeThreshold,
	}
	if overlay.BulkChangeThreshold > 0 {
		merged.BulkChangeThreshold = overlay.BulkChangeThreshold
	}
	return merged, nil
}

func validateCommandRule(rule CommandRule) error {
	if strings.TrimSpace(rule.Pattern) == "" {
		return fmt.Errorf("rule pattern cannot be empty")
	}
	switch rule.Class {
	case ClassDangerous, ClassExplicit, ClassMandatory:
	default:
		return fmt.Errorf("rule %q has unknown class %q", rule.Pattern, rule.Class)
	}
	switch rule.Level {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		return fmt.Errorf("rule %q has unknown level %q", rule.Pattern, rule.Level)
	}
	return nil
}

// normalizeCommand lowercases and collapses runs of whitespace so rule
// patterns match regardless of formatting.
func normalizeCommand(command string) string {
	return strings.Join(strings.Fields(strings.ToLower(command)), " ") + " "
}
