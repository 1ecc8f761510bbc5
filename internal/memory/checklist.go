package memory

// ChecklistStatus is the state of one completion criterion.
type ChecklistStatus string

const (
	ChecklistPassed  ChecklistStatus = "passed"
	ChecklistFailed  ChecklistStatus = "failed"
	ChecklistPending ChecklistStatus = "pending"
)

// ChecklistItem is one evaluated completion criterion.
type ChecklistItem struct {
	ID     string          `json:"id"`
	Status ChecklistStatus `json:"status"`
	Detail string          `json:"detail,omitempty"`
}

// Checklist is the ordered evaluation of a task's end state.
type Checklist struct {
	Items     []ChecklistItem `json:"items"`
	AllPassed bool            `json:"all_passed"`
}

// ChecklistInput carries the signals the checklist evaluates.
type ChecklistInput struct {
	TaskSummary    string
	RequiredFiles  []string
	ModifiedFiles  []string
	PlanSteps      []string
	PlanIndex      int
	Verification   ChecklistStatus // passed, failed, pending
	FailedChecks   []string
	ExecutionError bool
}

// BuildChecklist evaluates the completion criteria in a fixed order. Any
// failing or pending item forces AllPassed to false.
func BuildChecklist(input ChecklistInput) Checklist {
	items := []ChecklistItem{
		evaluateVerification(input),
		evaluateRequiredFiles(input),
		evaluatePlan(input),
	}

	allPassed := true
	for _, item := range items {
		if item.Status != ChecklistPassed {
			allPassed = false
		}
	}
	return Checklist{Items: items, AllPassed: allPassed}
}

// evaluateVerification passes iff verification reports passed and no
// execution error occurred. A non-empty failed-check list forces failed even
// when the status otherwise reads passed; the two signals come from
// different reporters and the stricter one wins.
func evaluateVerification(input ChecklistInput) ChecklistItem {
	item := ChecklistItem{ID: "verification"}

	switch {
	case len(input.FailedChecks) > 0:
		item.Status = ChecklistFailed
		item.Detail = input.FailedChecks[0]
	case input.ExecutionError:
		item.Status = ChecklistFailed
		item.Detail = "execution error during verification"
	case input.Verification == ChecklistPassed:
		item.Status = ChecklistPassed
	case input.Verification == ChecklistFailed:
		item.Status = ChecklistFailed
	default:
		item.Status = ChecklistPending
	}
	return item
}

// evaluateRequiredFiles passes iff every required path appears in the
// modified set.
func evaluateRequiredFiles(input ChecklistInput) ChecklistItem {
	item := ChecklistItem{ID: "required_files"}
	if len(input.RequiredFiles) == 0 {
		item.Status = ChecklistPassed
		return item
	}

	modified := make(map[string]bool, len(input.ModifiedFiles))
	for _, path := range input.ModifiedFiles {
		modified[path] = true
	}

	for _, required := range input.RequiredFiles {
		if !modified[required] {
			item.Status = ChecklistFailed
			item.Detail = required
			return item
		}
	}
	item.Status = ChecklistPassed
	return item
}

// evaluatePlan passes when the plan cursor has moved past the last step.
func evaluatePlan(input ChecklistInput) ChecklistItem {
	item := ChecklistItem{ID: "plan_complete"}
	switch {
	case len(input.PlanSteps) == 0:
		item.Status = ChecklistPassed
	case input.PlanIndex >= len(input.PlanSteps):
		item.Status = ChecklistPassed
	default:
		item.Status = ChecklistPending
		item.Detail = input.PlanSteps[max(input.PlanIndex, 0)]
	}
	return item
}
