package core

type WorkflowStatus string

const (
	WorkflowStatusPending WorkflowStatus = "PENDING"
	WorkflowStatusRunning WorkflowStatus = "RUNNING"
	WorkflowStatusSuccess WorkflowStatus = "SUCCESS"
	WorkflowStatusError   WorkflowStatus = "ERROR"
)

func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusSuccess || s == WorkflowStatusError
}

func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusPending, WorkflowStatusRunning, WorkflowStatusSuccess, WorkflowStatusError:
		return true
	}

	return false
}

// CanTransition reports whether an instance in status from may move to status to. RUNNING to RUNNING
// is the re-claim of an abandoned execution, PENDING to ERROR is used when recovery gives up on an
// instance that never started.
func CanTransition(from, to WorkflowStatus) bool {
	switch from {
	case WorkflowStatusPending:
		return to == WorkflowStatusRunning || to == WorkflowStatusError
	case WorkflowStatusRunning:
		return to == WorkflowStatusRunning || to.IsTerminal()
	}

	return false
}
