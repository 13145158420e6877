package metrickeys

const (
	Prefix = "durable."

	// Workflows
	WorkflowInstanceCreated   = Prefix + "workflow.created"
	WorkflowInstanceStarted   = Prefix + "workflow.started"
	WorkflowInstanceFinished  = Prefix + "workflow.finished"
	WorkflowInstanceRecovered = Prefix + "workflow.recovered"
	WorkflowInstanceAbandoned = Prefix + "workflow.abandoned"
	WorkflowLeaseLost         = Prefix + "workflow.lease_lost"
	WorkflowsRunning          = Prefix + "workflow.running"

	// Steps
	StepExecuted = Prefix + "step.executed"
	StepReplayed = Prefix + "step.replayed"
	StepRetried  = Prefix + "step.retried"
	StepDuration = Prefix + "step.duration"

	// Messaging
	MessageSent     = Prefix + "message.sent"
	MessageReceived = Prefix + "message.received"
	WaitTimedOut    = Prefix + "wait.timed_out"

	SchedulerTriggered = Prefix + "scheduler.triggered"
)

// Tag names
const (
	// Backend being used
	Backend = "backend"

	WorkflowName = "workflow"
	StepName     = "step"
	StepKind     = "kind"
	Status       = "status"
)
