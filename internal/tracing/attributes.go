package tracing

const (
	WorkflowInstanceID = "workflow.instance_id"
	WorkflowName       = "workflow.name"
	WorkflowAttempt    = "workflow.attempt"

	StepNumber   = "step.number"
	StepName     = "step.name"
	StepKind     = "step.kind"
	StepReplayed = "step.replayed"

	MessageTopic = "message.topic"
	EventKey     = "event.key"

	ErrorRetryable = "error.retryable"
)
