package log

const (
	NamespaceKey = "durable"

	InstanceIDKey   = NamespaceKey + ".instance.id"
	WorkflowNameKey = NamespaceKey + ".workflow.name"
	StatusKey       = NamespaceKey + ".instance.status"
	ExecutorIDKey   = NamespaceKey + ".executor.id"
	AttemptsKey     = NamespaceKey + ".instance.attempts"

	StepNumberKey = NamespaceKey + ".step.number"
	StepNameKey   = NamespaceKey + ".step.name"
	ReplayedKey   = NamespaceKey + ".step.replayed"

	TopicKey         = NamespaceKey + ".message.topic"
	DestinationIDKey = NamespaceKey + ".message.destination"
	EventKeyKey      = NamespaceKey + ".event.key"

	AttemptKey  = NamespaceKey + ".attempt"
	DurationKey = NamespaceKey + ".duration_ms"

	// DeadlineKey is the point in time a wait gives up
	DeadlineKey = NamespaceKey + ".wait.deadline"

	ScheduleKey = NamespaceKey + ".schedule"
)
