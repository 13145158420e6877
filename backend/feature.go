package backend

type Feature int

const (
	_ Feature = iota

	// FeatureTransactions is supported by backends that can run transactional steps.
	FeatureTransactions

	// FeatureDistributedNotify is supported by backends that deliver wake-ups across processes.
	FeatureDistributedNotify
)
