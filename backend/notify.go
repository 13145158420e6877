package backend

// Keys used with Subscribe.

const PendingInstancesKey = "pending"

func InstanceKey(instanceID string) string {
	return "wf:" + instanceID
}

func EventKey(instanceID, key string) string {
	return "evt:" + instanceID + ":" + key
}

func MessageKey(instanceID, topic string) string {
	return "msg:" + instanceID + ":" + topic
}
