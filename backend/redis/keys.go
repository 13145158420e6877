package redis

import (
	"fmt"

	"github.com/go-durable/durable/core"
)

type keys struct {
	prefix string
}

func (k keys) instance(instanceID string) string {
	return fmt.Sprintf("%vinstance:%v", k.prefix, instanceID)
}

// instancesByCreation returns the key for the ZSET that contains all instances sorted by creation date.
// The score is the creation time.
func (k keys) instancesByCreation() string {
	return k.prefix + "instances-by-creation"
}

// instancesByStatus returns the key for the ZSET of instances in the given status. The score is the
// time the instance was last updated, for RUNNING instances the last heartbeat.
func (k keys) instancesByStatus(status core.WorkflowStatus) string {
	return fmt.Sprintf("%vinstances-by-status:%v", k.prefix, status)
}

func (k keys) instancesExpiring() string {
	return k.prefix + "instances-expiring"
}

func (k keys) steps(instanceID string) string {
	return fmt.Sprintf("%vsteps:%v", k.prefix, instanceID)
}

func (k keys) events(instanceID string) string {
	return fmt.Sprintf("%vevents:%v", k.prefix, instanceID)
}

// messages returns the key for the HASH of all messages sent to the instance, keyed by message id
func (k keys) messages(instanceID string) string {
	return fmt.Sprintf("%vmessages:%v", k.prefix, instanceID)
}

// mailbox returns the key for the LIST of ids of unconsumed messages for the instance and topic
func (k keys) mailbox(instanceID, topic string) string {
	return fmt.Sprintf("%vmailbox:%v:%v", k.prefix, instanceID, topic)
}

func (k keys) messageSequence() string {
	return k.prefix + "message-sequence"
}

func (k keys) notifyChannel() string {
	return k.prefix + "notify"
}

// topics returns the key for the SET of topics the instance has received messages on
func (k keys) topics(instanceID string) string {
	return fmt.Sprintf("%vtopics:%v", k.prefix, instanceID)
}
