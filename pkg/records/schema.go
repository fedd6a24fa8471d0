package records

import "fmt"

// Redis key pattern helpers
//
// All keys and Pub/Sub channels are namespaced by instance name so several Agora
// deployments can share a single Redis server.
//
// Key pattern: agora:{instance_name}:{entity}:{id}

// RecordKey returns the Redis key for a record hash.
// Pattern: agora:{instance_name}:record:{record_id}
func RecordKey(instanceName, recordID string) string {
	return fmt.Sprintf("agora:%s:record:%s", instanceName, recordID)
}

// RecordKeyPattern returns the SCAN pattern matching every record hash.
func RecordKeyPattern(instanceName string) string {
	return fmt.Sprintf("agora:%s:record:*", instanceName)
}

// KindKey returns the Redis key for a kind index ZSET scored by created_at_ms.
// Pattern: agora:{instance_name}:kind:{kind}
func KindKey(instanceName string, kind Kind) string {
	return fmt.Sprintf("agora:%s:kind:%s", instanceName, kind)
}

// KindMembersKey returns the Redis key for the SET of record ids of one kind.
// Label and tag lookups intersect it so other kinds never reach HGETALL.
// Pattern: agora:{instance_name}:kind-members:{kind}
func KindMembersKey(instanceName string, kind Kind) string {
	return fmt.Sprintf("agora:%s:kind-members:%s", instanceName, kind)
}

// TagKey returns the Redis key for a tag index SET.
// Pattern: agora:{instance_name}:tag:{tag}
func TagKey(instanceName, tag string) string {
	return fmt.Sprintf("agora:%s:tag:%s", instanceName, tag)
}

// LabelKey returns the Redis key for a label index SET.
// Pattern: agora:{instance_name}:label:{name}:{value}
func LabelKey(instanceName, name, value string) string {
	return fmt.Sprintf("agora:%s:label:%s:%s", instanceName, name, value)
}

// EventsChannel returns the Pub/Sub channel carrying relayed lifecycle events.
// Pattern: agora:{instance_name}:events
func EventsChannel(instanceName string) string {
	return fmt.Sprintf("agora:%s:events", instanceName)
}
