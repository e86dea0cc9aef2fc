package events

import (
	"fmt"
	"hash/fnv"
)

// Partition maps a message key onto one of n partitions. Messages sharing a
// key always land on the same partition and keep their relative order.
func Partition(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// StreamName is the Redis stream backing one partition of a topic.
func StreamName(topic string, partition int) string {
	return fmt.Sprintf("%s.p%d", topic, partition)
}
