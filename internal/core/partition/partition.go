package partition

import "hash/fnv"

// Count is the fixed number of logical partitions of the tag stream.
// Never changes after initial deployment — it's a capacity decision, not a
// scaling decision.
const Count = 256

// For returns the partition ID for a given cookie.
// Stable and deterministic: same cookie always maps to the same partition,
// which is what keeps one user's events in arrival order on a single consumer.
// Uses FNV-32a (stdlib, fast, well-distributed).
func For(cookie string) int {
	h := fnv.New32a()
	h.Write([]byte(cookie))
	return int(h.Sum32()) % Count
}
