// Package shard maps string keys onto a fixed number of buckets. The cart
// router, event tags, topic partitions and lease placement all rely on the
// same hash so that assignments agree across processes.
package shard

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Of returns the bucket in [0, n) for key. n must be positive.
func Of(key string, n int) int {
	if n <= 0 {
		panic("shard: bucket count must be positive, got " + strconv.Itoa(n))
	}
	return int(xxhash.Sum64String(key) % uint64(n))
}

// Owner returns the member with the highest rendezvous score for resource,
// or "" when members is empty. Removing a member only moves the resources
// it owned.
func Owner(resource string, members []string) string {
	var (
		best      string
		bestScore uint64
	)
	for _, member := range members {
		digest := xxhash.New()
		_, _ = digest.WriteString(member)
		_, _ = digest.WriteString("\x00")
		_, _ = digest.WriteString(resource)
		score := digest.Sum64()
		if best == "" || score > bestScore || (score == bestScore && member < best) {
			best, bestScore = member, score
		}
	}
	return best
}
