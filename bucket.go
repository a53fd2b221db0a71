/*
Package gowindow implements probabilistic data structures for summarizing
sliding windows over data streams.

 1. DGIM: A probabilistic data structure used to estimate the number of 1s
    in the most recent N elements of a binary stream using a logarithmic
    number of buckets.
    Refer: http://www-cs.stanford.edu/~datar/papers/sicomp_streams.pdf

The package implements both in-mem and Redis backed solutions for the data
structure. The in-memory data structures are not synchronized; updates and
queries should come from one goroutine at a time.
*/
package gowindow

import (
	"github.com/kwertop/gowindow/internal/util"
)

// dgimBucket summarizes a run of stream positions holding a power-of-two
// number of 1s.
// _mostRecentTimestamp_ is the position of the newest 1 inside the run
// _oneCount_ is the number of 1s the bucket accounts for
type dgimBucket struct {
	mostRecentTimestamp uint64
	oneCount            uint64
}

// newDgimBucket creates a new dgimBucket
func newDgimBucket(timestamp, count uint64) dgimBucket {
	return dgimBucket{mostRecentTimestamp: timestamp, oneCount: count}
}

// merge absorbs _other_ into the bucket. Both buckets must hold equal counts
// and cover adjacent ranges; the result keeps the newer timestamp and the
// summed count.
func (b *dgimBucket) merge(other dgimBucket) {
	b.mostRecentTimestamp = util.Max(b.mostRecentTimestamp, other.mostRecentTimestamp)
	b.oneCount += other.oneCount
}

func bucketsToJSON(buckets []dgimBucket) []dgimBucketJSON {
	out := make([]dgimBucketJSON, len(buckets))
	for i := range buckets {
		out[i] = dgimBucketJSON{buckets[i].mostRecentTimestamp, buckets[i].oneCount}
	}
	return out
}

func bucketsFromJSON(buckets []dgimBucketJSON) []dgimBucket {
	out := make([]dgimBucket, len(buckets))
	for i := range buckets {
		out[i] = newDgimBucket(buckets[i].Timestamp, buckets[i].Count)
	}
	return out
}
