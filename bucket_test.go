package gowindow

import (
	"testing"
)

func TestDgimBucketMerge(t *testing.T) {
	b1 := newDgimBucket(5, 2)
	b1.merge(newDgimBucket(3, 2))
	if b1.mostRecentTimestamp != 5 {
		t.Errorf("merged bucket should keep the newer timestamp 5, found %d", b1.mostRecentTimestamp)
	}
	if b1.oneCount != 4 {
		t.Errorf("merged bucket should hold 4 ones, found %d", b1.oneCount)
	}
	b2 := newDgimBucket(3, 2)
	b2.merge(newDgimBucket(5, 2))
	if b2.mostRecentTimestamp != 5 {
		t.Errorf("merged bucket should keep the newer timestamp 5, found %d", b2.mostRecentTimestamp)
	}
	if b2.oneCount != 4 {
		t.Errorf("merged bucket should hold 4 ones, found %d", b2.oneCount)
	}
}

func TestDgimBucketJSONConversion(t *testing.T) {
	buckets := []dgimBucket{newDgimBucket(9, 1), newDgimBucket(6, 4)}
	restored := bucketsFromJSON(bucketsToJSON(buckets))
	if len(restored) != len(buckets) {
		t.Errorf("restored bucket slice should have length %d, found %d", len(buckets), len(restored))
	}
	for i := range buckets {
		if restored[i] != buckets[i] {
			t.Errorf("restored bucket at %d should be %v, found %v", i, buckets[i], restored[i])
		}
	}
}
