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
	"errors"
	"fmt"
)

// Interface for DGIM
type BaseDgim interface {
	WindowSize() uint64
	BucketBound() uint64
	ErrorRate() float64
	Update(bit bool)
	Count() uint64
	Timestamp() uint64
	BucketCount() uint64
	Reset()
}

type AbstractDgim struct {
	BaseDgim
	windowSize  uint64
	bucketBound uint64
}

// internal type used to marshal/unmarshal DGIM
type dgimJSON struct {
	WindowSize  uint64           `json:"n"`
	BucketBound uint64           `json:"r"`
	Timestamp   uint64           `json:"t"`
	Buckets     []dgimBucketJSON `json:"b"`
	Key         string           `json:"k"`
}

type dgimBucketJSON struct {
	Timestamp uint64 `json:"t"`
	Count     uint64 `json:"c"`
}

func makeAbstractDgim(windowSize, bucketBound uint64) (*AbstractDgim, error) {
	if windowSize == 0 {
		return nil, errors.New("gowindow: window size should be greater than 0")
	}
	if bucketBound < 2 {
		return nil, fmt.Errorf("gowindow: bucket bound %d should be at least 2", bucketBound)
	}
	d := &AbstractDgim{}
	d.windowSize = windowSize
	d.bucketBound = bucketBound
	return d, nil
}

// WindowSize returns the number of most recent stream elements covered by the estimate
func (d *AbstractDgim) WindowSize() uint64 {
	return d.windowSize
}

// BucketBound returns the maximum number of buckets allowed per bucket size
func (d *AbstractDgim) BucketBound() uint64 {
	return d.bucketBound
}

// ErrorRate returns the maximum relative error of the estimate,
// 1/_bucketBound_ of the true count of 1s in the window
func (d *AbstractDgim) ErrorRate() float64 {
	return 1 / float64(d.bucketBound)
}
