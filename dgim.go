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
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Dgim struct. This is an in-memory implementation of the DGIM algorithm.
// It's mainly governed by _buckets_, a newest-first slice in which every
// bucket holds a power-of-two count of 1s and at most _bucketBound_ buckets
// of any one size are kept
// _timestamp_ is the logical clock, incremented once per stream element
type Dgim struct {
	AbstractDgim
	timestamp uint64
	buckets   []dgimBucket
}

// NewDgim creates Dgim with window size _windowSize_ and bucket bound _bucketBound_.
// The estimate returned by Count is off from the true count of 1s by at most
// a factor of 1/_bucketBound_
func NewDgim(windowSize, bucketBound uint64) (*Dgim, error) {
	abstractDgim, err := makeAbstractDgim(windowSize, bucketBound)
	if err != nil {
		return nil, err
	}
	d := &Dgim{AbstractDgim: *abstractDgim}
	return d, nil
}

// Update consumes the next element of the stream.
// Every call advances the internal clock by one and expires at most one
// bucket that slid out of the window; a 1 additionally enters as a new
// size-1 bucket and triggers merges of the two oldest buckets of any size
// that exceeds _bucketBound_
func (d *Dgim) Update(bit bool) {
	d.timestamp++
	if last := len(d.buckets) - 1; last >= 0 && d.buckets[last].mostRecentTimestamp+d.windowSize <= d.timestamp {
		d.buckets = d.buckets[:last]
	}
	if !bit {
		return
	}
	reminder := newDgimBucket(d.timestamp, 1)
	haveReminder := true
	merged := make([]dgimBucket, 0, len(d.buckets)+1)
	i := 0
	for i < len(d.buckets) {
		groupStart := len(merged)
		size := d.buckets[i].oneCount
		if haveReminder {
			merged = append(merged, reminder)
			haveReminder = false
		}
		for i < len(d.buckets) && d.buckets[i].oneCount == size {
			merged = append(merged, d.buckets[i])
			i++
		}
		if uint64(len(merged)-groupStart) == d.bucketBound+1 {
			last := merged[len(merged)-1]
			previous := merged[len(merged)-2]
			merged = merged[:len(merged)-2]
			previous.merge(last)
			reminder = previous
			haveReminder = true
		}
	}
	if haveReminder {
		merged = append(merged, reminder)
	}
	d.buckets = merged
}

// UpdateInt consumes the next element of the stream given as an int.
// It returns an error if _bit_ is anything other than 0 or 1
func (d *Dgim) UpdateInt(bit int) error {
	if bit != 0 && bit != 1 {
		return fmt.Errorf("gowindow: stream element should be 0 or 1, found %d", bit)
	}
	d.Update(bit == 1)
	return nil
}

// UpdateMulti consumes the elements of _bits_ in order, oldest first
func (d *Dgim) UpdateMulti(bits []bool) {
	for _, bit := range bits {
		d.Update(bit)
	}
}

// Count estimates the number of 1s among the most recent _windowSize_
// elements of the stream. Half of the oldest contributing bucket is
// subtracted as only part of it is guaranteed to be inside the window
func (d *Dgim) Count() uint64 {
	var result, value uint64
	for i := range d.buckets {
		if d.buckets[i].mostRecentTimestamp+d.windowSize <= d.timestamp {
			break
		}
		value = d.buckets[i].oneCount
		result += value
	}
	return result - value/2
}

// Timestamp returns the number of stream elements consumed so far
func (d *Dgim) Timestamp() uint64 {
	return d.timestamp
}

// BucketCount returns the number of buckets currently held
func (d *Dgim) BucketCount() uint64 {
	return uint64(len(d.buckets))
}

// Reset restores the Dgim to its initial empty state
func (d *Dgim) Reset() {
	d.timestamp = 0
	d.buckets = nil
}

// Equals checks if two Dgim are equal
func (d *Dgim) Equals(e *Dgim) bool {
	if d.windowSize != e.windowSize || d.bucketBound != e.bucketBound || d.timestamp != e.timestamp {
		return false
	}
	if len(d.buckets) != len(e.buckets) {
		return false
	}
	for i := range d.buckets {
		if d.buckets[i] != e.buckets[i] {
			return false
		}
	}
	return true
}

// Export JSON marshals the Dgim and returns a byte slice containing the data
func (d *Dgim) Export() ([]byte, error) {
	return json.Marshal(dgimJSON{d.windowSize, d.bucketBound, d.timestamp, bucketsToJSON(d.buckets), ""})
}

// Import JSON unmarshals the _data_ into the Dgim
func (d *Dgim) Import(data []byte) error {
	var g dgimJSON
	err := json.Unmarshal(data, &g)
	if err != nil {
		return err
	}
	d.windowSize = g.WindowSize
	d.bucketBound = g.BucketBound
	d.timestamp = g.Timestamp
	d.buckets = bucketsFromJSON(g.Buckets)
	return nil
}

// WriteTo writes the Dgim onto the specified _stream_ and returns the
// number of bytes written.
// It can be used to write to disk (using a file stream) or to network.
func (d *Dgim) WriteTo(stream io.Writer) (int64, error) {
	err := binary.Write(stream, binary.BigEndian, d.windowSize)
	if err != nil {
		return 0, err
	}
	err = binary.Write(stream, binary.BigEndian, d.bucketBound)
	if err != nil {
		return 0, err
	}
	err = binary.Write(stream, binary.BigEndian, d.timestamp)
	if err != nil {
		return 0, err
	}
	err = binary.Write(stream, binary.BigEndian, uint64(len(d.buckets)))
	if err != nil {
		return 0, err
	}
	pairs := make([]uint64, 2*len(d.buckets))
	for i := range d.buckets {
		pairs[2*i] = d.buckets[i].mostRecentTimestamp
		pairs[2*i+1] = d.buckets[i].oneCount
	}
	err = binary.Write(stream, binary.BigEndian, pairs)
	if err != nil {
		return 0, err
	}
	return int64(4*binary.Size(uint64(0)) + binary.Size(pairs)), nil
}

// ReadFrom reads the Dgim from the specified _stream_ and returns the
// number of bytes read.
// It can be used to read from disk (using a file stream) or from network.
func (d *Dgim) ReadFrom(stream io.Reader) (int64, error) {
	var windowSize, bucketBound, timestamp, numBuckets uint64
	err := binary.Read(stream, binary.BigEndian, &windowSize)
	if err != nil {
		return 0, err
	}
	err = binary.Read(stream, binary.BigEndian, &bucketBound)
	if err != nil {
		return 0, err
	}
	err = binary.Read(stream, binary.BigEndian, &timestamp)
	if err != nil {
		return 0, err
	}
	err = binary.Read(stream, binary.BigEndian, &numBuckets)
	if err != nil {
		return 0, err
	}
	pairs := make([]uint64, 2*numBuckets)
	err = binary.Read(stream, binary.BigEndian, &pairs)
	if err != nil {
		return 0, err
	}
	buckets := make([]dgimBucket, numBuckets)
	for i := range buckets {
		buckets[i] = newDgimBucket(pairs[2*i], pairs[2*i+1])
	}
	d.windowSize = windowSize
	d.bucketBound = bucketBound
	d.timestamp = timestamp
	d.buckets = buckets
	return int64(4*binary.Size(uint64(0)) + binary.Size(pairs)), nil
}
