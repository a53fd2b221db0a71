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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kwertop/gowindow/internal/util"
	"github.com/redis/go-redis/v9"
)

// DgimRedis is the Redis backed implementation of BaseDgim
// _key_ holds the Redis key to the list of buckets, newest first, each entry
// stored as a "timestamp:count" string; the logical clock lives at _key_ + "_ts"
// _metadataKey_ is used to store the additional information about DgimRedis
// for retrieving the estimator by the Redis key
type DgimRedis struct {
	AbstractDgim
	key         string
	metadataKey string
}

// NewDgimRedis creates DgimRedis with window size _windowSize_ and bucket
// bound _bucketBound_
func NewDgimRedis(windowSize, bucketBound uint64) (*DgimRedis, error) {
	abstractDgim, err := makeAbstractDgim(windowSize, bucketBound)
	if err != nil {
		return nil, err
	}
	key := util.GenerateRandomString(16)
	metadataKey := util.GenerateRandomString(16)
	d := &DgimRedis{*abstractDgim, key, metadataKey}
	metadata := make(map[string]interface{})
	metadata["windowSize"] = d.windowSize
	metadata["bucketBound"] = d.bucketBound
	metadata["key"] = d.key
	err = getRedisClient().HSet(context.Background(), d.metadataKey, metadata).Err()
	if err != nil {
		return nil, fmt.Errorf("gowindow: error creating dgim redis, error: %v", err)
	}
	err = d.initBuckets()
	if err != nil {
		return nil, err
	}
	return d, nil
}

// NewDgimRedisFromKey is used to create a new Redis backed DgimRedis from the
// _metadataKey_ (the Redis key used to store the metadata about the dgim) passed.
// For this to work, value should be present in Redis at _key_
func NewDgimRedisFromKey(metadataKey string) (*DgimRedis, error) {
	values, err := getRedisClient().HGetAll(context.Background(), metadataKey).Result()
	if err != nil {
		return nil, fmt.Errorf("gowindow: error creating dgim from redis key, error: %v", err)
	}
	windowSize, _ := strconv.ParseUint(values["windowSize"], 10, 64)
	bucketBound, _ := strconv.ParseUint(values["bucketBound"], 10, 64)
	abstractDgim, err := makeAbstractDgim(windowSize, bucketBound)
	if err != nil {
		return nil, fmt.Errorf("gowindow: error creating dgim from redis key")
	}
	key := values["key"]
	d := &DgimRedis{*abstractDgim, key, metadataKey}
	return d, nil
}

// MetadataKey returns the metadataKey
func (d *DgimRedis) MetadataKey() string {
	return d.metadataKey
}

// Update consumes the next element of the stream
func (d *DgimRedis) Update(bit bool) error {
	return d.UpdateMulti([]bool{bit})
}

// UpdateInt consumes the next element of the stream given as an int.
// It returns an error if _bit_ is anything other than 0 or 1
func (d *DgimRedis) UpdateInt(bit int) error {
	if bit != 0 && bit != 1 {
		return fmt.Errorf("gowindow: stream element should be 0 or 1, found %d", bit)
	}
	return d.Update(bit == 1)
}

// UpdateMulti consumes the elements of _bits_ in order, oldest first.
// All the elements are applied inside a single script run
func (d *DgimRedis) UpdateMulti(bits []bool) error {
	updateBuckets := redis.NewScript(`
		local key = KEYS[1]
		local tsKey = KEYS[2]
		local windowSize = tonumber(ARGV[1])
		local bucketBound = tonumber(ARGV[2])
		local function bucketTimestamp(entry)
			return tonumber(string.match(entry, '^(%d+):'))
		end
		local function bucketCount(entry)
			return tonumber(string.match(entry, ':(%d+)$'))
		end
		for a=3, #ARGV do
			local timestamp = redis.call('INCR', tsKey)
			local oldest = redis.call('LINDEX', key, -1)
			if oldest and bucketTimestamp(oldest) + windowSize <= timestamp then
				redis.call('RPOP', key)
			end
			if ARGV[a] == '1' then
				local buckets = redis.call('LRANGE', key, 0, -1)
				local reminderTimestamp = timestamp
				local reminderCount = 1
				local haveReminder = true
				local merged = {}
				local i = 1
				while i <= #buckets do
					local groupStart = #merged
					local size = bucketCount(buckets[i])
					if haveReminder then
						merged[#merged+1] = string.format('%d:%d', reminderTimestamp, reminderCount)
						haveReminder = false
					end
					while i <= #buckets and bucketCount(buckets[i]) == size do
						merged[#merged+1] = buckets[i]
						i = i + 1
					end
					if #merged - groupStart == bucketBound + 1 then
						local last = merged[#merged]
						local previous = merged[#merged-1]
						merged[#merged] = nil
						merged[#merged] = nil
						if bucketTimestamp(last) > bucketTimestamp(previous) then
							reminderTimestamp = bucketTimestamp(last)
						else
							reminderTimestamp = bucketTimestamp(previous)
						end
						reminderCount = bucketCount(previous) + bucketCount(last)
						haveReminder = true
					end
				end
				if haveReminder then
					merged[#merged+1] = string.format('%d:%d', reminderTimestamp, reminderCount)
				end
				redis.call('DEL', key)
				if #merged > 0 then
					redis.call('RPUSH', key, unpack(merged))
				end
			end
		end
		return true
	`)
	args := make([]interface{}, len(bits)+2)
	args[0] = interface{}(d.windowSize)
	args[1] = interface{}(d.bucketBound)
	for i := range bits {
		if bits[i] {
			args[i+2] = interface{}("1")
		} else {
			args[i+2] = interface{}("0")
		}
	}
	_, err := updateBuckets.Run(
		context.Background(),
		getRedisClient(),
		[]string{d.key, d.tsKey()},
		args...,
	).Bool()
	if err != nil {
		return fmt.Errorf("gowindow: error while updating dgim in redis, error: %v", err)
	}
	return nil
}

// Count estimates the number of 1s among the most recent _windowSize_
// elements of the stream. Half of the oldest contributing bucket is
// subtracted as only part of it is guaranteed to be inside the window
func (d *DgimRedis) Count() (uint64, error) {
	countBuckets := redis.NewScript(`
		local key = KEYS[1]
		local tsKey = KEYS[2]
		local windowSize = tonumber(ARGV[1])
		local timestamp = tonumber(redis.call('GET', tsKey) or 0)
		local buckets = redis.call('LRANGE', key, 0, -1)
		local result = 0
		local value = 0
		for i=1, #buckets do
			local ts = tonumber(string.match(buckets[i], '^(%d+):'))
			if ts + windowSize <= timestamp then
				break
			end
			value = tonumber(string.match(buckets[i], ':(%d+)$'))
			result = result + value
		end
		return result - math.floor(value / 2)
	`)
	count, err := countBuckets.Run(
		context.Background(),
		getRedisClient(),
		[]string{d.key, d.tsKey()},
		d.windowSize,
	).Uint64()
	if err != nil {
		return 0, fmt.Errorf("gowindow: error while counting ones in redis, error: %v", err)
	}
	return count, nil
}

// Timestamp returns the number of stream elements consumed so far
func (d *DgimRedis) Timestamp() (uint64, error) {
	timestamp, err := getRedisClient().Get(context.Background(), d.tsKey()).Uint64()
	if err != nil {
		return 0, fmt.Errorf("gowindow: error fetching timestamp from redis, error: %v", err)
	}
	return timestamp, nil
}

// BucketCount returns the number of buckets currently held
func (d *DgimRedis) BucketCount() (uint64, error) {
	length, err := getRedisClient().LLen(context.Background(), d.key).Result()
	if err != nil {
		return 0, fmt.Errorf("gowindow: error fetching bucket count from redis, error: %v", err)
	}
	return uint64(length), nil
}

// Reset restores the DgimRedis to its initial empty state
func (d *DgimRedis) Reset() error {
	return d.initBuckets()
}

// Equals checks if two DgimRedis are equal
func (d *DgimRedis) Equals(e *DgimRedis) (bool, error) {
	if d.windowSize != e.windowSize || d.bucketBound != e.bucketBound {
		return false, nil
	}
	return d.compareBuckets(e)
}

// Export JSON marshals the DgimRedis and returns a byte slice containing the data
func (d *DgimRedis) Export() ([]byte, error) {
	timestamp, buckets, err := d.getBuckets()
	if err != nil {
		return nil, err
	}
	return json.Marshal(dgimJSON{d.windowSize, d.bucketBound, timestamp, bucketsToJSON(buckets), d.key})
}

// Import JSON unmarshals the _data_ into the DgimRedis
func (d *DgimRedis) Import(data []byte, withNewKey bool) error {
	var g dgimJSON
	err := json.Unmarshal(data, &g)
	if err != nil {
		return err
	}
	d.windowSize = g.WindowSize
	d.bucketBound = g.BucketBound
	if withNewKey {
		d.key = util.GenerateRandomString(16)
	} else {
		d.key = g.Key
	}
	metadata := make(map[string]interface{})
	metadata["windowSize"] = d.windowSize
	metadata["bucketBound"] = d.bucketBound
	metadata["key"] = d.key
	err = getRedisClient().HSet(context.Background(), d.metadataKey, metadata).Err()
	if err != nil {
		return fmt.Errorf("gowindow: error importing dgim into redis, error: %v", err)
	}
	return d.setBuckets(g.Timestamp, bucketsFromJSON(g.Buckets))
}

func (d *DgimRedis) compareBuckets(e *DgimRedis) (bool, error) {
	compareBucketsScript := redis.NewScript(`
		local key1 = KEYS[1]
		local tsKey1 = KEYS[2]
		local key2 = KEYS[3]
		local tsKey2 = KEYS[4]
		local ts1 = redis.call('GET', tsKey1) or '0'
		local ts2 = redis.call('GET', tsKey2) or '0'
		if ts1 ~= ts2 then
			return 0
		end
		local buckets1 = redis.call('LRANGE', key1, 0, -1)
		local buckets2 = redis.call('LRANGE', key2, 0, -1)
		if #buckets1 ~= #buckets2 then
			return 0
		end
		for i=1, #buckets1 do
			if buckets1[i] ~= buckets2[i] then
				return 0
			end
		end
		return 1
	`)
	ok, err := compareBucketsScript.Run(
		context.Background(),
		getRedisClient(),
		[]string{d.key, d.tsKey(), e.key, e.tsKey()},
	).Bool()
	if err != nil {
		return false, fmt.Errorf("gowindow: error while comparing buckets in redis, error: %v", err)
	}
	return ok, nil
}

func (d *DgimRedis) initBuckets() error {
	initBucketsRedis := redis.NewScript(`
		local key = KEYS[1]
		local tsKey = KEYS[2]
		redis.call('DEL', key)
		redis.call('SET', tsKey, 0)
		return true
	`)
	ok, err := initBucketsRedis.Run(
		context.Background(),
		getRedisClient(),
		[]string{d.key, d.tsKey()},
	).Bool()
	if err != nil || !ok {
		return errors.New("gowindow: error while initializing dgim in redis")
	}
	return nil
}

func (d *DgimRedis) getBuckets() (uint64, []dgimBucket, error) {
	fetchBucketsAsTable := redis.NewScript(`
		local key = KEYS[1]
		local tsKey = KEYS[2]
		local result = {}
		result[1] = redis.call('GET', tsKey) or '0'
		local buckets = redis.call('LRANGE', key, 0, -1)
		for i=1, #buckets do
			result[i+1] = buckets[i]
		end
		return result
	`)
	result, err := fetchBucketsAsTable.Run(
		context.Background(),
		getRedisClient(),
		[]string{d.key, d.tsKey()},
	).Slice()
	if err != nil {
		return 0, nil, fmt.Errorf("gowindow: error fetching buckets from redis, error: %v", err)
	}
	if len(result) == 0 {
		return 0, nil, fmt.Errorf("gowindow: error parsing buckets from redis")
	}
	tsString, ok := result[0].(string)
	if !ok {
		return 0, nil, fmt.Errorf("gowindow: error parsing buckets from redis")
	}
	timestamp, err := strconv.ParseUint(tsString, 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("gowindow: error parsing buckets from redis, error: %v", err)
	}
	buckets := make([]dgimBucket, len(result)-1)
	for i := 1; i < len(result); i++ {
		entry, ok := result[i].(string)
		if !ok {
			return 0, nil, fmt.Errorf("gowindow: error parsing buckets from redis")
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 2 {
			return 0, nil, fmt.Errorf("gowindow: error parsing buckets from redis")
		}
		ts, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return 0, nil, fmt.Errorf("gowindow: error parsing buckets from redis, error: %v", err)
		}
		count, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return 0, nil, fmt.Errorf("gowindow: error parsing buckets from redis, error: %v", err)
		}
		buckets[i-1] = newDgimBucket(ts, count)
	}
	return timestamp, buckets, nil
}

func (d *DgimRedis) setBuckets(timestamp uint64, buckets []dgimBucket) error {
	args := make([]interface{}, len(buckets)+1)
	args[0] = interface{}(strconv.FormatUint(timestamp, 10))
	for i := range buckets {
		entry := strconv.FormatUint(buckets[i].mostRecentTimestamp, 10) + ":" + strconv.FormatUint(buckets[i].oneCount, 10)
		args[i+1] = interface{}(entry)
	}
	setBucketsScript := redis.NewScript(`
		local key = KEYS[1]
		local tsKey = KEYS[2]
		redis.call('DEL', key)
		redis.call('SET', tsKey, ARGV[1])
		if #ARGV > 1 then
			redis.call('RPUSH', key, unpack(ARGV, 2))
		end
		return true
	`)
	_, err := setBucketsScript.Run(
		context.Background(),
		getRedisClient(),
		[]string{d.key, d.tsKey()},
		args...,
	).Result()
	if err != nil {
		return fmt.Errorf("gowindow: couldn't save buckets in redis")
	}
	return nil
}

func (d *DgimRedis) tsKey() string {
	return d.key + "_ts"
}
