package model

import "time"

// Record is a single unit of data moving through the executor. Key is the
// provider's natural identifier (Kafka key, Kinesis partition key, row
// primary key) and feeds deduplication. Raw preserves the original payload
// for dead letter capture.
type Record struct {
	Key       string
	Data      map[string]interface{}
	Raw       []byte
	Timestamp time.Time

	// Source position metadata (topic/partition/offset, shard/sequence,
	// object key, page cursor). Informational only.
	Source map[string]string
}

// Batch is an ordered slice of records flushed together.
type Batch struct {
	Records []Record
	// Seq numbers batches within a run, starting at 1.
	Seq int64
}
