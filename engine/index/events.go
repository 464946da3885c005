package index

import "time"

// SubjectRebuilt is the NATS subject the indexer publishes to after a new
// index generation has been swapped into place.
const SubjectRebuilt = "engine.index.rebuilt"

// RebuiltEvent announces a completed index build. Subscribers reload the
// persisted artifacts; the event carries metadata only, never index data.
type RebuiltEvent struct {
	Fingerprint string    `json:"fingerprint"`
	ChunkCount  int       `json:"chunk_count"`
	BuiltAt     time.Time `json:"built_at"`
}
