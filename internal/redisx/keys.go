package redisx

import "time"

const (
	// Ingest dedup per inbound message: ingest:{shop_id}:{source_message_id} -> "1"
	KeyIngest = "ingest:%s:%s"

	// Cache claim view: claim_status:{claim_id} -> claim JSON
	KeyClaimStatus = "claim_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Fleet-wide expiry sweep lock, value is the holder token.
	KeySweepLock = "lock:expiry-sweep"
)

var (
	TTLIngest      = 48 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLSweepLock   = 5 * time.Minute
)
