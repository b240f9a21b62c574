package peerweb

// Values of the X-Peerweb response header.
const (
	outcomeHit        = "hit"
	outcomeRPC        = "rpc"
	outcomeChunk      = "chunk"
	outcomeNotFound   = "not-found"
	outcomeFallback   = "fallback"
	outcomeMismatch   = "mismatch"
	outcomeBadRequest = "bad-request"
	outcomeBadRange   = "range-not-satisfiable"
	outcomeMethod     = "method-not-allowed"
	outcomeProxy      = "proxy"
	outcomeBadGateway = "bad-gateway"
)

// mediaEntry is a fully fetched media resource held by the range cache.
type mediaEntry struct {
	Data        []byte
	ContentType string
	StoredAt    int64 // unix seconds
}
