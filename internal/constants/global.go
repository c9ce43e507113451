// Package constants holds the handful of fixed names shared across
// packages, the trimmed analog of the donor's internal/constants/global.go.
package constants

// AppName identifies this process in logs and the PID file.
const AppName = "goproxy"

// CacheStatusHeader is injected into every response the proxy forwards
// to a client, reporting whether it was served from the object cache.
// Grounded on the donor's ProtocolCacheStatusKey ("X-Cache").
const CacheStatusHeader = "X-Cache"

const (
	CacheStatusHit  = "HIT"
	CacheStatusMiss = "MISS"
)
