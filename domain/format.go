package domain

// Wire formats shared by the store and the HTTP layer.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"

	// UnknownLabel is serialized instead of null for any field the system
	// cannot determine (missing date, missing cabinet). Kept for interface
	// compatibility with existing clients.
	UnknownLabel = "未知"
)
