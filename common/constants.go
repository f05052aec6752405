package common

const (
	// DefaultPageSize is used by callers that do not need a non-standard page size.
	DefaultPageSize = 4096

	// DefaultHandleCacheSize bounds how many segment file descriptors a disk store
	// keeps in its handle cache; handles the cache evicts, by its own
	// frequency-based policy, have their files closed.
	DefaultHandleCacheSize = 64
)
