package domain

// ObjectInfo describes one stored object in a bucket listing.
type ObjectInfo struct {
	Key  string
	Size int64
}
