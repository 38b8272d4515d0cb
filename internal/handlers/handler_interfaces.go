package handlers

// CacheWarmer triggers an out-of-schedule cache warm.
type CacheWarmer interface {
	RunNow()
}
