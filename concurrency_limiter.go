package cachebay

// semaphore bounds how many concurrent Transport.Http calls may be in
// flight at once (spec §5's one sanctioned concurrent-I/O suspension
// point), the same buffered-channel token idiom as the teacher's own
// concurrencylimiter package (originally bounding concurrent Expensive
// field resolution in graphql/executor.go), adapted to back
// Cache.limiter directly instead of through a context-keyed handle.
type semaphore chan struct{}

func makeSemaphore(maxThreads int) semaphore {
	return make(chan struct{}, maxThreads)
}

func (s semaphore) acquire() {
	s <- struct{}{}
}

func (s semaphore) release() {
	<-s
}
