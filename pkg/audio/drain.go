package audio

// Drain discards values from a stream whose consumer gave up early, returning
// once the producer closes ch. Run it in its own goroutine.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
