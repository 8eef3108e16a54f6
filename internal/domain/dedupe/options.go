package dedupe

// Option configures the in-memory Deduper.
type Option func(*fifoDeduper)

// WithMaxSize bounds the number of remembered keys. Values <= 0 mean unbounded.
func WithMaxSize(maxSize int) Option {
	return func(d *fifoDeduper) {
		d.maxSize = maxSize
	}
}
