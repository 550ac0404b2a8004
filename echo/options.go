package echo

// Config holds the echo loop configuration.
type Config struct {
	// WriteRetryLimit bounds the failed write attempts spent on one chunk.
	// Zero retries until the port accepts every byte.
	WriteRetryLimit int

	// Observer is called with each chunk read and its transformed copy
	// once the chunk has been written (optional).
	Observer func(in, out []byte)
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{}
}

// Option is a functional option for configuring a Loop.
type Option func(*Config)

// WithWriteRetryLimit bounds how many failed writes a chunk may see before
// the rest of it is dropped. Zero, the default, never drops.
//
// Example:
//
//	loop := echo.New(poller, port, led, echo.WithWriteRetryLimit(10000))
func WithWriteRetryLimit(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.WriteRetryLimit = n
		}
	}
}

// WithObserver sets a callback that sees every echoed chunk.
//
// Example:
//
//	loop := echo.New(poller, port, led, echo.WithObserver(func(in, out []byte) {
//	    log.Printf("%q -> %q", in, out)
//	}))
func WithObserver(fn func(in, out []byte)) Option {
	return func(c *Config) {
		c.Observer = fn
	}
}
