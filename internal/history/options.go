package history

import "time"

type ProducerOption func(p *Producer)

// WithMaxPending bounds the number of queued records.
func WithMaxPending(n int) ProducerOption {
	return func(p *Producer) {
		if n > 0 {
			p.maxPending = n
		}
	}
}

func WithWriteTimeout(d time.Duration) ProducerOption {
	return func(p *Producer) {
		if d > 0 {
			p.writeTimeout = d
		}
	}
}
