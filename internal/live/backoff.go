package live

import "time"

// Backoff computes reconnect delays. With a Multiplier of 1 or less every
// delay equals Initial.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	next time.Duration
}

// Next returns the delay before the next attempt and advances the sequence.
func (b *Backoff) Next() time.Duration {
	if b.next <= 0 {
		b.next = b.Initial
	}
	d := b.next

	if b.Multiplier > 1 {
		grown := time.Duration(float64(b.next) * b.Multiplier)
		if b.Max > 0 && grown > b.Max {
			grown = b.Max
		}
		b.next = grown
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Reset restarts the sequence at Initial.
func (b *Backoff) Reset() {
	b.next = 0
}
