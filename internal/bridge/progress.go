package bridge

import "fmt"

// Unknown is the BytesExpected value when the transfer size is not known.
const Unknown int64 = -1

// Progress is an immutable snapshot of a content transfer.
type Progress struct {
	BytesTransferred int64
	BytesExpected    int64
}

// Percentage returns 100 when the expected size is unknown, otherwise
// BytesTransferred*100/BytesExpected. A zero-byte transfer is 100% done.
func (p Progress) Percentage() float64 {
	if p.BytesExpected == Unknown || p.BytesExpected == 0 {
		return 100
	}

	return float64(p.BytesTransferred) * 100 / float64(p.BytesExpected)
}

// IsComplete reports whether every expected byte has been transferred. It is
// always false when the expected size is unknown.
func (p Progress) IsComplete() bool {
	if p.BytesExpected == Unknown {
		return false
	}

	return p.BytesTransferred == p.BytesExpected
}

func (p Progress) String() string {
	if p.BytesExpected == Unknown {
		return fmt.Sprintf("%d bytes", p.BytesTransferred)
	}

	return fmt.Sprintf("%d/%d bytes (%.0f%%)", p.BytesTransferred, p.BytesExpected, p.Percentage())
}

// ProgressObserver receives progress values for one Open subscription. It is
// called synchronously on the worker, in order, and never after the
// subscription's result has been delivered.
type ProgressObserver func(Progress)

// newProgress normalizes a raw callback into a Progress value. Negative
// expected sizes all mean unknown.
func newProgress(transferred, expected int64) Progress {
	if transferred < 0 {
		transferred = 0
	}

	if expected < 0 {
		expected = Unknown
	}

	return Progress{BytesTransferred: transferred, BytesExpected: expected}
}
