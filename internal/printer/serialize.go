package printer

import (
	"context"
	"time"
)

// serialized admits one job at a time; a print head cannot interleave documents.
type serialized struct {
	next    Printer
	slot    chan struct{}
	timeout time.Duration
}

// Serialize wraps p so concurrent callers queue for the device. Waiting for the
// device and printing both count against timeout when it is positive.
func Serialize(p Printer, timeout time.Duration) Printer {
	return &serialized{next: p, slot: make(chan struct{}, 1), timeout: timeout}
}

func (s *serialized) Print(ctx context.Context, job Job) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.slot }()
	return s.next.Print(ctx, job)
}
