package engine

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// bitsPerByte is one start bit, eight data bits and one stop bit (8N1).
const bitsPerByte = 10

// TransmitDelay is how long n bytes take on the wire at baud.
func TransmitDelay(n int, baud int) time.Duration {
	if n <= 0 || baud <= 0 {
		return 0
	}
	return time.Duration(int64(n) * bitsPerByte * int64(time.Second) / int64(baud))
}

// Retry runs op up to attempts times. Before each retry it calls recover
// (typically a flush) and pauses. Fatal errors and context cancellation stop
// the loop at once. The last error is returned.
func Retry(ctx context.Context, attempts int, pause time.Duration, recover func(), op func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if recover != nil {
				recover()
			}
			if err := sleep(ctx, pause); err != nil {
				return err
			}
		}
		if err = op(attempt); err == nil {
			return nil
		}
		if Fatal(err) || ctx.Err() != nil {
			return err
		}
		glog.V(1).Infof("attempt %d/%d failed: %v", attempt, attempts, err)
	}
	return err
}

// RetryChunk runs op for chunk c under Retry and reports a failure as a
// ProgramError carrying the number of attempts made.
func RetryChunk(ctx context.Context, attempts int, pause time.Duration, recover func(), c Chunk, op func() error) error {
	made := 0
	err := Retry(ctx, attempts, pause, recover, func(attempt int) error {
		made = attempt
		return op()
	})
	if err != nil {
		return &ProgramError{Chunk: c.Index, Address: c.Address, Attempts: made, Err: err}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sleep pauses for d unless ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}
