package capture

import (
	"context"
	"errors"
	"time"
)

// Frame is a read-only view of one captured image. Data aliases the
// capture buffer and is valid only for the duration of Consume.
type Frame struct {
	Data      []byte
	Length    int
	Stride    int
	Width     int
	Height    int
	FourCC    uint32
	Sequence  uint32
	Index     int
	Timestamp time.Duration
}

// Consumer receives frames synchronously. The loop does not recycle the
// buffer until Consume returns, so a consumer that needs the pixels later
// must copy them. A returned error drops the frame; the capture continues.
type Consumer interface {
	Consume(ctx context.Context, f Frame) error
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(ctx context.Context, f Frame) error

// Consume calls f(ctx, frame).
func (f ConsumerFunc) Consume(ctx context.Context, frame Frame) error {
	return f(ctx, frame)
}

// Discard accepts every frame and does nothing with it.
var Discard Consumer = ConsumerFunc(func(context.Context, Frame) error { return nil })

// Tee hands each frame to every consumer in order. All consumers see the
// frame even if an earlier one fails; the errors are joined.
func Tee(consumers ...Consumer) Consumer {
	return ConsumerFunc(func(ctx context.Context, f Frame) error {
		var errs []error
		for _, c := range consumers {
			if err := c.Consume(ctx, f); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
