// Package delivery sends encoded records to the display device.
package delivery

import (
	"context"
	"errors"

	"github.com/sw33tLie/togetter/pkg/record"
)

// MaxAttempts bounds the sends made for a single record.
const MaxAttempts = 5

// ErrNotConnected is returned by a Sender with no device attached. It is
// not retried.
var ErrNotConnected = errors.New("device not connected")

// Message is the single outbound message of a delivery.
type Message struct {
	Label string
	Items []byte
}

// MessageFor flattens rec into a Message.
func MessageFor(rec record.Record) Message {
	return Message{Label: rec.Label, Items: rec.Items()}
}

// Sender hands one message to the device and reports whether it was
// accepted.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Outcome describes a finished delivery.
type Outcome struct {
	Attempts  int
	Delivered bool
	Err       error // last rejection, nil when delivered
}

// Channel delivers records with bounded retries.
type Channel struct {
	sender Sender
	log    Logger
}

// New builds a Channel. log may be nil.
func New(sender Sender, log Logger) *Channel {
	if log == nil {
		log = nopLogger{}
	}
	return &Channel{sender: sender, log: log}
}

// Deliver sends rec, retrying rejected sends up to MaxAttempts in total.
// Failure is reported in the Outcome and logged; it is never fatal.
func (c *Channel) Deliver(ctx context.Context, rec record.Record) Outcome {
	msg := MessageFor(rec)
	var out Outcome
	for out.Attempts < MaxAttempts {
		out.Attempts++
		err := c.sender.Send(ctx, msg)
		if err == nil {
			out.Delivered = true
			out.Err = nil
			c.log.Debugf("Delivered %q (%d bytes) after %d attempt(s)", msg.Label, len(msg.Items), out.Attempts)
			return out
		}
		out.Err = err
		if errors.Is(err, ErrNotConnected) || ctx.Err() != nil {
			c.log.Infof("Not delivering %q: %v", msg.Label, err)
			return out
		}
		c.log.Debugf("Failed sending message, retry... (%d/%d): %v", out.Attempts, MaxAttempts, err)
	}
	c.log.Warnf("Failed sending %q after %d attempts, giving up: %v", msg.Label, out.Attempts, out.Err)
	return out
}
