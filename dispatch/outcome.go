package dispatch

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/buger/gorshift/accesslog"
)

// Kind classifies how a scheduled request ended.
type Kind int

const (
	Succeeded Kind = iota
	DeadlineElapsed
	TransportFailed
	Cancelled
)

var kindNames = [...]string{
	Succeeded:       "succeeded",
	DeadlineElapsed: "deadline_elapsed",
	TransportFailed: "transport_error",
	Cancelled:       "cancelled",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

var (
	ErrDeadlineElapsed = errors.New("deadline elapsed")
	ErrCancelled       = errors.New("replay cancelled")
)

// DeadlineElapsedError is reported for records whose fire time had already
// passed when their task started. No request is sent for them.
type DeadlineElapsedError struct {
	Deadline time.Time
	Late     time.Duration
}

func (e *DeadlineElapsedError) Error() string {
	return fmt.Sprintf("cannot send a request in the past: scheduled for %s, %s late", accesslog.FormatTime(e.Deadline), e.Late)
}

func (e *DeadlineElapsedError) Is(target error) bool {
	return target == ErrDeadlineElapsed
}

// TransportError wraps connection and protocol failures. A non-2xx status
// is a response, never a TransportError.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return "request error: " + e.Method + " " + e.URL + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CancelledError carries the context error that stopped a pending task.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	return ErrCancelled.Error() + ": " + e.Err.Error()
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}

func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

// Response is the part of an HTTP response kept in an Outcome.
type Response struct {
	StatusCode    int
	Status        string
	Proto         string
	ContentLength int64
	Header        http.Header
}

// Outcome is the result of one scheduled request.
type Outcome struct {
	Index    int
	Record   accesslog.Record
	Deadline time.Time
	Kind     Kind
	Response *Response
	Err      error

	// Started is zero when no request was sent
	Started  time.Time
	Finished time.Time
}

func (o Outcome) Failed() bool {
	return o.Kind != Succeeded
}

// Latency is the round trip time of the sent request.
func (o Outcome) Latency() time.Duration {
	if o.Started.IsZero() || o.Finished.IsZero() {
		return 0
	}
	return o.Finished.Sub(o.Started)
}

// Lateness is how long after its deadline the request actually went out.
func (o Outcome) Lateness() time.Duration {
	if o.Started.IsZero() {
		return 0
	}
	return o.Started.Sub(o.Deadline)
}

func (o Outcome) String() string {
	head := fmt.Sprintf("#%d %s %s at %s", o.Index, o.Record.Method, o.Record.URL, accesslog.FormatTime(o.Deadline))

	if o.Kind == Succeeded && o.Response != nil {
		return fmt.Sprintf("%s: %s %s (%s)", head, o.Response.Proto, o.Response.Status, o.Latency())
	}

	return fmt.Sprintf("%s: %s: %v", head, o.Kind, o.Err)
}

// ResponseAnalyzer receives every outcome as soon as its task finishes.
// Implementations are called from many goroutines at once.
type ResponseAnalyzer interface {
	ResponseAnalyze(Outcome)
}
