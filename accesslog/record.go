// Package accesslog holds the in-memory form of a recorded HTTP access and
// the decoders that build it from JSON logs and packet captures.
package accesslog

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the only accepted accessed_at format. A fractional second
// part after the seconds is optional.
const TimeLayout = "2006-01-02 15:04:05 UTC"

// Methods recognized as HTTP verbs.
var Methods = []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "CONNECT", "OPTIONS", "TRACE"}

// ErrDecode is matched by every *DecodeError.
var ErrDecode = errors.New("access log decode error")

// DecodeError reports the first record that could not be decoded.
type DecodeError struct {
	// Index of the offending record, -1 if the document itself is broken
	Index int
	Field string
	Value string
	Err   error
}

func (e *DecodeError) Error() string {
	var b strings.Builder

	b.WriteString("access log")
	if e.Index >= 0 {
		b.WriteString(" record ")
		b.WriteString(strconv.Itoa(e.Index))
	}
	if e.Field != "" {
		b.WriteString(" field ")
		b.WriteString(e.Field)
	}
	if e.Value != "" {
		b.WriteString(" value ")
		b.WriteString(strconv.Quote(e.Value))
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())

	return b.String()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// RawRecord is a record as it appears in the JSON log, before validation.
type RawRecord struct {
	AccessedAt string            `json:"accessed_at"`
	URL        string            `json:"url"`
	Method     string            `json:"http_method"`
	Header     map[string]string `json:"http_header"`
	Body       string            `json:"http_body"`
}

// Record is one validated recorded access. Records are never mutated after
// construction.
type Record struct {
	AccessedAt time.Time
	Method     string
	URL        *url.URL
	Header     map[string]string
	Body       string
}

// NewRecord validates raw fields. The returned error is always a
// *DecodeError with Index set to -1; decoders fill the index in.
func NewRecord(raw RawRecord) (Record, error) {
	at, err := ParseTime(raw.AccessedAt)
	if err != nil {
		return Record{}, &DecodeError{Index: -1, Field: "accessed_at", Value: raw.AccessedAt, Err: err}
	}

	return newRecord(at, raw.Method, raw.URL, raw.Header, raw.Body)
}

func newRecord(at time.Time, method, rawURL string, header map[string]string, body string) (Record, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return Record{}, &DecodeError{Index: -1, Field: "url", Value: rawURL, Err: err}
	}

	if !validMethod(method) {
		return Record{}, &DecodeError{Index: -1, Field: "http_method", Value: method, Err: errors.New("not a recognized HTTP method")}
	}

	h := make(map[string]string, len(header))
	for k, v := range header {
		h[k] = v
	}

	return Record{
		AccessedAt: at.UTC(),
		Method:     method,
		URL:        u,
		Header:     h,
		Body:       body,
	}, nil
}

// ParseTime parses "YYYY-MM-DD HH:MM:SS[.fraction] UTC".
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, errors.New("date and time format is not correct, expected YYYY-MM-DD HH:MM:SS[.fraction] UTC")
	}
	return t, nil
}

// FormatTime is the inverse of ParseTime, keeping millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000 UTC")
}

func parseURL(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}

	if !u.IsAbs() || u.Host == "" {
		return nil, errors.New("url must be absolute, with scheme and host")
	}

	return u, nil
}

func validMethod(m string) bool {
	for _, method := range Methods {
		if m == method {
			return true
		}
	}
	return false
}

// Raw converts the record back into its log representation.
func (r Record) Raw() RawRecord {
	h := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		h[k] = v
	}

	return RawRecord{
		AccessedAt: FormatTime(r.AccessedAt),
		URL:        r.URL.String(),
		Method:     r.Method,
		Header:     h,
		Body:       r.Body,
	}
}

// Equal compares records field by field.
func (r Record) Equal(o Record) bool {
	if !r.AccessedAt.Equal(o.AccessedAt) || r.Method != o.Method || r.Body != o.Body {
		return false
	}

	if (r.URL == nil) != (o.URL == nil) || (r.URL != nil && r.URL.String() != o.URL.String()) {
		return false
	}

	if len(r.Header) != len(o.Header) {
		return false
	}
	for k, v := range r.Header {
		if ov, ok := o.Header[k]; !ok || ov != v {
			return false
		}
	}

	return true
}
