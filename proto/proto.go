// Low-level interaction with HTTP/1.x payloads.
//
// Replayed records are rendered to wire format with Dump so they can be
// shipped to byte oriented outputs.
package proto

import (
	"bytes"
	"net/http"
	"sort"
	"strconv"

	"github.com/buger/gorshift/accesslog"
)

var CLRF = []byte("\r\n")
var HeaderDelim = []byte(": ")

// Payload types, written as the first byte of a meta line
const (
	RequestPayload          = '1'
	ResponsePayload         = '2'
	ReplayedResponsePayload = '3'
)

// Meta prefixes payloads in byte oriented outputs:
//
//	<type> <id> <unix nanoseconds>\n
func Meta(payloadType byte, id string, timestamp int64) []byte {
	b := make([]byte, 0, len(id)+24)
	b = append(b, payloadType, ' ')
	b = append(b, id...)
	b = append(b, ' ')
	b = strconv.AppendInt(b, timestamp, 10)
	return append(b, '\n')
}

// Dump renders a record as an HTTP/1.1 request. Headers are sorted so the
// output is stable.
func Dump(rec accesslog.Record) []byte {
	var b bytes.Buffer

	uri := rec.URL.RequestURI()

	b.WriteString(rec.Method)
	b.WriteByte(' ')
	b.WriteString(uri)
	b.WriteString(" HTTP/1.1")
	b.Write(CLRF)

	names := make([]string, 0, len(rec.Header))
	hasHost := false
	for name := range rec.Header {
		if http.CanonicalHeaderKey(name) == "Host" {
			hasHost = true
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if !hasHost {
		writeHeader(&b, "Host", rec.URL.Host)
	}
	for _, name := range names {
		if http.CanonicalHeaderKey(name) == "Content-Length" {
			continue
		}
		writeHeader(&b, name, rec.Header[name])
	}
	if len(rec.Body) > 0 {
		writeHeader(&b, "Content-Length", strconv.Itoa(len(rec.Body)))
	}

	b.Write(CLRF)
	b.WriteString(rec.Body)

	return b.Bytes()
}

// DumpResponse renders a response head. Replayed bodies are not kept.
func DumpResponse(protoVersion, status string, header http.Header) []byte {
	var b bytes.Buffer

	b.WriteString(protoVersion)
	b.WriteByte(' ')
	b.WriteString(status)
	b.Write(CLRF)

	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, v := range header[name] {
			writeHeader(&b, name, v)
		}
	}

	b.Write(CLRF)

	return b.Bytes()
}

func writeHeader(b *bytes.Buffer, name, value string) {
	b.WriteString(name)
	b.Write(HeaderDelim)
	b.WriteString(value)
	b.Write(CLRF)
}
