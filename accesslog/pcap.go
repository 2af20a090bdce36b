package accesslog

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// DecodePcapFile is DecodePcap for a capture stored on disk.
func DecodePcapFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()

	return DecodePcap(f)
}

// DecodePcap turns a libpcap capture into records. Every TCP segment whose
// payload holds a complete HTTP/1.x request becomes one record stamped with
// the capture time. Other segments are skipped.
func DecodePcap(r io.Reader) ([]Record, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, &DecodeError{Index: -1, Err: fmt.Errorf("not a pcap capture: %w", err)}
	}

	linkType := reader.LinkType()

	var records []Record

	for n := 0; ; n++ {
		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, &DecodeError{Index: n, Err: err}
		}

		packet := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

		tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if !ok || len(tcp.Payload) == 0 {
			continue
		}

		req, body, ok := readRequest(tcp.Payload)
		if !ok {
			continue
		}

		// Proxy requests carry an absolute URL in the request line
		target := req.URL.String()
		if !req.URL.IsAbs() {
			host := req.Host
			if host == "" {
				nl := packet.NetworkLayer()
				if nl == nil {
					continue
				}
				host = net.JoinHostPort(nl.NetworkFlow().Dst().String(), strconv.Itoa(int(tcp.DstPort)))
			}
			target = "http://" + host + req.RequestURI
		}

		rec, err := newRecord(ci.Timestamp, req.Method, target, flattenHeader(req.Header), body)
		if err != nil {
			if de, ok := err.(*DecodeError); ok {
				de.Index = n
			}
			return nil, err
		}

		records = append(records, rec)
	}

	return records, nil
}

func readRequest(payload []byte) (*http.Request, string, bool) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(payload)))
	if err != nil {
		return nil, "", false
	}
	defer req.Body.Close()

	// Segment cut before the announced body end
	body, err := ioutil.ReadAll(req.Body)
	if err != nil {
		return nil, "", false
	}

	return req, string(body), true
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}
