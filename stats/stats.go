package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/buger/gorshift/dispatch"
)

// RequestStat aggregates outcomes, either for one path or for the whole run
type RequestStat struct {
	// { "200": 10, "404": 2, "deadline_elapsed": 1 }
	Codes map[string]int

	Count  int // All outcomes
	Sent   int // Requests that actually went out
	Failed int

	// Milliseconds, over sent requests only
	AvgLat float64
	MaxLat float64
	MinLat float64

	// Milliseconds between deadline and actual send
	MaxLate float64

	mu sync.Mutex
}

func NewRequestStat() *RequestStat {
	return &RequestStat{Codes: make(map[string]int)}
}

// Code is the statistics bucket of an outcome: the status code for
// responses and the outcome kind for failures
func Code(o dispatch.Outcome) string {
	if o.Kind == dispatch.Succeeded && o.Response != nil {
		return strconv.Itoa(o.Response.StatusCode)
	}
	return o.Kind.String()
}

// IncResp is called once per finished outcome
func (s *RequestStat) IncResp(o dispatch.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Count++
	s.Codes[Code(o)]++

	if o.Failed() {
		s.Failed++
	}

	if o.Started.IsZero() || o.Kind == dispatch.Cancelled {
		return
	}

	s.Sent++

	latency := float64(o.Latency()) / float64(time.Millisecond)

	if s.Sent == 1 || latency < s.MinLat {
		s.MinLat = latency
	}
	if latency > s.MaxLat {
		s.MaxLat = latency
	}
	s.AvgLat = s.AvgLat + (latency-s.AvgLat)/float64(s.Sent)

	if late := float64(o.Lateness()) / float64(time.Millisecond); late > s.MaxLate {
		s.MaxLate = late
	}
}

// MarshalJSON encodes a consistent snapshot of the counters
func (s *RequestStat) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return json.Marshal(struct {
		Codes   map[string]int
		Count   int
		Sent    int
		Failed  int
		AvgLat  float64
		MaxLat  float64
		MinLat  float64
		MaxLate float64
	}{s.Codes, s.Count, s.Sent, s.Failed, s.AvgLat, s.MaxLat, s.MinLat, s.MaxLate})
}

func (s *RequestStat) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	codes := make([]string, 0, len(s.Codes))
	for code := range s.Codes {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	out := fmt.Sprintf("Requests: %d Sent: %d Failed: %d", s.Count, s.Sent, s.Failed)
	for _, code := range codes {
		out += fmt.Sprintf(" %s: %d", code, s.Codes[code])
	}
	return out
}

// PeriodStats keeps stats of one replay run, per URL path and in total.
// It implements dispatch.ResponseAnalyzer.
type PeriodStats struct {
	Timestamp int64

	PathStats map[string]*RequestStat

	TotalStats *RequestStat

	mu sync.Mutex
}

func NewPeriodStats() *PeriodStats {
	return &PeriodStats{
		Timestamp:  time.Now().Unix(),
		PathStats:  make(map[string]*RequestStat),
		TotalStats: NewRequestStat(),
	}
}

// URLStat returns stats for a path, creating them on first use
func (s *PeriodStats) URLStat(path string) *RequestStat {
	s.mu.Lock()
	defer s.mu.Unlock()

	stat, ok := s.PathStats[path]
	if !ok {
		stat = NewRequestStat()
		s.PathStats[path] = stat
	}

	return stat
}

func (s *PeriodStats) ResponseAnalyze(o dispatch.Outcome) {
	path := "/"
	if o.Record.URL != nil && o.Record.URL.Path != "" {
		path = o.Record.URL.Path
	}

	s.URLStat(path).IncResp(o)
	s.TotalStats.IncResp(o)
}

// Encode returns stats as one JSON line
func (s *PeriodStats) Encode() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, _ := json.Marshal(s)
	return data
}

func (s *PeriodStats) String() string {
	return fmt.Sprint(s.TotalStats)
}

// WriteTable prints per path and total stats as aligned columns
func (s *PeriodStats) WriteTable(w io.Writer) error {
	s.mu.Lock()
	paths := make([]string, 0, len(s.PathStats))
	for path := range s.PathStats {
		paths = append(paths, path)
	}
	s.mu.Unlock()

	sort.Strings(paths)

	tw := new(tabwriter.Writer)
	tw.Init(w, 0, 8, 2, ' ', 0)

	fmt.Fprintln(tw, "Path\tRequests\tSent\tFailed\tAvg Lat\tMax Lat\tMin Lat\tMax Late\t")

	row := func(name string, stat *RequestStat) {
		stat.mu.Lock()
		defer stat.mu.Unlock()
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.2fms\t%.2fms\t%.2fms\t%.2fms\t\n", name, stat.Count, stat.Sent, stat.Failed, stat.AvgLat, stat.MaxLat, stat.MinLat, stat.MaxLate)
	}

	for _, path := range paths {
		row(path, s.URLStat(path))
	}
	row("All", s.TotalStats)

	return tw.Flush()
}
