package main

import (
	"context"
	"log"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/buger/gorshift/dispatch"
)

// GorStat logs replay progress every rateMs milliseconds:
//
//	name:latest,mean,max,count,count/second,goroutines
//
// Latencies are in milliseconds. Counters are reset after every report.
type GorStat struct {
	statName string
	rateMs   int
	latest   int
	mean     int
	max      int
	count    int

	mu sync.Mutex
}

func NewGorStat(statName string, rateMs int) (s *GorStat) {
	s = new(GorStat)
	s.statName = statName
	s.rateMs = rateMs
	return
}

func (s *GorStat) Write(latest int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if latest > s.max {
		s.max = latest
	}
	if latest != 0 {
		s.mean = ((s.mean * s.count) + latest) / (s.count + 1)
	}
	s.latest = latest
	s.count = s.count + 1
}

func (s *GorStat) ResponseAnalyze(o dispatch.Outcome) {
	s.Write(int(o.Latency().Milliseconds()))
}

func (s *GorStat) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = 0
	s.max = 0
	s.mean = 0
	s.count = 0
}

func (s *GorStat) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	perSecond := s.count * 1000 / s.rateMs

	return s.statName + ":" + strconv.Itoa(s.latest) + "," + strconv.Itoa(s.mean) + "," + strconv.Itoa(s.max) + "," + strconv.Itoa(s.count) + "," + strconv.Itoa(perSecond) + "," + strconv.Itoa(runtime.NumGoroutine())
}

// reportStats logs until ctx is done
func (s *GorStat) reportStats(ctx context.Context) {
	log.Println(s.statName + ":latest,mean,max,count,count/second,gcount")

	ticker := time.NewTicker(time.Duration(s.rateMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Println(s)
			s.Reset()
		}
	}
}
