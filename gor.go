// Gorshift replays recorded HTTP access logs against live servers, firing
// every request at its original wall-clock moment moved by a fixed offset.
//
// Basic usage:
//
//	gorshift --shift 1d -f access_log.json
//	gorshift --shift 2h '[{"accessed_at": "2017-01-01 00:00:00 UTC", "url": "http://example.com/", "http_method": "GET"}]'
//	gorshift --pcap capture.pcap --output-sqlite outcomes.db
//
// For more help run:
//
//	gorshift -h
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"runtime/pprof"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/buger/gorshift/accesslog"
	"github.com/buger/gorshift/dispatch"
	"github.com/buger/gorshift/stats"
)

const (
	VERSION = "0.1"
)

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	defer recoverPanic(os.Stderr, os.Exit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	os.Exit(code)
}

// recoverPanic prints the stack of a panic and exits with a failure code.
// It must be deferred directly.
func recoverPanic(w io.Writer, exit func(int)) {
	if r := recover(); r != nil {
		fmt.Fprintf(w, "PANIC: pkg: %v %s \n", r, debug.Stack())
		exit(exitFailure)
	}
}

// outcomeID keys an outcome in every output: <run id>-<input index>
func outcomeID(runID string, index int) string {
	return runID + "-" + strconv.Itoa(index)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	settings, err := parseSettings(args, stderr)
	if err != nil {
		if errors.Is(err, ErrUsage) {
			fmt.Fprintln(stderr, err)
			return exitUsage
		}
		fmt.Fprintln(stderr, "Error:", err)
		return exitFailure
	}
	Settings = *settings

	if settings.cpuprofile != "" {
		stopProfile, err := profileCPU(settings.cpuprofile)
		if err != nil {
			log.Println("Can't start CPU profile:", err)
		} else {
			defer stopProfile()
		}
	}
	if settings.memprofile != "" {
		defer profileMEM(settings.memprofile)
	}

	records, err := loadRecords(settings)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitFailure
	}

	records = NewHTTPModifier(&settings.modifierConfig).Apply(records)

	runID := uuid.NewString()
	Debug("Run ", runID, ": ", len(records), " records, shift ", settings.shift.String())

	plugins, err := InitPlugins(ctx, settings, runID)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitFailure
	}
	defer plugins.Close()

	outcomes := replay(ctx, settings, records, plugins)
	Debug("Stats: ", string(plugins.Stats.Encode()))

	return report(stdout, outcomes, plugins.Stats)
}

func loadRecords(settings *AppSettings) ([]accesslog.Record, error) {
	switch {
	case settings.file != "":
		return accesslog.DecodeFile(settings.file)
	case settings.pcap != "":
		return accesslog.DecodePcapFile(settings.pcap)
	default:
		return accesslog.DecodeString(settings.text)
	}
}

func replay(ctx context.Context, settings *AppSettings, records []accesslog.Record, plugins *OutputPlugins) []dispatch.Outcome {
	if settings.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.runTimeout)
		defer cancel()
	}

	if len(records) > 0 {
		now := time.Now()
		first := records[0].AccessedAt.Add(settings.shift.Duration)
		last := records[len(records)-1].AccessedAt.Add(settings.shift.Duration)
		Debug("First request ", stats.TimeInWords(first.Sub(now)), ", last ", stats.TimeInWords(last.Sub(now)))
	}

	if plugins.Metrics != nil {
		plugins.Metrics.Scheduled(len(records))
	}

	sender := dispatch.NewHTTPSender(&dispatch.HTTPSenderConfig{
		Timeout:            settings.timeout,
		FollowRedirects:    settings.followRedirects,
		InsecureSkipVerify: settings.insecure,
		OriginalHost:       settings.originalHost,
	})

	engine := dispatch.New(sender,
		dispatch.WithAnalyzers(plugins.Analyzers...),
		dispatch.WithDebug(Debug),
	)

	return engine.Run(ctx, records, settings.shift.Duration)
}

func profileCPU(cpuprofile string) (func(), error) {
	f, err := os.Create(cpuprofile)
	if err != nil {
		return nil, err
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, err
	}

	return func() {
		pprof.StopCPUProfile()
		f.Close()
	}, nil
}

func profileMEM(memprofile string) {
	f, err := os.Create(memprofile)
	if err != nil {
		log.Println("Can't write memory profile:", err)
		return
	}
	defer f.Close()

	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Println("Can't write memory profile:", err)
	}
}
