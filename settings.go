package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/buger/gorshift/shift"
)

// ErrUsage marks command line mistakes. They exit with status 2.
var ErrUsage = errors.New("usage error")

// Environment variable naming a default config file
const configEnv = "GORSHIFT_CONFIG"

const defaultTimeout = 30 * time.Second

type AppSettings struct {
	verbose bool

	file string
	pcap string
	text string

	shift      shift.Value
	configPath string

	timeout         time.Duration
	runTimeout      time.Duration
	followRedirects bool
	insecure        bool
	originalHost    bool

	modifierConfig HTTPModifierConfig

	outputKafka  KafkaConfig
	outputES     string
	outputSQLite string
	metrics      string
	stats        bool

	cpuprofile string
	memprofile string

	// flags given explicitly on the command line
	set map[string]bool
}

var Settings AppSettings = AppSettings{}

// Debug enables logging only if "--verbose" flag passed
func Debug(args ...interface{}) {
	if Settings.verbose {
		log.Print("[DEBUG] ", fmt.Sprint(args...))
	}
}

func (s *AppSettings) flagSet(output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("gorshift", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintln(output, "Usage: gorshift [options] (-f <access log> | --pcap <capture> | '<json access log>')")
		fs.PrintDefaults()
	}

	fs.BoolVar(&s.verbose, "verbose", false, "Turn on verbose/debug output")

	fs.StringVar(&s.file, "f", "", "Access log file, JSON array of records. Files ending with .gz or .zst are decompressed")
	fs.StringVar(&s.file, "file", "", "Same as -f")
	fs.StringVar(&s.pcap, "pcap", "", "Read requests from a pcap capture instead of a JSON access log")

	fs.Var(&s.shift, "shift", "Offset added to every recorded timestamp, e.g. 30s, 15m, 2h, 1d, 1w")
	fs.StringVar(&s.configPath, "config", os.Getenv(configEnv), "YAML config file, defaults to $"+configEnv+". Flags override file values")

	fs.DurationVar(&s.timeout, "timeout", defaultTimeout, "Per request timeout")
	fs.DurationVar(&s.runTimeout, "run-timeout", 0, "Cancel the whole run after this duration. Pending requests are reported as cancelled")
	fs.BoolVar(&s.followRedirects, "follow-redirects", false, "Follow up to 10 redirects instead of reporting the 3xx response")
	fs.BoolVar(&s.insecure, "insecure", false, "Skip TLS certificate verification")
	fs.BoolVar(&s.originalHost, "original-host", false, "Send the recorded Host header instead of the host from the URL")

	fs.Var(&s.modifierConfig.target, "output-host", "Replay against this host instead of the recorded one: `http://staging.example.com:8080`")
	fs.Var(&s.modifierConfig.methods, "http-allow-method", "Whitelist of HTTP methods to replay. Can be given multiple times")
	fs.Var(&s.modifierConfig.urlRegexp, "http-allow-url", "Replay only requests whose path and query match a regexp: `^/api`")
	fs.Var(&s.modifierConfig.urlNegativeRegexp, "http-disallow-url", "Skip requests whose path and query match a regexp: `^/admin`")
	fs.Var(&s.modifierConfig.urlRewrite, "http-rewrite-url", "Rewrite the request path and query: `/v1/user/([^\\/]+)/ping:/v2/user/$1/ping`")
	fs.Var(&s.modifierConfig.headerFilters, "http-allow-header", "Replay only requests whose header matches a regexp: `api-version:^v1`")
	fs.Var(&s.modifierConfig.headerHashFilters, "http-allow-header-hash", "Replay a consistent share of requests by header value: `user-id:25%`")
	fs.Var(&s.modifierConfig.headers, "http-set-header", "Set a request header, overriding the recorded one: `User-Agent: Gorshift`")

	fs.StringVar(&s.outputKafka.host, "output-kafka-host", "", "Publish outcomes to Kafka, comma separated broker list: `localhost:9092`")
	fs.StringVar(&s.outputKafka.topic, "output-kafka-topic", "", "Kafka topic for outcomes: `gorshift`")
	fs.BoolVar(&s.outputKafka.useJSON, "output-kafka-json", false, "Publish outcomes as JSON instead of raw HTTP payloads")

	fs.StringVar(&s.outputES, "output-es", "", "Index outcomes in ElasticSearch: `localhost:9200/gorshift`")
	fs.StringVar(&s.outputSQLite, "output-sqlite", "", "Store outcomes in a SQLite database file")
	fs.StringVar(&s.metrics, "metrics", "", "Serve Prometheus metrics on this address: `:9090`")

	fs.BoolVar(&s.stats, "stats", false, "Log replay progress every 5 seconds")

	fs.StringVar(&s.cpuprofile, "cpuprofile", "", "write cpu profile to file")
	fs.StringVar(&s.memprofile, "memprofile", "", "write memory profile to this file")

	return fs
}

// parseSettings reads the command line, then fills everything not given
// explicitly from the config file.
func parseSettings(args []string, output io.Writer) (*AppSettings, error) {
	s := &AppSettings{}
	fs := s.flagSet(output)

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	s.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		s.set[f.Name] = true
	})

	if len(positional) > 1 {
		return nil, fmt.Errorf("%w: expected at most one access log argument, got %d", ErrUsage, len(positional))
	}
	if len(positional) == 1 {
		s.text = positional[0]
	}

	if s.configPath != "" {
		config, err := LoadConfig(s.configPath)
		if err != nil {
			return nil, err
		}
		if err := s.apply(config); err != nil {
			return nil, err
		}
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// parseInterspersed lets flags follow positional arguments. flag.Parse
// stops at the first non-flag, so parsing resumes after each one until
// the arguments run out or a "--" terminator is reached.
func parseInterspersed(fs *flag.FlagSet, args []string) (positional []string, err error) {
	for {
		if err = fs.Parse(args); err != nil {
			return nil, err
		}

		consumed := len(args) - fs.NArg()
		if consumed > 0 && args[consumed-1] == "--" {
			return append(positional, fs.Args()...), nil
		}
		if fs.NArg() == 0 {
			return positional, nil
		}

		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func (s *AppSettings) validate() error {
	inputs := 0
	for _, v := range []string{s.file, s.pcap, s.text} {
		if v != "" {
			inputs++
		}
	}

	switch {
	case inputs == 0:
		return fmt.Errorf("%w: no access log given", ErrUsage)
	case inputs > 1:
		return fmt.Errorf("%w: only one of -f, --pcap or a literal access log may be given", ErrUsage)
	}

	if (s.outputKafka.host == "") != (s.outputKafka.topic == "") {
		return fmt.Errorf("%w: --output-kafka-host and --output-kafka-topic must be given together", ErrUsage)
	}

	if s.timeout < 0 || s.runTimeout < 0 {
		return fmt.Errorf("%w: timeouts can't be negative", ErrUsage)
	}

	return nil
}

// isSet reports whether any of the named flags was given on the command line.
func (s *AppSettings) isSet(names ...string) bool {
	for _, name := range names {
		if s.set[name] {
			return true
		}
	}
	return false
}
