package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type KafkaFileConfig struct {
	Host  string `yaml:"host"` // localhost:9092,localhost:9093
	Topic string `yaml:"topic"`
	JSON  bool   `yaml:"json"`
}

// FileConfig mirrors the command line flags. Every field is optional.
type FileConfig struct {
	Shift           string        `yaml:"shift"` // 2h, 1d, ...
	Timeout         time.Duration `yaml:"timeout"`
	RunTimeout      time.Duration `yaml:"run_timeout"`
	FollowRedirects bool          `yaml:"follow_redirects"`
	Insecure        bool          `yaml:"insecure"`
	OriginalHost    bool          `yaml:"original_host"`
	Verbose         bool          `yaml:"verbose"`

	Kafka         KafkaFileConfig `yaml:"kafka"`
	Elasticsearch string          `yaml:"elasticsearch"` // localhost:9200/gorshift
	SQLite        string          `yaml:"sqlite"`
	Metrics       string          `yaml:"metrics"` // :9090
	Stats         bool            `yaml:"stats"`
}

func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c FileConfig
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return &c, nil
}

// apply copies config values into settings that were not given as flags.
func (s *AppSettings) apply(c *FileConfig) error {
	if c.Shift != "" && !s.isSet("shift") {
		if err := s.shift.Set(c.Shift); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	if c.Timeout != 0 && !s.isSet("timeout") {
		s.timeout = c.Timeout
	}
	if c.RunTimeout != 0 && !s.isSet("run-timeout") {
		s.runTimeout = c.RunTimeout
	}
	if !s.isSet("follow-redirects") {
		s.followRedirects = c.FollowRedirects
	}
	if !s.isSet("insecure") {
		s.insecure = c.Insecure
	}
	if !s.isSet("original-host") {
		s.originalHost = c.OriginalHost
	}
	if !s.isSet("verbose") {
		s.verbose = c.Verbose
	}

	if c.Kafka.Host != "" && !s.isSet("output-kafka-host") {
		s.outputKafka.host = c.Kafka.Host
	}
	if c.Kafka.Topic != "" && !s.isSet("output-kafka-topic") {
		s.outputKafka.topic = c.Kafka.Topic
	}
	if !s.isSet("output-kafka-json") {
		s.outputKafka.useJSON = c.Kafka.JSON
	}

	if c.Elasticsearch != "" && !s.isSet("output-es") {
		s.outputES = c.Elasticsearch
	}
	if c.SQLite != "" && !s.isSet("output-sqlite") {
		s.outputSQLite = c.SQLite
	}
	if c.Metrics != "" && !s.isSet("metrics") {
		s.metrics = c.Metrics
	}

	if !s.isSet("stats") {
		s.stats = c.Stats
	}

	return nil
}
