package main

import (
	"github.com/Shopify/sarama"

	"github.com/buger/gorshift/accesslog"
	"github.com/buger/gorshift/dispatch"
)

// KafkaConfig should contains required information to
// build producers.
type KafkaConfig struct {
	host     string
	topic    string
	useJSON  bool
	producer sarama.AsyncProducer
}

// KafkaMessage should contains replayed request information that should be
// passed as Json to Apache Kafka.
type KafkaMessage struct {
	ID         string            `json:"ID"`
	ReqURL     string            `json:"Req_URL"`
	ReqMethod  string            `json:"Req_Method"`
	ReqBody    string            `json:"Req_Body,omitempty"`
	ReqHeaders map[string]string `json:"Req_Headers,omitempty"`
	// Recorded access time
	ReqTs    string `json:"Req_Ts"`
	Deadline string `json:"Deadline"`

	Outcome        string `json:"Outcome"`
	RespStatusCode int    `json:"Resp_Status-Code,omitempty"`
	RespProto      string `json:"Resp_Proto,omitempty"`
	Error          string `json:"Error,omitempty"`

	// Milliseconds
	RTT      int64 `json:"RTT"`
	Lateness int64 `json:"Lateness"`
}

func newKafkaMessage(id string, o dispatch.Outcome) KafkaMessage {
	m := KafkaMessage{
		ID:         id,
		ReqURL:     o.Record.URL.String(),
		ReqMethod:  o.Record.Method,
		ReqBody:    o.Record.Body,
		ReqHeaders: o.Record.Header,
		ReqTs:      accesslog.FormatTime(o.Record.AccessedAt),
		Deadline:   accesslog.FormatTime(o.Deadline),
		Outcome:    o.Kind.String(),
		RTT:        o.Latency().Milliseconds(),
		Lateness:   o.Lateness().Milliseconds(),
	}

	if o.Response != nil {
		m.RespStatusCode = o.Response.StatusCode
		m.RespProto = o.Response.Proto
	}
	if o.Err != nil {
		m.Error = o.Err.Error()
	}

	return m
}
