package main

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Shopify/sarama"

	"github.com/buger/gorshift/dispatch"
	"github.com/buger/gorshift/proto"
)

// KafkaOutputFrequency in milliseconds
const KafkaOutputFrequency = 500

// KafkaOutput publishes every outcome to a Kafka topic.
//
// Raw mode sends the request as HTTP/1.1 wire text behind a meta line,
// followed by a second message with the replayed response if there was one.
// JSON mode sends a single KafkaMessage per outcome.
type KafkaOutput struct {
	runID    string
	config   *KafkaConfig
	producer sarama.AsyncProducer
}

// NewKafkaOutput creates instance of kafka producer client.
func NewKafkaOutput(runID string, config *KafkaConfig) (*KafkaOutput, error) {
	producer := config.producer

	if producer == nil {
		c := sarama.NewConfig()
		c.Producer.RequiredAcks = sarama.WaitForLocal
		c.Producer.Compression = sarama.CompressionSnappy
		c.Producer.Flush.Frequency = KafkaOutputFrequency * time.Millisecond

		brokerList := strings.Split(config.host, ",")

		var err error
		producer, err = sarama.NewAsyncProducer(brokerList, c)
		if err != nil {
			return nil, fmt.Errorf("start kafka producer: %w", err)
		}
	}

	o := &KafkaOutput{
		runID:    runID,
		config:   config,
		producer: producer,
	}

	// Errors channel must be drained or the producer stalls
	go o.ErrorHandler()

	return o, nil
}

// ErrorHandler should receive errors
func (o *KafkaOutput) ErrorHandler() {
	for err := range o.producer.Errors() {
		log.Println("Failed to publish outcome:", err)
	}
}

func (o *KafkaOutput) ResponseAnalyze(out dispatch.Outcome) {
	id := outcomeID(o.runID, out.Index)

	if o.config.useJSON {
		jsonMessage, err := json.Marshal(newKafkaMessage(id, out))
		if err != nil {
			log.Println("Failed to encode outcome:", err)
			return
		}
		o.send(id, jsonMessage)
		return
	}

	req := append(proto.Meta(proto.RequestPayload, id, out.Deadline.UnixNano()), proto.Dump(out.Record)...)
	o.send(id, req)

	if out.Response != nil {
		resp := append(
			proto.Meta(proto.ReplayedResponsePayload, id, out.Finished.UnixNano()),
			proto.DumpResponse(out.Response.Proto, out.Response.Status, out.Response.Header)...,
		)
		o.send(id, resp)
	}
}

// Messages of one outcome share a key and so a partition
func (o *KafkaOutput) send(id string, data []byte) {
	o.producer.Input() <- &sarama.ProducerMessage{
		Topic: o.config.topic,
		Key:   sarama.StringEncoder(id),
		Value: sarama.ByteEncoder(data),
	}
}

func (o *KafkaOutput) Close() error {
	return o.producer.Close()
}
