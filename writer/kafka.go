package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"fuelflow/config"
	"fuelflow/logger"
	"fuelflow/models"
)

// EventMessage is the Kafka payload: the events of one batch without the
// series, keyed by device so a device's events stay in one partition.
type EventMessage struct {
	BatchID     string         `json:"batch_id"`
	DeviceID    string         `json:"device_id"`
	From        time.Time      `json:"from"`
	To          time.Time      `json:"to"`
	Events      []models.Event `json:"events"`
	Labels      []string       `json:"labels"`
	ProcessedAt time.Time      `json:"processed_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaSink struct {
	writer messageWriter
	topic  string
	log    *logger.Log
}

func NewKafkaSink(cfg *config.Config) (*KafkaSink, error) {
	if len(cfg.Storage.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Storage.Kafka.Brokers...),
		Topic:        cfg.Storage.Kafka.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	logger.GetLogger().WithComponent("kafka_sink").WithFields(logger.Fields{
		"brokers": cfg.Storage.Kafka.Brokers,
		"topic":   cfg.Storage.Kafka.Topic,
	}).Info("kafka sink initialized")
	return &KafkaSink{writer: w, topic: cfg.Storage.Kafka.Topic, log: logger.GetLogger()}, nil
}

func (k *KafkaSink) Name() string { return "kafka_sink" }

func (k *KafkaSink) Close() error { return k.writer.Close() }

// Write publishes the batch events. Batches without events are skipped.
func (k *KafkaSink) Write(ctx context.Context, batch models.ResultBatch) (int64, error) {
	if len(batch.Events) == 0 {
		return 0, nil
	}
	msg, err := eventMessage(batch)
	if err != nil {
		return 0, err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return 0, fmt.Errorf("write to topic %s: %w", k.topic, err)
	}
	k.log.WithComponent("kafka_sink").WithFields(logger.Fields{
		"batch_id": batch.BatchID,
		"events":   len(batch.Events),
	}).Debug("events written to kafka")
	return int64(len(msg.Value)), nil
}

func eventMessage(batch models.ResultBatch) (kafka.Message, error) {
	labels := make([]string, len(batch.Events))
	for i, e := range batch.Events {
		labels[i] = e.Label()
	}
	data, err := json.Marshal(EventMessage{
		BatchID:     batch.BatchID,
		DeviceID:    batch.DeviceID,
		From:        batch.From,
		To:          batch.To,
		Events:      batch.Events,
		Labels:      labels,
		ProcessedAt: batch.ProcessedAt,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal events: %w", err)
	}
	return kafka.Message{
		Key:   []byte(batch.DeviceID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "batch_id", Value: []byte(batch.BatchID)},
			{Key: "event_count", Value: []byte(strconv.Itoa(len(batch.Events)))},
		},
		Time: batch.ProcessedAt,
	}, nil
}
