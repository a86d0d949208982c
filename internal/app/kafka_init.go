package app

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fluidstore/internal/messaging/kafka"
)

// kafkaRuntime держит producer и consumer витрины. Любая часть может быть nil:
// без брокеров outbox копится в хранилище, а дашборд обновляется локально.
type kafkaRuntime struct {
	producer *kafka.Producer
	consumer *kafka.Consumer
	logger   *log.Entry
}

// producerFactory подменяется в тестах.
var producerFactory = kafka.NewProducer

// connectKafka поднимает producer. Ошибка подключения не фатальна: витрина продолжает без Kafka.
func connectKafka(cfg Config, logger *log.Entry) *kafkaRuntime {
	rt := &kafkaRuntime{logger: logger.WithField("layer", "kafka")}
	brokers := cfg.KafkaBrokerList()
	if len(brokers) == 0 {
		return rt
	}

	producer, err := producerFactory(brokers, cfg.KafkaClientID)
	if err != nil {
		rt.logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return rt
	}
	rt.producer = producer
	rt.logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return rt
}

func (rt *kafkaRuntime) publishing() bool { return rt.producer != nil }

// subscribe подписывает sink на события заказов; DLQ пишется тем же producer.
func (rt *kafkaRuntime) subscribe(ctx context.Context, cfg Config, sink kafka.OrderEventSink) {
	brokers := cfg.KafkaBrokerList()
	if len(brokers) == 0 {
		return
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: brokers,
		GroupID: cfg.KafkaGroupID,
		Topics:  []string{kafka.TopicOrderEvents},
	}, kafka.OrderEventHandler(sink), rt.producer)
	if err != nil {
		rt.logger.WithError(err).Warn("failed to create kafka consumer, backoffice will rely on local refresh")
		return
	}
	if err := consumer.Start(ctx); err != nil {
		rt.logger.WithError(err).Warn("failed to start kafka consumer")
		_ = consumer.Stop()
		return
	}
	rt.consumer = consumer
	rt.logger.WithField("group", cfg.KafkaGroupID).Info("kafka consumer started")
}

// Close останавливает consumer раньше producer: он пишет в DLQ через producer.
func (rt *kafkaRuntime) Close() error {
	var errs []error
	if rt.consumer != nil {
		if err := rt.consumer.Stop(); err != nil {
			errs = append(errs, err)
		}
		rt.consumer = nil
	}
	if rt.producer != nil {
		if err := rt.producer.Close(); err != nil {
			errs = append(errs, err)
		}
		rt.producer = nil
	}
	return errors.Join(errs...)
}
