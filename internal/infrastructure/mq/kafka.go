package mq

import (
	"log"

	"voucherledger/internal/config"

	"github.com/IBM/sarama"
)

// Producer wraps a sarama sync producer so the outbox sender can be tested
// against a fake.
type Producer interface {
	Send(topic, key, value string) error
	Close() error
}

type kafkaProducer struct {
	producer sarama.SyncProducer
}

// InitKafka creates the notification producer. All-replica acks: a
// notification marked SENT must actually have been accepted by the broker.
func InitKafka(cfg *config.KafkaConfig) Producer {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		log.Fatalf("creating kafka producer: %v", err)
	}

	return &kafkaProducer{producer: producer}
}

func (p *kafkaProducer) Send(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *kafkaProducer) Close() error {
	return p.producer.Close()
}
