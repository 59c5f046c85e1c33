package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string // entries go to <prefix>.<path>
	ClientID    string
	Timeout     time.Duration // network and broker ack timeout; 0 keeps sarama's defaults
}

// kafkaMaxMessageBytes leaves room for full-resolution JPEG frames.
const kafkaMaxMessageBytes = 16 << 20

// kafkaPartition is the only partition written. Offsets are ordered within a
// partition, so a single one keeps "<partition>-<offset>" keys monotonic on
// multi-partition topics.
const kafkaPartition int32 = 0

// KafkaSink writes entries with a synchronous producer. The key is the
// broker-assigned "<partition>-<offset>".
type KafkaSink struct {
	producer sarama.SyncProducer
	prefix   string
}

func newKafkaConfig(clientID string, timeout time.Duration) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	// Retries are handled by the upload worker.
	cfg.Producer.Retry.Max = 0
	cfg.Producer.MaxMessageBytes = kafkaMaxMessageBytes
	cfg.Producer.Partitioner = sarama.NewManualPartitioner
	// SendMessage takes no context; these bound a push instead.
	if timeout > 0 {
		cfg.Net.DialTimeout = timeout
		cfg.Net.ReadTimeout = timeout
		cfg.Net.WriteTimeout = timeout
		cfg.Producer.Timeout = timeout
	}
	return cfg
}

// NewKafkaSink connects a sync producer to brokers.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, newKafkaConfig(cfg.ClientID, cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &KafkaSink{producer: producer, prefix: cfg.TopicPrefix}, nil
}

func (k *KafkaSink) topic(path string) string {
	if k.prefix == "" {
		return path
	}
	return k.prefix + "." + path
}

func (k *KafkaSink) message(path string, payload []byte) *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic:     k.topic(path),
		Key:       sarama.StringEncoder(path),
		Value:     sarama.ByteEncoder(payload),
		Partition: kafkaPartition,
	}
}

func (k *KafkaSink) Push(ctx context.Context, path string, entry LogEntry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	payload, err := encodeEnvelope(path, "", entry, time.Now())
	if err != nil {
		return "", err
	}
	partition, offset, err := k.producer.SendMessage(k.message(path, payload))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%d", partition, offset), nil
}

func (k *KafkaSink) Close() error {
	return k.producer.Close()
}
