// Package redpanda provides Kafka-compatible streaming with franz-go.
package redpanda

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/careloop/go-medtrack/internal/domain/prescription"
)

// Topic names for the adherence engine.
const (
	// TopicPrescriptionEvents carries lifecycle events (created,
	// updated, deleted, completed).
	TopicPrescriptionEvents = "prescription.events"
	// TopicMedicationReminders carries ReminderDue events emitted by
	// the scanner.
	TopicMedicationReminders = "medication.reminders"
	// TopicMedicationDoses carries DoseTaken events.
	TopicMedicationDoses = "medication.doses"
	// TopicDeadLetter receives outbox entries that exhausted retries.
	TopicDeadLetter = "dead.letter"
)

// TopicForEvent maps a domain event type to its topic.
func TopicForEvent(t prescription.EventType) string {
	switch t {
	case prescription.EventDoseTaken:
		return TopicMedicationDoses
	case prescription.EventReminderDue:
		return TopicMedicationReminders
	default:
		return TopicPrescriptionEvents
	}
}

// TopicConfig holds configuration for a Kafka topic.
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]*string
}

// DefaultTopicConfigs returns the topic set for the adherence engine.
func DefaultTopicConfigs() []TopicConfig {
	ptr := func(s string) *string { return &s }

	eventConfigs := map[string]*string{
		"retention.ms":     ptr("604800000"), // 7 days
		"cleanup.policy":   ptr("delete"),
		"compression.type": ptr("lz4"),
	}
	shortConfigs := map[string]*string{
		"retention.ms":     ptr("172800000"), // 2 days; reminders age out fast
		"cleanup.policy":   ptr("delete"),
		"compression.type": ptr("lz4"),
	}

	return []TopicConfig{
		{
			Name:              TopicPrescriptionEvents,
			Partitions:        6,
			ReplicationFactor: 1, // Set to 3 in production
			Configs:           eventConfigs,
		},
		{
			Name:              TopicMedicationReminders,
			Partitions:        6,
			ReplicationFactor: 1,
			Configs:           shortConfigs,
		},
		{
			Name:              TopicMedicationDoses,
			Partitions:        6,
			ReplicationFactor: 1,
			Configs:           eventConfigs,
		},
		{
			Name:              TopicDeadLetter,
			Partitions:        1,
			ReplicationFactor: 1,
			Configs: map[string]*string{
				"retention.ms":   ptr("2592000000"), // 30 days for inspection
				"cleanup.policy": ptr("delete"),
			},
		},
	}
}

// EnsureTopics creates any missing topics via the admin API.
func EnsureTopics(ctx context.Context, brokers []string, configs []TopicConfig, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create admin client: %w", err)
	}
	defer client.Close()

	admin := kadm.NewClient(client)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	existing, err := admin.ListTopics(ctx)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}

	for _, cfg := range configs {
		if existing.Has(cfg.Name) {
			continue
		}
		_, err := admin.CreateTopic(ctx, cfg.Partitions, cfg.ReplicationFactor, cfg.Configs, cfg.Name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", cfg.Name, err)
		}
		logger.Info("topic created",
			zap.String("topic", cfg.Name),
			zap.Int32("partitions", cfg.Partitions))
	}

	return nil
}
