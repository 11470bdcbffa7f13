package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/CodeRushOJ/croj-runner/internal/events"
	"github.com/CodeRushOJ/croj-runner/internal/publish"
)

const publishFlushTimeout = 5 * time.Second

// kafkaFlags enable mirroring events to Kafka. Brokers default to
// CROJ_KAFKA_BROKERS (comma separated).
type kafkaFlags struct {
	brokers string
	topic   string
}

func (k *kafkaFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&k.brokers, "kafka-brokers", "", "comma separated Kafka brokers to mirror events to (env CROJ_KAFKA_BROKERS)")
	cmd.Flags().StringVar(&k.topic, "kafka-topic", "croj-runner-events", "Kafka topic for mirrored events")
}

// publisher returns nil when no broker is configured.
func (k *kafkaFlags) publisher(a *app) (*publish.Publisher, error) {
	raw := k.brokers
	if raw == "" {
		raw = envOr("CROJ_KAFKA_BROKERS", "")
	}
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, nil
	}
	a.log.Info("mirroring events to kafka", "brokers", brokers, "topic", k.topic)
	return publish.New(publish.Config{Brokers: brokers, Topic: k.topic, Logger: a.log})
}

func sinkOrNil(p *publish.Publisher) events.Sink {
	if p == nil {
		return nil
	}
	return p
}
