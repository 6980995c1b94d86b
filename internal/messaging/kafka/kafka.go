// Package kafka provides a Kafka implementation of the messaging interfaces.
package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
)

// Config holds Kafka client configuration.
type Config struct {
	Brokers  []string
	GroupID  string
	ClientID string

	// Version is the broker protocol version, e.g. "3.6.0". Empty uses the
	// client default.
	Version string
}

// saramaConfig builds the shared client configuration.
func (c Config) saramaConfig() (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	if c.ClientID != "" {
		cfg.ClientID = c.ClientID
	}
	if c.Version != "" {
		version, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid kafka version %q: %w", c.Version, err)
		}
		cfg.Version = version
	}

	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll

	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	return cfg, nil
}
