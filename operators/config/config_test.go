package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dagflow/dagflow/operators/config"
)

type kafkaConfig struct {
	Brokers  []string      `mapstructure:"brokers"`
	Topic    string        `mapstructure:"topic"`
	Interval time.Duration `mapstructure:"batch_interval"`
}

func TestLoadAndDecodeSection(t *testing.T) {
	doc := []byte(`
kafka:
  brokers:
    - localhost:9092
  topic: events
  batch_interval: 2s
`)
	v, err := config.Load(doc)
	require.NoError(t, err)

	section := config.Section(v, "kafka")
	require.NotNil(t, section)

	var cfg kafkaConfig
	require.NoError(t, config.Decode(section, &cfg))
	require.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
	require.Equal(t, "events", cfg.Topic)
	require.Equal(t, 2*time.Second, cfg.Interval)
}
