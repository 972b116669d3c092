//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/field-survey-etl/internal/adapter/kafka"
	"github.com/couchcryptid/field-survey-etl/internal/config"
	"github.com/couchcryptid/field-survey-etl/internal/domain"
	"github.com/couchcryptid/field-survey-etl/internal/observability"
)

const testSinkTopic = "test-field-survey-records"

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("field-survey-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// TestKafkaSink processes the SQLite fixture, merges the mapping and publishes
// every merged row, then reads them back from the sink topic.
func TestKafkaSink(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSinkTopic)

	var hits int
	metrics := observability.NewMetricsForTesting()
	p := newProcessor(seedSurveyDB(t), serveMapping(t, &hits), metrics)

	b, err := p.Process(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	mapping, err := p.WeatherStationMapping(ctx)
	require.NoError(t, err)
	merged, err := domain.LeftJoin(b.Table, mapping, "Field_ID")
	require.NoError(t, err)

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaSinkTopic: testSinkTopic}
	writer := kafka.NewWriter(cfg, metrics, discardLogger())
	defer writer.Close()
	require.NoError(t, writer.LoadTable(ctx, b.RunID, merged, "Field_ID"))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   []string{broker},
		Topic:     testSinkTopic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer consumer.Close()

	got := make(map[string]map[string]any, merged.Len())
	for range merged.Len() {
		readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
		msg, err := consumer.ReadMessage(readCtx)
		readCancel()
		require.NoError(t, err, "read from sink topic")

		var row map[string]any
		require.NoError(t, json.Unmarshal(msg.Value, &row))
		got[string(msg.Key)] = row

		headers := make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, "field-survey-etl", headers["source"])
		assert.Equal(t, b.RunID, headers["run_id"])
		assert.NotEmpty(t, headers["processed_at"])
	}

	require.Len(t, got, 4)
	assert.Equal(t, "cassava", got["40734"]["Crop_type"])
	assert.InDelta(t, 674.3341, got["30629"]["Elevation"], 1e-9)
	assert.InDelta(t, 4, got["40734"]["Weather_station"], 0)
	assert.Nil(t, got["5754"]["Weather_station"])
}
