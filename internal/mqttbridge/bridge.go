// Package mqttbridge ingests telemetry that modules publish over MQTT.
// The broker is optional: when it is unreachable the bridge logs a warning
// and the rest of the controller keeps running.
package mqttbridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/picklereef/pi-touch/internal/store"
)

const (
	connectTimeout = 5 * time.Second
	qosAtLeastOnce = 1
)

// Bridge subscribes to the module telemetry topics and persists readings.
type Bridge struct {
	broker      string
	topicPrefix string
	store       *store.Store
	log         zerolog.Logger
	client      mqtt.Client
}

// New creates a bridge for the given broker URL (for example
// "tcp://mqtt:1883") and topic prefix.
func New(broker, topicPrefix string, st *store.Store, log zerolog.Logger) *Bridge {
	return &Bridge{
		broker:      broker,
		topicPrefix: topicPrefix,
		store:       st,
		log:         log.With().Str("component", "mqtt").Logger(),
	}
}

// Start connects to the broker and subscribes to telemetry topics. A
// connection failure is returned but is safe to treat as non-fatal.
func (b *Bridge) Start() error {
	opts := mqtt.NewClientOptions().
		AddBroker(b.broker).
		SetClientID("picklereef-" + uuid.New().String()[:8]).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(false)

	opts.OnConnect = func(client mqtt.Client) {
		topic := b.topicPrefix + "/+/telemetry/#"
		token := client.Subscribe(topic, qosAtLeastOnce, b.handleTelemetry)
		if token.Wait() && token.Error() != nil {
			b.log.Warn().Err(token.Error()).Str("topic", topic).Msg("telemetry subscribe failed")
			return
		}
		b.log.Info().Str("topic", topic).Msg("subscribed to telemetry")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		b.log.Warn().Err(err).Msg("broker connection lost")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		client.Disconnect(0)
		return fmt.Errorf("timed out connecting to %s", b.broker)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("failed to connect to %s: %w", b.broker, err)
	}

	b.client = client
	return nil
}

// Stop disconnects from the broker.
func (b *Bridge) Stop() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
}

// handleTelemetry parses a telemetry message and stores the reading. The
// topic layout is <prefix>/<module_id>/telemetry/<metric>, with the payload
// either a bare number or a JSON object carrying value and unit.
func (b *Bridge) handleTelemetry(_ mqtt.Client, msg mqtt.Message) {
	moduleID, metric, ok := b.parseTopic(msg.Topic())
	if !ok {
		b.log.Debug().Str("topic", msg.Topic()).Msg("ignoring unrecognized topic")
		return
	}

	value, unit, err := parsePayload(msg.Payload())
	if err != nil {
		b.log.Debug().Err(err).Str("topic", msg.Topic()).Msg("dropping unparsable telemetry")
		return
	}

	entry := &store.Telemetry{
		ModuleID:   moduleID,
		Metric:     metric,
		Value:      value,
		CapturedAt: time.Now().UTC(),
	}
	if unit != "" {
		entry.Unit = &unit
	}
	if err := b.store.InsertTelemetry(entry); err != nil {
		b.log.Warn().Err(err).Str("metric", metric).Msg("failed to store telemetry")
	}
}

func (b *Bridge) parseTopic(topic string) (moduleID, metric string, ok bool) {
	rest, found := strings.CutPrefix(topic, b.topicPrefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[1] != "telemetry" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// parsePayload accepts either a bare number or {"value": n, "unit": "..."}.
func parsePayload(raw []byte) (float64, string, error) {
	text := strings.TrimSpace(string(raw))
	if value, err := strconv.ParseFloat(text, 64); err == nil {
		return value, "", nil
	}

	var body struct {
		Value *float64 `json:"value"`
		Unit  string   `json:"unit"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return 0, "", fmt.Errorf("invalid telemetry payload: %w", err)
	}
	if body.Value == nil {
		return 0, "", fmt.Errorf("telemetry payload missing value")
	}
	return *body.Value, body.Unit, nil
}
