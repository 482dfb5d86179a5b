package live

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fuel-cycle/internal/models"
)

// PositionMessage is the MQTT payload of a driver fix. The session id comes
// from the topic.
type PositionMessage struct {
	DriverID string `json:"driver_id"`
	models.PositionUpdate
}

// PositionSink receives decoded driver fixes.
type PositionSink interface {
	UpdatePosition(ctx context.Context, sessionID, driverID string, upd models.PositionUpdate, source string) (*models.LiveSession, error)
}

// PositionTopic is the topic a driver publishes the fixes of a session to.
func PositionTopic(prefix, sessionID string) string {
	return fmt.Sprintf("%s/sessions/%s/position", prefix, sessionID)
}

// ConnectMQTT connects to broker and keeps reconnecting in the background.
func ConnectMQTT(broker, clientID string, logger *log.Entry) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.WithError(err).Warn("MQTT connection lost")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("connect to mqtt broker %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", broker, err)
	}
	logger.WithField("broker", broker).Info("Connected to MQTT broker")
	return client, nil
}

// MQTTIngest forwards driver fixes published over MQTT to a PositionSink.
type MQTTIngest struct {
	client mqtt.Client
	prefix string
	sink   PositionSink
	log    *log.Entry
}

// NewMQTTIngest creates an ingest for the topics under prefix.
func NewMQTTIngest(client mqtt.Client, prefix string, sink PositionSink, logger *log.Entry) *MQTTIngest {
	if logger == nil {
		logger = log.WithField("component", "mqtt")
	}
	return &MQTTIngest{client: client, prefix: prefix, sink: sink, log: logger}
}

func (m *MQTTIngest) topic() string {
	return PositionTopic(m.prefix, "+")
}

// Start subscribes to every session's position topic.
func (m *MQTTIngest) Start() error {
	token := m.client.Subscribe(m.topic(), 1, func(_ mqtt.Client, msg mqtt.Message) {
		m.handle(msg)
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", m.topic(), err)
	}
	m.log.WithField("topic", m.topic()).Info("Subscribed to driver positions")
	return nil
}

// Stop unsubscribes and disconnects.
func (m *MQTTIngest) Stop() {
	m.client.Unsubscribe(m.topic()).WaitTimeout(5 * time.Second)
	m.client.Disconnect(250)
}

func (m *MQTTIngest) handle(msg mqtt.Message) {
	sessionID, ok := m.sessionID(msg.Topic())
	if !ok {
		m.log.WithField("topic", msg.Topic()).Warn("Ignoring message on unexpected topic")
		return
	}
	var pm PositionMessage
	if err := json.Unmarshal(msg.Payload(), &pm); err != nil {
		m.log.WithError(err).WithField("session_id", sessionID).Warn("Ignoring malformed position")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := m.sink.UpdatePosition(ctx, sessionID, pm.DriverID, pm.PositionUpdate, "mqtt"); err != nil {
		m.log.WithError(err).WithFields(log.Fields{
			"session_id": sessionID,
			"driver_id":  pm.DriverID,
		}).Warn("Rejected position update")
	}
}

// sessionID extracts the session id from <prefix>/sessions/<id>/position.
func (m *MQTTIngest) sessionID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, m.prefix+"/sessions/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/position")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
