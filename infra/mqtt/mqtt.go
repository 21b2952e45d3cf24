// Package mqtt publishes field updates to an MQTT broker and bridges
// control commands back into the realtime session. It stands in for the
// home-automation state store the service is usually paired with.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/mbeckert/stiebelgw/core/logger"
	"github.com/mbeckert/stiebelgw/core/model"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         byte   `json:"qos"`
	Retain      bool   `json:"retain"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "stiebelgw"
	}
	if c.ClientID == "" {
		c.ClientID = "stiebelgw-" + uuid.NewString()[:8]
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Broker == "" {
		return fmt.Errorf("mqtt: broker is required")
	}
	return nil
}

// Writer accepts control writes resolved from inbound command messages.
// Satisfied by session.Session.
type Writer interface {
	SetValue(registerIndex int, value any) error
}

// pahoClient is the narrow slice of the Paho API the sink uses; tests
// substitute a fake.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Sink mirrors field updates onto MQTT topics and forwards commands
// received on the controls topics to a Writer.
type Sink struct {
	cli            pahoClient
	cfg            Config
	installationID string
	log            logger.Logger

	mu     sync.Mutex
	writer Writer
}

// NewSink connects to the broker. An availability topic is maintained via
// the broker LWT: "online" while connected, "offline" after an unclean
// disconnect.
func NewSink(cfg Config, installationID string, log logger.Logger) (*Sink, error) {
	cfg.SetDefaults()
	s := &Sink{cfg: cfg, installationID: installationID, log: log}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetWill(s.availabilityTopic(), "offline", cfg.QoS, true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if token := c.Publish(s.availabilityTopic(), cfg.QoS, true, "online"); token.Wait() && token.Error() != nil {
			log.Errorf("availability publish: %v", token.Error())
		}
		topic := s.commandFilter()
		if token := c.Subscribe(topic, cfg.QoS, s.onCommand); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe %s: %v", topic, token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("MQTT connection lost: %v", err)
	}

	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	s.cli = cli
	return s, nil
}

// BindWriter attaches the session once it exists; commands arriving before
// that are dropped with a warning.
func (s *Sink) BindWriter(w Writer) {
	s.mu.Lock()
	s.writer = w
	s.mu.Unlock()
}

type statePayload struct {
	RegisterIndex int    `json:"register_index"`
	Name          string `json:"name,omitempty"`
	Value         any    `json:"value"`
	Unit          string `json:"unit,omitempty"`
	UpdatedAt     string `json:"updated_at"`
}

// Publish mirrors one batch onto per-register topics. Values are normalized
// through the register catalog before leaving the process.
func (s *Sink) Publish(_ context.Context, batch []model.FieldUpdate) error {
	var firstErr error
	for _, u := range batch {
		value, err := model.Normalize(u)
		if err != nil {
			s.log.Warnf("register %d: %v", u.RegisterIndex, err)
			continue
		}
		payload, err := json.Marshal(statePayload{
			RegisterIndex: u.RegisterIndex,
			Name:          s.registerName(u.RegisterIndex),
			Value:         value,
			Unit:          s.registerUnit(u.RegisterIndex),
			UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		topic := s.stateTopic(u.RegisterIndex)
		if token := s.cli.Publish(topic, s.cfg.QoS, s.cfg.Retain, payload); token.Wait() && token.Error() != nil {
			s.log.Errorf("publish %s: %v", topic, token.Error())
			if firstErr == nil {
				firstErr = token.Error()
			}
		}
	}
	return firstErr
}

// Close announces unavailability and disconnects.
func (s *Sink) Close() {
	if s.cli != nil && s.cli.IsConnected() {
		if token := s.cli.Publish(s.availabilityTopic(), s.cfg.QoS, true, "offline"); token.Wait() && token.Error() != nil {
			s.log.Errorf("availability publish: %v", token.Error())
		}
		s.cli.Disconnect(250)
	}
}

// onCommand handles <prefix>/<installation>/controls/<register>/set. The
// register segment is either a catalog slug or a numeric index.
func (s *Sink) onCommand(_ paho.Client, msg paho.Message) {
	parts := strings.Split(msg.Topic(), "/")
	if len(parts) < 2 {
		return
	}
	name := parts[len(parts)-2]

	idx, reg, ok := model.LookupByID(name)
	if !ok {
		n, err := strconv.Atoi(name)
		if err != nil {
			s.log.Warnf("command for unknown control %q", name)
			return
		}
		idx = n
		reg, ok = model.Catalog[idx], true
	}
	if !reg.Writable && reg.ID != "" {
		s.log.Warnf("register %d (%s) is not writable", idx, reg.ID)
		return
	}

	raw := string(msg.Payload())
	value, err := model.Normalize(model.FieldUpdate{RegisterIndex: idx, Value: raw})
	if err != nil {
		s.log.Warnf("command payload %q for register %d: %v", raw, idx, err)
		return
	}

	s.mu.Lock()
	w := s.writer
	s.mu.Unlock()
	if w == nil {
		s.log.Warnf("command for register %d dropped: session not ready", idx)
		return
	}
	if err := w.SetValue(idx, value); err != nil {
		s.log.Errorf("write register %d: %v", idx, err)
	}
}

func (s *Sink) availabilityTopic() string {
	return fmt.Sprintf("%s/%s/availability", s.cfg.TopicPrefix, s.installationID)
}

func (s *Sink) commandFilter() string {
	return fmt.Sprintf("%s/%s/controls/+/set", s.cfg.TopicPrefix, s.installationID)
}

func (s *Sink) stateTopic(registerIndex int) string {
	name := strconv.Itoa(registerIndex)
	if reg, ok := model.Catalog[registerIndex]; ok {
		name = reg.ID
	}
	return fmt.Sprintf("%s/%s/%s", s.cfg.TopicPrefix, s.installationID, name)
}

func (s *Sink) registerName(registerIndex int) string {
	if reg, ok := model.Catalog[registerIndex]; ok {
		return reg.Name
	}
	return ""
}

func (s *Sink) registerUnit(registerIndex int) string {
	if reg, ok := model.Catalog[registerIndex]; ok {
		return reg.Unit
	}
	return ""
}
