package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/stromplan/stromplan/internal/engine"
	"github.com/stromplan/stromplan/internal/logger"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker         string        `json:"broker"`
	ClientID       string        `json:"client_id"`
	Username       string        `json:"username"`
	Password       string        `json:"password"`
	BaseTopic      string        `json:"base_topic"`
	QoS            byte          `json:"qos"`
	Retain         bool          `json:"retain"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

// Message is one topic/payload pair ready for publishing.
type Message struct {
	Topic   string
	Payload []byte
}

// adviceTopics maps the per-action advice subtopic to the flag accessor.
var adviceTopics = []struct {
	name string
	flag func(engine.AllocationResult) bool
}{
	{"charge_ev", func(r engine.AllocationResult) bool { return r.ChargeEV }},
	{"run_dishwasher", func(r engine.AllocationResult) bool { return r.RunDishwasher }},
	{"run_washing_machine", func(r engine.AllocationResult) bool { return r.RunWashingMachine }},
	{"sell_to_grid", func(r engine.AllocationResult) bool { return r.SellToGrid }},
}

// PlanMessages builds the full message set for a plan: the results array on
// {base}/plan and, when now falls inside the plan, the current hour's result
// on {base}/current plus ON/OFF advice flags consumers like Home Assistant
// can bind switches to.
func PlanMessages(baseTopic string, results []engine.AllocationResult, now time.Time) ([]Message, error) {
	plan, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("marshaling plan: %w", err)
	}
	msgs := []Message{{Topic: baseTopic + "/plan", Payload: plan}}

	current, ok := engine.ResultForHour(results, now)
	if !ok {
		return msgs, nil
	}

	cur, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("marshaling current hour: %w", err)
	}
	msgs = append(msgs, Message{Topic: baseTopic + "/current", Payload: cur})

	for _, at := range adviceTopics {
		payload := "OFF"
		if at.flag(current) {
			payload = "ON"
		}
		msgs = append(msgs, Message{
			Topic:   baseTopic + "/advice/" + at.name,
			Payload: []byte(payload),
		})
	}
	return msgs, nil
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// newMQTTClient is swapped out in tests.
var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Publisher pushes allocation plans to an MQTT broker.
type Publisher struct {
	cli       pahoClient
	baseTopic string
	qos       byte
	retain    bool
	timeout   time.Duration
}

// Connect dials the broker and returns a ready publisher.
func Connect(cfg Config) (*Publisher, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	log := logger.New("mqtt")
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	opts.ConnectTimeout = cfg.ConnectTimeout
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(paho.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Error().Err(err).Msg("MQTT connection lost")
	}

	cli := newMQTTClient(opts)
	token := cli.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("connecting to %s: timeout after %s", cfg.Broker, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, err)
	}

	return &Publisher{
		cli:       cli,
		baseTopic: cfg.BaseTopic,
		qos:       cfg.QoS,
		retain:    cfg.Retain,
		timeout:   cfg.ConnectTimeout,
	}, nil
}

// PublishPlan publishes the plan, current-hour and advice messages. The
// first failed publish aborts and is returned.
func (p *Publisher) PublishPlan(results []engine.AllocationResult, now time.Time) error {
	msgs, err := PlanMessages(p.baseTopic, results, now)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		token := p.cli.Publish(m.Topic, p.qos, p.retain, m.Payload)
		if !token.WaitTimeout(p.timeout) {
			return fmt.Errorf("publishing %s: timeout after %s", m.Topic, p.timeout)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("publishing %s: %w", m.Topic, err)
		}
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
