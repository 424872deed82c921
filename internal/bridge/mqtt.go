// Package bridge connects the gateway to the site's MQTT bus. It
// mirrors every object-path change onto retained topics, and it
// subscribes to the energy manager's site topics to supply the
// observables the AUTO policy needs. When MQTT is disabled the bridge
// stays disconnected and reports a quiet site.
package bridge

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/edgxcloud/chargegate/internal/charger"
	"github.com/edgxcloud/chargegate/internal/config"
	"github.com/edgxcloud/chargegate/internal/policy"
	"github.com/edgxcloud/chargegate/internal/publisher"
)

const connectTimeout = 10 * time.Second

// Bridge is the MQTT connection plus the cached site observables.
type Bridge struct {
	cfg    config.MQTTConfig
	log    *zap.Logger
	client mqtt.Client

	mu       sync.RWMutex
	readings policy.SiteReadings
	strategy charger.ESSStrategy
	lowSOC   bool
}

func New(cfg config.MQTTConfig, log *zap.Logger) *Bridge {
	return &Bridge{
		cfg:      cfg,
		log:      log,
		strategy: charger.ESSIdle,
	}
}

// Connect dials the broker and subscribes to the site topics. A no-op
// when the bridge is disabled.
func (b *Bridge) Connect() error {
	if !b.cfg.Enabled {
		return nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(func(c mqtt.Client) {
			b.subscribeSite(c)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.log.Warn("mqtt connection lost", zap.Error(err))
		})
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect to %s timed out", b.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s failed: %w", b.cfg.Broker, err)
	}
	b.log.Info("mqtt connected", zap.String("broker", b.cfg.Broker))
	return nil
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
	}
}

// MirrorPublisher wires the bridge as a subscriber of the object tree:
// every change is published retained under the topic prefix.
func (b *Bridge) MirrorPublisher(pub *publisher.Service) {
	pub.Subscribe(func(path string, value any) {
		if b.client == nil || !b.client.IsConnected() {
			return
		}
		b.client.Publish(b.topicFor(path), 0, true, fmt.Sprintf("%v", value))
	})
}

// topicFor maps an object path to its mirror topic; object paths
// already carry a leading slash.
func (b *Bridge) topicFor(path string) string {
	return b.cfg.TopicPrefix + path
}

func (b *Bridge) subscribeSite(c mqtt.Client) {
	topic := b.cfg.TopicPrefix + "/site/#"
	token := c.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		b.handleSiteMessage(msg.Topic(), string(msg.Payload()))
	})
	if token.WaitTimeout(connectTimeout) && token.Error() != nil {
		b.log.Warn("mqtt site subscribe failed", zap.Error(token.Error()))
		return
	}
	b.log.Info("subscribed to site topics", zap.String("topic", topic))
}

// handleSiteMessage updates the cached observables from one site
// topic. Unknown topics are ignored.
func (b *Bridge) handleSiteMessage(topic, payload string) {
	suffix := strings.TrimPrefix(topic, b.cfg.TopicPrefix+"/site/")

	b.mu.Lock()
	defer b.mu.Unlock()

	switch suffix {
	case "ess_strategy":
		switch charger.ESSStrategy(payload) {
		case charger.ESSBuying, charger.ESSSelling, charger.ESSIdle:
			b.strategy = charger.ESSStrategy(payload)
		default:
			b.log.Warn("unknown ess strategy", zap.String("payload", payload))
		}
		return
	case "low_soc":
		b.lowSOC = payload == "1" || strings.EqualFold(payload, "true")
		return
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		b.log.Debug("non-numeric site payload",
			zap.String("topic", topic), zap.String("payload", payload))
		return
	}

	switch suffix {
	case "pv_dc_power":
		b.readings.DCPVPowerW = v
	case "pv_ac_l1_power":
		b.readings.ACPVPowerW[0] = v
	case "pv_ac_l2_power":
		b.readings.ACPVPowerW[1] = v
	case "pv_ac_l3_power":
		b.readings.ACPVPowerW[2] = v
	case "consumption_l1_power":
		b.readings.ConsumptionW[0] = v
	case "consumption_l2_power":
		b.readings.ConsumptionW[1] = v
	case "consumption_l3_power":
		b.readings.ConsumptionW[2] = v
	case "battery_power":
		b.readings.BatteryPowerW = v
	}
}

// Readings implements the engine's site source.
func (b *Bridge) Readings() policy.SiteReadings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.readings
}

// Strategy implements the engine's site source.
func (b *Bridge) Strategy() charger.ESSStrategy {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.strategy
}

// LowSOC implements the engine's site source.
func (b *Bridge) LowSOC() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lowSOC
}
