package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/edgxcloud/chargegate/internal/charger"
	"github.com/edgxcloud/chargegate/internal/config"
	"github.com/edgxcloud/chargegate/internal/policy"
)

func newTestBridge() *Bridge {
	return New(config.MQTTConfig{
		Enabled:     true,
		TopicPrefix: "chargegate",
	}, zap.NewNop())
}

func TestSitePowerTopics(t *testing.T) {
	b := newTestBridge()

	b.handleSiteMessage("chargegate/site/pv_dc_power", "2500")
	b.handleSiteMessage("chargegate/site/pv_ac_l1_power", "300.5")
	b.handleSiteMessage("chargegate/site/consumption_l1_power", "450")
	b.handleSiteMessage("chargegate/site/consumption_l2_power", "120")
	b.handleSiteMessage("chargegate/site/battery_power", "-800")

	r := b.Readings()
	assert.Equal(t, 2500.0, r.DCPVPowerW)
	assert.Equal(t, 300.5, r.ACPVPowerW[0])
	assert.Equal(t, 450.0, r.ConsumptionW[0])
	assert.Equal(t, 120.0, r.ConsumptionW[1])
	assert.Equal(t, -800.0, r.BatteryPowerW)
	assert.Equal(t, 2800.5, r.TotalPV())
	assert.Equal(t, 570.0, r.TotalConsumption())
}

func TestStrategyTopic(t *testing.T) {
	b := newTestBridge()
	assert.Equal(t, charger.ESSIdle, b.Strategy())

	b.handleSiteMessage("chargegate/site/ess_strategy", "buying")
	assert.Equal(t, charger.ESSBuying, b.Strategy())

	b.handleSiteMessage("chargegate/site/ess_strategy", "selling")
	assert.Equal(t, charger.ESSSelling, b.Strategy())

	// Unknown values keep the previous strategy.
	b.handleSiteMessage("chargegate/site/ess_strategy", "confused")
	assert.Equal(t, charger.ESSSelling, b.Strategy())
}

func TestLowSOCTopic(t *testing.T) {
	b := newTestBridge()
	assert.False(t, b.LowSOC())

	b.handleSiteMessage("chargegate/site/low_soc", "1")
	assert.True(t, b.LowSOC())

	b.handleSiteMessage("chargegate/site/low_soc", "0")
	assert.False(t, b.LowSOC())

	b.handleSiteMessage("chargegate/site/low_soc", "true")
	assert.True(t, b.LowSOC())
}

func TestMalformedPayloadIgnored(t *testing.T) {
	b := newTestBridge()
	b.handleSiteMessage("chargegate/site/pv_dc_power", "2000")
	b.handleSiteMessage("chargegate/site/pv_dc_power", "watts")

	assert.Equal(t, 2000.0, b.Readings().DCPVPowerW)
}

func TestUnknownTopicIgnored(t *testing.T) {
	b := newTestBridge()
	b.handleSiteMessage("chargegate/site/nonsense", "42")
	assert.Equal(t, policy.SiteReadings{}, b.Readings())
}

func TestTopicFor(t *testing.T) {
	b := newTestBridge()
	assert.Equal(t, "chargegate/Ac/Power", b.topicFor("/Ac/Power"))
	assert.Equal(t, "chargegate/Status", b.topicFor("/Status"))
}

func TestDisabledConnectIsNoop(t *testing.T) {
	b := New(config.MQTTConfig{Enabled: false}, zap.NewNop())
	assert.NoError(t, b.Connect())
}
