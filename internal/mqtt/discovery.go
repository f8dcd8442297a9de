//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"

	"zigbee-go-converters/internal/coordinator"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/switch/zigbee_0x00158d.../schedule/config"
	Payload []byte // JSON
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	CommandTemplate   string   `json:"command_template,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	PayloadPress      string   `json:"payload_press,omitempty"`
	StateOn           string   `json:"state_on,omitempty"`
	StateOff          string   `json:"state_off,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	MaxLength         int      `json:"max,omitempty"`
	Device            haDevice `json:"device"`
}

// deviceIdentifier returns the unique identifier for HA device registry.
func deviceIdentifier(dev coordinator.Device) string {
	if dev.IEEE != "" {
		return "zigbee_" + dev.IEEE
	}
	return "zigbee_" + deviceTopicName(dev)
}

// deviceTopicName returns the topic name for a device.
func deviceTopicName(dev coordinator.Device) string {
	name := strings.ToLower(dev.Name)
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
}

type entity struct {
	component string
	objectID  string
	suffix    string
	build     func(p *haDiscovery)
}

func deviceEntities(dev coordinator.Device, cmdTopic string) []entity {
	switch dev.Model {
	case coordinator.ModelIRBlaster:
		return []entity{
			{"sensor", "learned_ir_code", "Learned IR code", func(p *haDiscovery) {
				p.ValueTemplate = "{{ value_json.learned_ir_code }}"
				p.Icon = "mdi:remote"
			}},
			{"button", "learn_ir_code", "Learn IR code", func(p *haDiscovery) {
				p.StateTopic = ""
				p.CommandTopic = cmdTopic
				p.PayloadPress = `{"learn_ir_code":true}`
			}},
			{"text", "ir_code_to_send", "IR code to send", func(p *haDiscovery) {
				p.StateTopic = ""
				p.CommandTopic = cmdTopic
				p.CommandTemplate = `{"ir_code_to_send":"{{ value }}"}`
				p.MaxLength = 255
			}},
		}
	case coordinator.ModelTRV:
		return []entity{
			{"switch", "schedule", "Schedule", func(p *haDiscovery) {
				p.CommandTopic = cmdTopic
				p.ValueTemplate = "{{ 'ON' if value_json.schedule else 'OFF' }}"
				p.PayloadOn = `{"schedule":true}`
				p.PayloadOff = `{"schedule":false}`
				p.StateOn = "ON"
				p.StateOff = "OFF"
			}},
			{"text", "schedule_settings", "Schedule settings", func(p *haDiscovery) {
				p.CommandTopic = cmdTopic
				p.CommandTemplate = `{"schedule_settings":"{{ value }}"}`
				p.ValueTemplate = "{{ value_json.schedule_settings }}"
				p.MaxLength = 255
			}},
		}
	}
	return nil
}

// buildDiscovery generates HA discovery messages for a device based on its model.
func buildDiscovery(dev coordinator.Device, prefix string) []discoveryMsg {
	avail := prefix + "/bridge/state"
	stateTopic := prefix + "/" + deviceTopicName(dev)
	nodeID := deviceIdentifier(dev)

	haDev := haDevice{
		Identifiers: []string{nodeID},
		Model:       string(dev.Model),
		Name:        dev.Name,
	}
	if dev.Model == coordinator.ModelTRV {
		haDev.Manufacturer = "Aqara"
	}

	var msgs []discoveryMsg
	for _, e := range deviceEntities(dev, stateTopic+"/set") {
		p := haDiscovery{
			Name:              dev.Name + " " + e.suffix,
			UniqueID:          nodeID + "_" + e.objectID,
			StateTopic:        stateTopic,
			AvailabilityTopic: avail,
			Device:            haDev,
		}
		e.build(&p)
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("homeassistant/%s/%s/%s/config", e.component, nodeID, e.objectID),
			Payload: mustJSON(p),
		})
	}
	return msgs
}
