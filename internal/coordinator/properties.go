package coordinator

import (
	"fmt"

	"zigbee-go-converters/internal/ncp"
	"zigbee-go-converters/internal/schedule"
	"zigbee-go-converters/internal/zcl/clusters"
)

// handleAttributeReport converts TRV schedule reports into state and events.
// Reports from other clusters are forwarded as EventAttributeReport.
func (c *Coordinator) handleAttributeReport(evt ncp.AttributeReportEvent) {
	dev, ok := c.devices.ByAddr(evt.SrcAddr, evt.SrcEP)
	if !ok {
		c.logger.Debug("attribute report from unknown device",
			"addr", fmt.Sprintf("0x%04X", evt.SrcAddr), "ep", evt.SrcEP)
		return
	}

	if evt.ClusterID != clusterLumi || dev.Model != ModelTRV {
		attrs := make([]AttributeResult, 0, len(evt.Records))
		for _, r := range evt.Records {
			attrs = append(attrs, c.attributeResult(evt.ClusterID, r))
		}
		c.events.Emit(Event{Type: EventAttributeReport, Device: dev.Name, Data: map[string]interface{}{
			"cluster":    evt.ClusterID,
			"attributes": attrs,
		}})
		return
	}

	for _, r := range evt.Records {
		switch r.AttrID {
		case clusters.LumiAttrScheduleSettings:
			buf, ok := r.Value.([]byte)
			if !ok || len(buf) == 0 {
				// Freshly paired TRVs report an empty buffer.
				continue
			}
			s, err := schedule.Read(buf)
			if err != nil {
				c.logger.Warn("decode schedule report", "device", dev.Name, "len", len(buf), "err", err)
				continue
			}
			c.applySchedule(dev, s)
		case clusters.LumiAttrSchedule:
			enabled, ok := flag(r.Value)
			if !ok {
				c.logger.Warn("unexpected schedule mode value", "device", dev.Name, "value", r.Value)
				continue
			}
			c.applyScheduleEnabled(dev, enabled)
		default:
			c.logger.Debug("unhandled lumi attribute", "device", dev.Name, "attr", fmt.Sprintf("0x%04X", r.AttrID))
		}
	}
}
