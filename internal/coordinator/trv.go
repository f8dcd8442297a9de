package coordinator

import (
	"context"
	"errors"
	"fmt"

	"zigbee-go-converters/internal/schedule"
	"zigbee-go-converters/internal/zcl"
	"zigbee-go-converters/internal/zcl/clusters"
)

// ErrScheduleUnset is returned when the TRV holds no schedule yet.
var ErrScheduleUnset = errors.New("schedule not set on device")

var clusterLumi = clusters.ManuSpecificLumi.ID

// ReadSchedule reads the weekly schedule buffer from the named TRV.
func (c *Coordinator) ReadSchedule(ctx context.Context, name string) (schedule.Schedule, error) {
	dev, err := c.devices.lookup(name, ModelTRV)
	if err != nil {
		return schedule.Schedule{}, err
	}
	res, err := c.readAttribute(ctx, dev, clusterLumi, clusters.LumiAttrScheduleSettings)
	if err != nil {
		return schedule.Schedule{}, err
	}
	buf, ok := res.Value.([]byte)
	if !ok {
		return schedule.Schedule{}, fmt.Errorf("read schedule of %s: unexpected %s value", name, res.TypeName)
	}
	if len(buf) == 0 {
		return schedule.Schedule{}, ErrScheduleUnset
	}
	s, err := schedule.Read(buf)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("decode schedule of %s: %w", name, err)
	}
	c.applySchedule(dev, s)
	return s, nil
}

// WriteSchedule validates s and writes it to the named TRV. A validation
// failure is returned as *schedule.ValidationError and nothing is sent.
func (c *Coordinator) WriteSchedule(ctx context.Context, name string, s schedule.Schedule) error {
	dev, err := c.devices.lookup(name, ModelTRV)
	if err != nil {
		return err
	}
	if err := schedule.Validate(s); err != nil {
		return err
	}
	buf, err := schedule.Write(s)
	if err != nil {
		return err
	}
	if err := c.writeAttribute(ctx, dev, clusterLumi, clusters.LumiAttrScheduleSettings, zcl.TypeOctetStr, buf); err != nil {
		return fmt.Errorf("write schedule to %s: %w", name, err)
	}
	c.logger.Info("schedule written", "device", name, "schedule", schedule.Stringify(s))
	c.applySchedule(dev, s)
	return nil
}

// SetScheduleString parses the "days|H:MM,T|..." form and writes it.
func (c *Coordinator) SetScheduleString(ctx context.Context, name, str string) error {
	s, err := schedule.Parse(str)
	if err != nil {
		return err
	}
	return c.WriteSchedule(ctx, name, s)
}

// SetScheduleEnabled turns schedule mode on or off on the named TRV.
func (c *Coordinator) SetScheduleEnabled(ctx context.Context, name string, enabled bool) error {
	dev, err := c.devices.lookup(name, ModelTRV)
	if err != nil {
		return err
	}
	var v uint8
	if enabled {
		v = 1
	}
	if err := c.writeAttribute(ctx, dev, clusterLumi, clusters.LumiAttrSchedule, zcl.TypeUint8, v); err != nil {
		return fmt.Errorf("set schedule mode on %s: %w", name, err)
	}
	c.applyScheduleEnabled(dev, enabled)
	return nil
}

// ReadScheduleEnabled reads the schedule mode flag from the named TRV.
func (c *Coordinator) ReadScheduleEnabled(ctx context.Context, name string) (bool, error) {
	dev, err := c.devices.lookup(name, ModelTRV)
	if err != nil {
		return false, err
	}
	res, err := c.readAttribute(ctx, dev, clusterLumi, clusters.LumiAttrSchedule)
	if err != nil {
		return false, err
	}
	enabled, ok := flag(res.Value)
	if !ok {
		return false, fmt.Errorf("read schedule mode of %s: unexpected %s value", name, res.TypeName)
	}
	c.applyScheduleEnabled(dev, enabled)
	return enabled, nil
}

func (c *Coordinator) applySchedule(dev Device, s schedule.Schedule) {
	str := schedule.Stringify(s)
	c.updateState(dev.Name, map[string]interface{}{"schedule_settings": str})
	c.events.Emit(Event{Type: EventScheduleSettings, Device: dev.Name, Data: map[string]interface{}{
		"schedule_settings": str,
		"days":              s.Days,
		"events":            s.Events,
	}})
}

func (c *Coordinator) applyScheduleEnabled(dev Device, enabled bool) {
	c.updateState(dev.Name, map[string]interface{}{"schedule": enabled})
	c.events.Emit(Event{Type: EventSchedule, Device: dev.Name, Data: map[string]interface{}{
		"schedule": enabled,
	}})
}

func flag(v interface{}) (bool, bool) {
	switch n := v.(type) {
	case bool:
		return n, true
	case uint8:
		return n != 0, true
	case uint16:
		return n != 0, true
	}
	return false, false
}
