package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"zigbee-go-converters/internal/store"
	"zigbee-go-converters/internal/zosung"
)

// SendIRCode transmits a base64 IR code through the named blaster and
// returns the transfer sequence. Completion is reported as an
// EventIRCodeSent event.
func (c *Coordinator) SendIRCode(ctx context.Context, name, code string) (uint16, error) {
	dev, err := c.devices.lookup(name, ModelIRBlaster)
	if err != nil {
		return 0, err
	}
	seq, err := c.ir.SendCode(ctx, dev.EndpointKey(), code)
	if err != nil {
		return 0, fmt.Errorf("send ir code to %s: %w", name, err)
	}
	c.logger.Info("ir code send started", "device", name, "seq", seq)
	return seq, nil
}

// LearnIRCode puts the named blaster into learn mode. The captured code is
// reported as an EventLearnedIRCode event.
func (c *Coordinator) LearnIRCode(ctx context.Context, name string) error {
	dev, err := c.devices.lookup(name, ModelIRBlaster)
	if err != nil {
		return err
	}
	if err := c.ir.StartLearn(ctx, dev.EndpointKey()); err != nil {
		return fmt.Errorf("learn ir code on %s: %w", name, err)
	}
	c.logger.Info("ir learn started", "device", name)
	return nil
}

// PendingTransfer returns the in-flight IR session of the named blaster.
func (c *Coordinator) PendingTransfer(name string) (*store.Session, bool) {
	dev, err := c.devices.lookup(name, ModelIRBlaster)
	if err != nil {
		return nil, false
	}
	return c.ir.Pending(dev.EndpointKey())
}

// LearnedCodes returns every learned code, oldest first.
func (c *Coordinator) LearnedCodes() ([]*store.LearnedCode, error) {
	return c.store.ListCodes()
}

func (c *Coordinator) handleIRResult(dev Device, res *zosung.Result) {
	switch res.Kind {
	case zosung.ResultLearned:
		lc := &store.LearnedCode{
			ID:        uuid.NewString(),
			Device:    dev.Name,
			Endpoint:  res.Endpoint,
			Code:      res.Code,
			LearnedAt: c.now(),
		}
		if err := c.store.SaveCode(lc); err != nil {
			c.logger.Error("save learned code", "device", dev.Name, "err", err)
		}
		c.updateState(dev.Name, map[string]interface{}{"learned_ir_code": res.Code})
		c.logger.Info("ir code learned", "device", dev.Name, "seq", res.Seq, "id", lc.ID)
		c.events.Emit(Event{Type: EventLearnedIRCode, Device: dev.Name, Data: map[string]interface{}{
			"learned_ir_code": res.Code,
			"id":              lc.ID,
			"seq":             res.Seq,
		}})
	case zosung.ResultSent:
		c.logger.Info("ir code sent", "device", dev.Name, "seq", res.Seq)
		c.events.Emit(Event{Type: EventIRCodeSent, Device: dev.Name, Data: map[string]interface{}{
			"seq": res.Seq,
		}})
	}
}

// irFailed reports an aborted transfer. It is also the protocol's failure
// callback for stalled sessions.
func (c *Coordinator) irFailed(endpoint string, err error) {
	name := endpoint
	if dev, ok := c.devices.ByEndpoint(endpoint); ok {
		name = dev.Name
	}
	data := map[string]interface{}{"error": err.Error()}
	var te *zosung.TransferError
	if errors.As(err, &te) {
		data["seq"] = te.Seq
	}
	c.logger.Warn("ir transfer failed", "device", name, "err", err)
	c.events.Emit(Event{Type: EventIRTransferFailed, Device: name, Data: data})
}
