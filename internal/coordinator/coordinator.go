package coordinator

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"zigbee-go-converters/internal/ncp"
	"zigbee-go-converters/internal/store"
	"zigbee-go-converters/internal/zcl"
	"zigbee-go-converters/internal/zosung"
)

const inboxSize = 64

// ParseIEEE parses "DD:DD:DD:DD:DD:DD:DD:DD", "DDDDDDDDDDDDDDDD" or
// "0xDDDDDDDDDDDDDDDD" into [8]byte.
func ParseIEEE(s string) ([8]byte, error) {
	var result [8]byte
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.ReplaceAll(s, ":", "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return result, fmt.Errorf("parse ieee address: %w", err)
	}
	if len(b) != 8 {
		return result, fmt.Errorf("ieee address must be 8 bytes, got %d", len(b))
	}
	copy(result[:], b)
	return result, nil
}

// FormatIEEE renders an address as "0x" followed by 16 lowercase hex digits.
func FormatIEEE(ieee [8]byte) string {
	return "0x" + hex.EncodeToString(ieee[:])
}

// Coordinator routes indications from the NCP to the device converters and
// exposes the converter operations to the outer surfaces.
type Coordinator struct {
	ncp      ncp.NCP
	store    store.Store
	registry *zcl.Registry
	events   *EventBus
	devices  *DeviceManager
	ir       *zosung.Protocol
	logger   *slog.Logger

	inbox  chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// New creates a Coordinator. sessions holds the IR transfer sessions and may
// be the same value as st.
func New(backend ncp.NCP, st store.Store, sessions zosung.SessionStore, registry *zcl.Registry, events *EventBus, devices *DeviceManager, logger *slog.Logger, irOpts ...zosung.Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		ncp:      backend,
		store:    st,
		registry: registry,
		events:   events,
		devices:  devices,
		logger:   logger.With("component", "coordinator"),
		inbox:    make(chan func(), inboxSize),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
	opts := append([]zosung.Option(nil), irOpts...)
	opts = append(opts, zosung.WithOnFailure(c.irFailed))
	c.ir = zosung.New(sessions, c, logger.With("component", "zosung"), opts...)
	return c
}

// Context returns the coordinator's lifecycle context.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Start registers the indication handlers and starts the dispatcher.
func (c *Coordinator) Start() {
	c.registerIndicationHandlers()
	c.wg.Add(1)
	go c.run()
	c.logger.Info("coordinator started", "devices", len(c.devices.List()))
}

// Stop stops the dispatcher and every transfer timer.
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
	c.ir.Close()
}

// Store returns the persistence layer.
func (c *Coordinator) Store() store.Store {
	return c.store
}

// Events returns the event bus.
func (c *Coordinator) Events() *EventBus {
	return c.events
}

// Devices returns the configured devices.
func (c *Coordinator) Devices() *DeviceManager {
	return c.devices
}

// Send implements zosung.Sender on top of the NCP.
func (c *Coordinator) Send(ctx context.Context, endpoint string, cmd zosung.Command) error {
	dev, ok := c.devices.ByEndpoint(endpoint)
	if !ok {
		return fmt.Errorf("%w: endpoint %s", ErrUnknownDevice, endpoint)
	}
	c.logger.Debug("zosung tx", "device", dev.Name, "cmd", cmd.Name(),
		"cluster", fmt.Sprintf("0x%04X", cmd.ClusterID()))
	return c.ncp.SendCommand(ctx, ncp.ClusterCommandRequest{
		DstAddr:        dev.ShortAddr,
		DstEP:          dev.Endpoint,
		ClusterID:      cmd.ClusterID(),
		CommandID:      cmd.CommandID(),
		ServerToClient: cmd.ServerToClient(),
		Payload:        cmd.Encode(),
	})
}

// registerIndicationHandlers hands every indication to the dispatcher
// goroutine. The NCP calls handlers on its read goroutine, which must stay
// free to deliver the responses our own sends wait on.
func (c *Coordinator) registerIndicationHandlers() {
	c.ncp.OnClusterCommand(func(evt ncp.ClusterCommandEvent) {
		c.enqueue(func() { c.handleClusterCommand(evt) })
	})
	c.ncp.OnAttributeReport(func(evt ncp.AttributeReportEvent) {
		c.enqueue(func() { c.handleAttributeReport(evt) })
	})
}

func (c *Coordinator) enqueue(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.ctx.Done():
	default:
		c.logger.Warn("dispatcher queue full, dropping indication")
	}
}

// run handles one indication at a time, to completion.
func (c *Coordinator) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.inbox:
			fn()
		}
	}
}

func (c *Coordinator) handleClusterCommand(evt ncp.ClusterCommandEvent) {
	dev, ok := c.devices.ByAddr(evt.SrcAddr, evt.SrcEP)
	if !ok {
		c.logger.Debug("cluster command from unknown device",
			"addr", fmt.Sprintf("0x%04X", evt.SrcAddr), "ep", evt.SrcEP,
			"cluster", fmt.Sprintf("0x%04X", evt.ClusterID))
		return
	}

	name := c.registry.CommandName(evt.ClusterID, evt.CommandID, zcl.DirectionOf(evt.ServerToClient))
	if evt.ClusterID != zosung.ClusterIRTransmit || dev.Model != ModelIRBlaster {
		c.events.Emit(Event{Type: EventClusterCommand, Device: dev.Name, Data: map[string]interface{}{
			"cluster": evt.ClusterID,
			"command": evt.CommandID,
			"name":    name,
			"payload": evt.Payload,
		}})
		return
	}

	cmd, err := zosung.Decode(name, evt.Payload)
	if err != nil {
		c.logger.Warn("decode zosung command", "device", dev.Name, "cmd_id", evt.CommandID, "err", err)
		return
	}
	c.logger.Debug("zosung rx", "device", dev.Name, "cmd", cmd.Name())

	res, err := c.ir.Handle(c.ctx, dev.EndpointKey(), cmd)
	if err != nil {
		c.irFailed(dev.EndpointKey(), err)
		return
	}
	if res != nil {
		c.handleIRResult(dev, res)
	}
}

// updateState merges props into the stored device state.
func (c *Coordinator) updateState(device string, props map[string]interface{}) {
	err := c.store.UpdateState(device, func(st *store.DeviceState) error {
		if st.Properties == nil {
			st.Properties = make(map[string]any)
		}
		for k, v := range props {
			st.Properties[k] = v
		}
		st.LastSeen = c.now()
		return nil
	})
	if err != nil {
		c.logger.Error("update device state", "device", device, "err", err)
	}
}
