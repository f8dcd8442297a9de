package ncp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"zigbee-go-converters/internal/zcl"
)

const statusTimeout = 5 * time.Second

// SerialNCP implements NCP over the reference gateway framing in frame.go.
// The gateway forwards raw ZCL frames: requests are acknowledged with a
// status frame by gateway TSN, responses from devices arrive as data
// indications and are matched to requests by ZCL TSN.
type SerialNCP struct {
	port   io.ReadWriteCloser
	reader *bufio.Reader
	logger *slog.Logger

	writeMu sync.Mutex

	// Gateway-level status tracking (keyed by gateway TSN).
	reqTSN     atomic.Uint32
	reqPending map[uint8]chan uint8
	reqMu      sync.Mutex

	// ZCL response tracking (keyed by ZCL TSN).
	zclSeq     atomic.Uint32
	zclPending map[uint8]chan zcl.Frame
	zclMu      sync.Mutex

	handlerMu    sync.RWMutex
	onReport     func(AttributeReportEvent)
	onClusterCmd func(ClusterCommandEvent)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// OpenSerial opens portName and starts a SerialNCP on it.
func OpenSerial(portName string, baudRate int, logger *slog.Logger) (*SerialNCP, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("serial ncp: open %s: %w", portName, err)
	}

	// USB CDC ACM: assert DTR/RTS for the gateway firmware.
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)

	return NewSerialNCP(port, logger), nil
}

// NewSerialNCP runs the gateway protocol over an already open port.
func NewSerialNCP(port io.ReadWriteCloser, logger *slog.Logger) *SerialNCP {
	n := &SerialNCP{
		port:       port,
		reader:     bufio.NewReader(port),
		logger:     logger.With("component", "ncp"),
		reqPending: make(map[uint8]chan uint8),
		zclPending: make(map[uint8]chan zcl.Frame),
		done:       make(chan struct{}),
	}
	n.wg.Add(1)
	go n.readLoop()
	return n
}

func (n *SerialNCP) nextTSN() uint8 {
	return uint8(n.reqTSN.Add(1))
}

func (n *SerialNCP) nextZCLSeq() uint8 {
	return uint8(n.zclSeq.Add(1))
}

func (n *SerialNCP) OnAttributeReport(handler func(AttributeReportEvent)) {
	n.handlerMu.Lock()
	n.onReport = handler
	n.handlerMu.Unlock()
}

func (n *SerialNCP) OnClusterCommand(handler func(ClusterCommandEvent)) {
	n.handlerMu.Lock()
	n.onClusterCmd = handler
	n.handlerMu.Unlock()
}

// --- Transport ---

// request sends a ZCL frame and waits for the gateway status.
func (n *SerialNCP) request(ctx context.Context, addr uint16, ep uint8, cluster uint16, f zcl.Frame) error {
	tsn := n.nextTSN()

	ch := make(chan uint8, 1)
	n.reqMu.Lock()
	n.reqPending[tsn] = ch
	n.reqMu.Unlock()
	defer func() {
		n.reqMu.Lock()
		delete(n.reqPending, tsn)
		n.reqMu.Unlock()
	}()

	raw := encodeFrame(encodeDataReq(tsn, addr, ep, cluster, f))
	n.writeMu.Lock()
	_, err := n.port.Write(raw)
	n.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	n.logger.Debug("zcl TX",
		"short", fmt.Sprintf("0x%04X", addr),
		"ep", ep,
		"cluster", fmt.Sprintf("0x%04X", cluster),
		"cmd", fmt.Sprintf("0x%02X", f.CommandID),
		"tsn", tsn,
		"payload", fmt.Sprintf("%X", f.Payload))

	timer := time.NewTimer(statusTimeout)
	defer timer.Stop()
	select {
	case status, ok := <-ch:
		if !ok {
			return errors.New("ncp closed")
		}
		if status != statusOK {
			return fmt.Errorf("gateway status 0x%02X", status)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("gateway status timeout (tsn %d)", tsn)
	case <-ctx.Done():
		return ctx.Err()
	case <-n.done:
		return errors.New("ncp closed")
	}
}

// exchange sends a global ZCL command and waits for the device's response.
func (n *SerialNCP) exchange(ctx context.Context, addr uint16, ep uint8, cluster uint16, f zcl.Frame) (zcl.Frame, error) {
	seq := f.TSN
	ch := make(chan zcl.Frame, 1)
	n.zclMu.Lock()
	n.zclPending[seq] = ch
	n.zclMu.Unlock()
	defer func() {
		n.zclMu.Lock()
		delete(n.zclPending, seq)
		n.zclMu.Unlock()
	}()

	if err := n.request(ctx, addr, ep, cluster, f); err != nil {
		return zcl.Frame{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return zcl.Frame{}, errors.New("ncp closed")
		}
		return resp, nil
	case <-ctx.Done():
		n.logger.Warn("zcl response timeout",
			"short", fmt.Sprintf("0x%04X", addr),
			"cluster", fmt.Sprintf("0x%04X", cluster),
			"tsn", seq)
		return zcl.Frame{}, ctx.Err()
	case <-n.done:
		return zcl.Frame{}, errors.New("ncp closed")
	}
}

func (n *SerialNCP) readLoop() {
	defer n.wg.Done()

	backoff := 10 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		select {
		case <-n.done:
			return
		default:
		}

		body, err := readFrame(n.reader)
		if err != nil {
			select {
			case <-n.done:
				return
			default:
			}
			if errors.Is(err, errBadCRC) || errors.Is(err, errFrameShort) || errors.Is(err, errFrameLong) {
				n.logger.Warn("serial frame dropped", "err", err)
				continue
			}
			if err != io.EOF && !strings.Contains(err.Error(), "closed") {
				n.logger.Error("serial read error", "err", err)
			}
			select {
			case <-time.After(backoff):
			case <-n.done:
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = 10 * time.Millisecond

		switch body[0] {
		case kindStatus:
			if len(body) < statusFrameLen {
				n.logger.Warn("short status frame", "len", len(body))
				continue
			}
			n.reqMu.Lock()
			ch, ok := n.reqPending[body[1]]
			n.reqMu.Unlock()
			if !ok {
				n.logger.Warn("orphaned gateway status", "tsn", body[1], "status", body[2])
				continue
			}
			select {
			case ch <- body[2]:
			default:
			}
		case kindDataInd:
			ind, err := decodeDataInd(body)
			if err != nil {
				n.logger.Warn("data indication decode error", "err", err)
				continue
			}
			n.handleDataInd(ind)
		default:
			n.logger.Warn("unknown frame kind", "kind", fmt.Sprintf("0x%02X", body[0]))
		}
	}
}

func (n *SerialNCP) handleDataInd(ind *dataInd) {
	f := ind.Frame
	n.logger.Debug("zcl RX",
		"short", fmt.Sprintf("0x%04X", ind.SrcAddr),
		"ep", ind.SrcEP,
		"cluster", fmt.Sprintf("0x%04X", ind.ClusterID),
		"cmd", fmt.Sprintf("0x%02X", f.CommandID),
		"cluster_specific", f.ClusterSpecific,
		"tsn", f.TSN,
		"payload", fmt.Sprintf("%X", f.Payload))

	n.handlerMu.RLock()
	onReport := n.onReport
	onClusterCmd := n.onClusterCmd
	n.handlerMu.RUnlock()

	if f.ClusterSpecific {
		if onClusterCmd != nil {
			onClusterCmd(ClusterCommandEvent{
				SrcAddr:          ind.SrcAddr,
				SrcEP:            ind.SrcEP,
				ClusterID:        ind.ClusterID,
				CommandID:        f.CommandID,
				ManufacturerCode: f.ManufacturerCode,
				ServerToClient:   f.ServerToClient,
				Payload:          f.Payload,
				LQI:              ind.LQI,
				RSSI:             ind.RSSI,
			})
		}
		return
	}

	switch f.CommandID {
	case zcl.FoundationReadAttributesResponse, zcl.FoundationWriteAttributesResp, zcl.FoundationDefaultResponse:
		n.zclMu.Lock()
		ch, ok := n.zclPending[f.TSN]
		n.zclMu.Unlock()
		if ok {
			select {
			case ch <- f:
			default:
			}
			return
		}
		if f.CommandID != zcl.FoundationReadAttributesResponse {
			return
		}
		// Late read responses still carry fresh values.
		fallthrough
	case zcl.FoundationReportAttributes:
		parse := zcl.ParseReportAttributes
		if f.CommandID == zcl.FoundationReadAttributesResponse {
			parse = zcl.ParseReadAttributesResponse
		}
		recs, err := parse(f.Payload)
		if err != nil {
			n.logger.Warn("attribute report decode error", "cluster", fmt.Sprintf("0x%04X", ind.ClusterID), "err", err)
		}
		if onReport != nil && len(recs) > 0 {
			onReport(AttributeReportEvent{
				SrcAddr:          ind.SrcAddr,
				SrcEP:            ind.SrcEP,
				ClusterID:        ind.ClusterID,
				ManufacturerCode: f.ManufacturerCode,
				Records:          recs,
				LQI:              ind.LQI,
				RSSI:             ind.RSSI,
			})
		}
	}
}

// --- ZCL ---

func (n *SerialNCP) ReadAttributes(ctx context.Context, req ReadAttributesRequest) ([]zcl.AttributeRecord, error) {
	f := zcl.Frame{
		Header: zcl.Header{
			ManufacturerCode: req.ManufacturerCode,
			TSN:              n.nextZCLSeq(),
			CommandID:        zcl.FoundationReadAttributes,
		},
		Payload: zcl.ReadAttributesPayload(req.AttrIDs...),
	}
	resp, err := n.exchange(ctx, req.DstAddr, req.DstEP, req.ClusterID, f)
	if err != nil {
		return nil, fmt.Errorf("read attributes 0x%04X: %w", req.ClusterID, err)
	}
	if resp.CommandID == zcl.FoundationDefaultResponse {
		return nil, fmt.Errorf("read attributes 0x%04X: %w", req.ClusterID, defaultResponseErr(resp.Payload))
	}
	recs, err := zcl.ParseReadAttributesResponse(resp.Payload)
	if err != nil {
		return recs, fmt.Errorf("read attributes 0x%04X: %w", req.ClusterID, err)
	}
	return recs, nil
}

func (n *SerialNCP) WriteAttributes(ctx context.Context, req WriteAttributesRequest) error {
	payload, err := zcl.WriteAttributesPayload(req.Records...)
	if err != nil {
		return err
	}
	f := zcl.Frame{
		Header: zcl.Header{
			ManufacturerCode: req.ManufacturerCode,
			TSN:              n.nextZCLSeq(),
			CommandID:        zcl.FoundationWriteAttributes,
		},
		Payload: payload,
	}
	resp, err := n.exchange(ctx, req.DstAddr, req.DstEP, req.ClusterID, f)
	if err != nil {
		return fmt.Errorf("write attributes 0x%04X: %w", req.ClusterID, err)
	}
	if resp.CommandID == zcl.FoundationDefaultResponse {
		return fmt.Errorf("write attributes 0x%04X: %w", req.ClusterID, defaultResponseErr(resp.Payload))
	}
	statuses, err := zcl.ParseWriteAttributesResponse(resp.Payload)
	if err != nil {
		return fmt.Errorf("write attributes 0x%04X: %w", req.ClusterID, err)
	}
	for _, st := range statuses {
		if st.Status != zcl.ZCLStatusSuccess {
			return fmt.Errorf("write attribute 0x%04X/0x%04X: status 0x%02X", req.ClusterID, st.AttrID, st.Status)
		}
	}
	return nil
}

func (n *SerialNCP) SendCommand(ctx context.Context, req ClusterCommandRequest) error {
	f := zcl.Frame{
		Header: zcl.Header{
			ClusterSpecific:        true,
			ServerToClient:         req.ServerToClient,
			DisableDefaultResponse: true,
			ManufacturerCode:       req.ManufacturerCode,
			TSN:                    n.nextZCLSeq(),
			CommandID:              req.CommandID,
		},
		Payload: req.Payload,
	}
	if err := n.request(ctx, req.DstAddr, req.DstEP, req.ClusterID, f); err != nil {
		return fmt.Errorf("send command 0x%04X/0x%02X: %w", req.ClusterID, req.CommandID, err)
	}
	return nil
}

func defaultResponseErr(payload []byte) error {
	if len(payload) >= 2 {
		return fmt.Errorf("default response status 0x%02X", payload[1])
	}
	return errors.New("default response")
}

// Close stops the read loop and closes the port.
func (n *SerialNCP) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.done)
		err = n.port.Close()
	})
	n.wg.Wait()
	return err
}
