// Package zosung implements the chunked IR code transfer used by Tuya/Zosung
// IR blasters.
//
// Sending a code: we announce it with Code00, the device pulls it in chunks
// with Code02/Code03 and closes the transfer with Code04, which we ack with
// Code05. Learning a code mirrors this: the device announces with Code00, we
// pull chunks with Code02 and get Code03Resp back, then close with Code04 and
// wait for Code05Resp.
package zosung

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zigbee-go-converters/internal/store"
)

const (
	// readMaxLen is the chunk size advertised in Code02.
	readMaxLen = 0x38
	// sendChunkLen is the slice size used when answering Code02. It is
	// smaller than readMaxLen on purpose; devices are known to work with it.
	sendChunkLen = 0x32
	// maxLearnLength bounds the buffer a device can make us allocate.
	maxLearnLength = 0x10000
)

var (
	ErrNoSession          = errors.New("no transfer session")
	ErrUnexpectedSequence = errors.New("unexpected sequence")
	ErrUnexpectedPosition = errors.New("unexpected position")
	ErrUnexpectedCommand  = errors.New("command does not match transfer direction")
	ErrChecksum           = errors.New("chunk checksum mismatch")
	ErrInvalidLength      = errors.New("invalid transfer length")
	ErrStalled            = errors.New("transfer stalled")
)

// TransferError reports a failed transfer. The session has already been
// cleared when it is returned.
type TransferError struct {
	Endpoint string
	Seq      uint16
	Detail   string
	Err      error
}

func (e *TransferError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("zosung %s seq %d: %v (%s)", e.Endpoint, e.Seq, e.Err, e.Detail)
	}
	return fmt.Sprintf("zosung %s seq %d: %v", e.Endpoint, e.Seq, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Sender emits a command to an endpoint.
type Sender interface {
	Send(ctx context.Context, endpoint string, cmd Command) error
}

// SessionStore keeps at most one transfer session per endpoint and hands out
// per-endpoint sequence numbers. Get returns store.ErrNotFound when empty.
type SessionStore interface {
	GetSession(endpoint string) (*store.Session, error)
	PutSession(s *store.Session) error
	ClearSession(endpoint string) error
	NextSeq(endpoint string) (uint16, error)
}

// ResultKind says which transfer completed.
type ResultKind string

const (
	ResultSent    ResultKind = "sent"
	ResultLearned ResultKind = "learned"
)

// Result is returned by Handle when a transfer completes.
type Result struct {
	Kind     ResultKind `json:"kind"`
	Endpoint string     `json:"endpoint"`
	Seq      uint16     `json:"seq"`
	Code     string     `json:"code,omitempty"` // base64, learned transfers only
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithStallTimeout clears a session when no packet for it has been accepted
// within d. Zero disables supervision.
func WithStallTimeout(d time.Duration) Option {
	return func(p *Protocol) { p.stallTimeout = d }
}

// WithReadKickoff controls whether SendPayload follows Code00 with a Code02
// for position 0. Enabled by default.
func WithReadKickoff(enabled bool) Option {
	return func(p *Protocol) { p.readKickoff = enabled }
}

// WithOnFailure registers fn for failures not tied to a Handle call, such as
// stalled transfers.
func WithOnFailure(fn func(endpoint string, err error)) Option {
	return func(p *Protocol) { p.onFailure = fn }
}

type stallTimer struct {
	timer *time.Timer
	gen   uint64
}

// Protocol runs the transfer state machines for every endpoint.
type Protocol struct {
	store  SessionStore
	sender Sender
	logger *slog.Logger

	stallTimeout time.Duration
	readKickoff  bool
	onFailure    func(endpoint string, err error)
	now          func() time.Time

	mu     sync.Mutex
	timers map[string]*stallTimer
	gen    uint64
}

// New creates a Protocol.
func New(st SessionStore, sender Sender, logger *slog.Logger, opts ...Option) *Protocol {
	p := &Protocol{
		store:       st,
		sender:      sender,
		logger:      logger.With("component", "zosung"),
		readKickoff: true,
		now:         time.Now,
		timers:      make(map[string]*stallTimer),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type irCode struct {
	KeyNum int   `json:"key_num"`
	Delay  int   `json:"delay"`
	Key1   irKey `json:"key1"`
}

type irKey struct {
	Num     int    `json:"num"`
	Freq    int    `json:"freq"`
	Type    int    `json:"type"`
	KeyCode string `json:"key_code"`
}

// SendCode sends a base64 IR code to the blaster on endpoint.
func (p *Protocol) SendCode(ctx context.Context, endpoint, code string) (uint16, error) {
	if code == "" {
		return 0, errors.New("zosung: no IR code to send")
	}
	payload, err := json.Marshal(irCode{
		KeyNum: 1,
		Delay:  300,
		Key1:   irKey{Num: 1, Freq: 38000, Type: 1, KeyCode: code},
	})
	if err != nil {
		return 0, fmt.Errorf("encode ir code: %w", err)
	}
	return p.SendPayload(ctx, endpoint, payload)
}

// SendPayload starts an outbound transfer of payload and returns its
// sequence number. The device then drives the transfer with Code02 requests.
func (p *Protocol) SendPayload(ctx context.Context, endpoint string, payload []byte) (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	seq, err := p.store.NextSeq(endpoint)
	if err != nil {
		return 0, fmt.Errorf("allocate seq: %w", err)
	}
	if old, err := p.store.GetSession(endpoint); err == nil {
		p.logger.Warn("replacing in-flight transfer", "endpoint", endpoint, "old_seq", old.Seq, "seq", seq)
	}

	now := p.now()
	sess := &store.Session{
		Endpoint:  endpoint,
		Seq:       seq,
		Direction: store.DirectionSend,
		Payload:   append([]byte(nil), payload...),
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.PutSession(sess); err != nil {
		return 0, fmt.Errorf("save session: %w", err)
	}
	p.arm(endpoint, seq)

	announce := Code00{Seq: seq, Length: uint32(len(payload)), Unk2: ClusterIRControl, Unk3: 0x01, Cmd: 0x02}
	if err := p.send(ctx, endpoint, seq, announce); err != nil {
		return 0, err
	}
	if p.readKickoff {
		if err := p.send(ctx, endpoint, seq, Code02{Seq: seq, Position: 0, MaxLen: readMaxLen}); err != nil {
			return 0, err
		}
	}
	p.logger.Debug("ir send started", "endpoint", endpoint, "seq", seq, "length", len(payload))
	return seq, nil
}

// StartLearn puts the blaster into learn mode. The learned code arrives later
// as a Result from Handle.
func (p *Protocol) StartLearn(ctx context.Context, endpoint string) error {
	if err := p.sender.Send(ctx, endpoint, ControlIRCommand00{Data: []byte(`{"study":0}`)}); err != nil {
		return fmt.Errorf("start learn: %w", err)
	}
	p.logger.Debug("ir learn started", "endpoint", endpoint)
	return nil
}

// Handle processes one command received from endpoint. It returns a non-nil
// Result when the command completes a transfer. A *TransferError means the
// transfer was aborted and its session cleared.
func (p *Protocol) Handle(ctx context.Context, endpoint string, cmd Command) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch c := cmd.(type) {
	case Code00:
		return nil, p.handleAnnounce(ctx, endpoint, c)
	case Code01:
		if _, err := p.session(endpoint, c.Seq, store.DirectionSend); err != nil {
			return nil, err
		}
		p.logger.Debug("ir send acknowledged", "endpoint", endpoint, "seq", c.Seq, "length", c.Length)
		p.arm(endpoint, c.Seq)
		return nil, nil
	case Code02:
		return nil, p.handleChunkRequest(ctx, endpoint, c)
	case Code04:
		return p.handleSendDone(ctx, endpoint, c)
	case Code03Resp:
		return nil, p.handleChunk(ctx, endpoint, c)
	case Code05Resp:
		return p.handleLearnDone(ctx, endpoint, c)
	default:
		return nil, fmt.Errorf("zosung: unexpected command %s from %s", cmd.Name(), endpoint)
	}
}

// Pending returns the in-flight session for endpoint, if any.
func (p *Protocol) Pending(endpoint string) (*store.Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.store.GetSession(endpoint)
	return s, err == nil
}

// Close stops every stall timer.
func (p *Protocol) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ep, t := range p.timers {
		t.timer.Stop()
		delete(p.timers, ep)
	}
}

func (p *Protocol) handleChunkRequest(ctx context.Context, endpoint string, c Code02) error {
	sess, err := p.session(endpoint, c.Seq, store.DirectionSend)
	if err != nil {
		return err
	}
	pos := int(c.Position)
	if pos > len(sess.Payload) {
		return p.fail(endpoint, c.Seq, ErrUnexpectedPosition,
			fmt.Sprintf("requested %d, payload is %d bytes", pos, len(sess.Payload)))
	}
	end := pos + sendChunkLen
	if end > len(sess.Payload) {
		end = len(sess.Payload)
	}
	part := sess.Payload[pos:end]

	sess.Position = pos
	sess.UpdatedAt = p.now()
	if err := p.store.PutSession(sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	p.arm(endpoint, c.Seq)

	sum := Checksum(part)
	if err := p.send(ctx, endpoint, c.Seq, Code03{Seq: c.Seq, Position: c.Position, MsgPart: part, MsgPartCRC: sum}); err != nil {
		return err
	}
	p.logger.Debug("ir chunk sent", "endpoint", endpoint, "seq", c.Seq, "position", pos, "len", len(part), "crc", sum)
	return nil
}

func (p *Protocol) handleSendDone(ctx context.Context, endpoint string, c Code04) (*Result, error) {
	if _, err := p.session(endpoint, c.Seq, store.DirectionSend); err != nil {
		return nil, err
	}
	if err := p.send(ctx, endpoint, c.Seq, Code05{Seq: c.Seq}); err != nil {
		return nil, err
	}
	p.clear(endpoint)
	p.logger.Info("ir code sent", "endpoint", endpoint, "seq", c.Seq)
	return &Result{Kind: ResultSent, Endpoint: endpoint, Seq: c.Seq}, nil
}

func (p *Protocol) handleAnnounce(ctx context.Context, endpoint string, c Code00) error {
	if c.Length > maxLearnLength {
		p.clear(endpoint)
		return &TransferError{Endpoint: endpoint, Seq: c.Seq, Err: ErrInvalidLength, Detail: fmt.Sprintf("%d bytes", c.Length)}
	}
	if old, err := p.store.GetSession(endpoint); err == nil {
		p.logger.Warn("replacing in-flight transfer", "endpoint", endpoint, "old_seq", old.Seq, "seq", c.Seq)
	}

	now := p.now()
	sess := &store.Session{
		Endpoint:  endpoint,
		Seq:       c.Seq,
		Direction: store.DirectionLearn,
		Buffer:    make([]byte, c.Length),
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.PutSession(sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	p.arm(endpoint, c.Seq)

	ack := Code01{Seq: c.Seq, Length: c.Length, Unk1: c.Unk1, Unk2: c.Unk2, Unk3: c.Unk3, Cmd: c.Cmd, Unk4: c.Unk4}
	if err := p.send(ctx, endpoint, c.Seq, ack); err != nil {
		return err
	}
	if err := p.send(ctx, endpoint, c.Seq, Code02{Seq: c.Seq, Position: 0, MaxLen: readMaxLen}); err != nil {
		return err
	}
	p.logger.Debug("ir learn transfer started", "endpoint", endpoint, "seq", c.Seq, "length", c.Length)
	return nil
}

func (p *Protocol) handleChunk(ctx context.Context, endpoint string, c Code03Resp) error {
	sess, err := p.session(endpoint, c.Seq, store.DirectionLearn)
	if err != nil {
		return err
	}
	if int(c.Position) != sess.Position {
		return p.fail(endpoint, c.Seq, ErrUnexpectedPosition,
			fmt.Sprintf("got %d, expecting %d", c.Position, sess.Position))
	}
	if sum := Checksum(c.MsgPart); sum != c.MsgPartCRC {
		return p.fail(endpoint, c.Seq, ErrChecksum,
			fmt.Sprintf("computed %d, expecting %d", sum, c.MsgPartCRC))
	}

	n := copy(sess.Buffer[sess.Position:], c.MsgPart)
	sess.Position += n
	sess.UpdatedAt = p.now()
	if err := p.store.PutSession(sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	p.arm(endpoint, c.Seq)
	p.logger.Debug("ir chunk received", "endpoint", endpoint, "seq", c.Seq, "len", n, "position", sess.Position, "total", len(sess.Buffer))

	if sess.Position < len(sess.Buffer) {
		return p.send(ctx, endpoint, c.Seq, Code02{Seq: c.Seq, Position: uint32(sess.Position), MaxLen: readMaxLen})
	}
	return p.send(ctx, endpoint, c.Seq, Code04{Seq: c.Seq})
}

func (p *Protocol) handleLearnDone(ctx context.Context, endpoint string, c Code05Resp) (*Result, error) {
	sess, err := p.session(endpoint, c.Seq, store.DirectionLearn)
	if err != nil {
		return nil, err
	}
	code := base64.StdEncoding.EncodeToString(sess.Buffer)
	p.clear(endpoint)
	p.logger.Info("ir code learned", "endpoint", endpoint, "seq", c.Seq, "bytes", len(sess.Buffer))

	// The code is already complete; a failed re-arm of learn mode is not
	// a failed transfer.
	if err := p.sender.Send(ctx, endpoint, ControlIRCommand00{Data: []byte(`{"study":1}`)}); err != nil {
		p.logger.Warn("ir learn close failed", "endpoint", endpoint, "err", err)
	}
	return &Result{Kind: ResultLearned, Endpoint: endpoint, Seq: c.Seq, Code: code}, nil
}

// session loads the endpoint's session and checks it belongs to seq and dir.
// Any mismatch clears the session.
func (p *Protocol) session(endpoint string, seq uint16, dir store.Direction) (*store.Session, error) {
	sess, err := p.store.GetSession(endpoint)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &TransferError{Endpoint: endpoint, Seq: seq, Err: ErrNoSession}
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.Seq != seq {
		return nil, p.fail(endpoint, seq, ErrUnexpectedSequence,
			fmt.Sprintf("expected %d, current %d", sess.Seq, seq))
	}
	if sess.Direction != dir {
		return nil, p.fail(endpoint, seq, ErrUnexpectedCommand,
			fmt.Sprintf("session is %s, command is %s", sess.Direction, dir))
	}
	return sess, nil
}

// send emits cmd. A failure abandons the transfer.
func (p *Protocol) send(ctx context.Context, endpoint string, seq uint16, cmd Command) error {
	if err := p.sender.Send(ctx, endpoint, cmd); err != nil {
		p.clear(endpoint)
		p.logger.Warn("ir transfer abandoned", "endpoint", endpoint, "seq", seq, "cmd", cmd.Name(), "err", err)
		return fmt.Errorf("send %s: %w", cmd.Name(), err)
	}
	return nil
}

func (p *Protocol) fail(endpoint string, seq uint16, err error, detail string) error {
	p.clear(endpoint)
	return &TransferError{Endpoint: endpoint, Seq: seq, Err: err, Detail: detail}
}

func (p *Protocol) clear(endpoint string) {
	if err := p.store.ClearSession(endpoint); err != nil {
		p.logger.Error("clear session failed", "endpoint", endpoint, "err", err)
	}
	if t, ok := p.timers[endpoint]; ok {
		t.timer.Stop()
		delete(p.timers, endpoint)
	}
}

// arm (re)starts the stall timer for endpoint. Callers hold p.mu.
func (p *Protocol) arm(endpoint string, seq uint16) {
	if p.stallTimeout <= 0 {
		return
	}
	if t, ok := p.timers[endpoint]; ok {
		t.timer.Stop()
	}
	p.gen++
	gen := p.gen
	p.timers[endpoint] = &stallTimer{
		gen:   gen,
		timer: time.AfterFunc(p.stallTimeout, func() { p.expire(endpoint, seq, gen) }),
	}
}

func (p *Protocol) expire(endpoint string, seq uint16, gen uint64) {
	p.mu.Lock()
	t, ok := p.timers[endpoint]
	if !ok || t.gen != gen {
		p.mu.Unlock()
		return
	}
	p.clear(endpoint)
	p.mu.Unlock()

	err := &TransferError{Endpoint: endpoint, Seq: seq, Err: ErrStalled, Detail: p.stallTimeout.String()}
	p.logger.Warn("ir transfer stalled", "endpoint", endpoint, "seq", seq, "timeout", p.stallTimeout)
	if p.onFailure != nil {
		p.onFailure(endpoint, err)
	}
}
