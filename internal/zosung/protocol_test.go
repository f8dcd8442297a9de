package zosung

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"zigbee-go-converters/internal/store"
)

const ep = "0x1234/1"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubSender records every command and can be told to fail.
type stubSender struct {
	mu   sync.Mutex
	sent []Command
	err  error
}

func (s *stubSender) Send(_ context.Context, endpoint string, cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, cmd)
	return nil
}

func (s *stubSender) take() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sent
	s.sent = nil
	return out
}

// countingStore counts session writes so tests can assert nothing changed.
type countingStore struct {
	*store.MemoryStore
	puts int
}

func (c *countingStore) PutSession(s *store.Session) error {
	c.puts++
	return c.MemoryStore.PutSession(s)
}

func newTestProtocol(opts ...Option) (*Protocol, *stubSender, *countingStore) {
	st := &countingStore{MemoryStore: store.NewMemoryStore()}
	sender := &stubSender{}
	return New(st, sender, newTestLogger(), opts...), sender, st
}

func TestLearnTransfer(t *testing.T) {
	p, sender, st := newTestProtocol()
	ctx := context.Background()

	announce := Code00{Seq: 5, Length: 10, Unk1: 0xAABBCCDD, Unk2: 0xE004, Unk3: 1, Cmd: 2, Unk4: 7}
	if res, err := p.Handle(ctx, ep, announce); err != nil || res != nil {
		t.Fatalf("Code00: res=%v err=%v", res, err)
	}
	sent := sender.take()
	if len(sent) != 2 {
		t.Fatalf("Code00 emitted %d commands, want 2", len(sent))
	}
	want01 := Code01{Seq: 5, Length: 10, Unk1: 0xAABBCCDD, Unk2: 0xE004, Unk3: 1, Cmd: 2, Unk4: 7}
	if sent[0] != want01 {
		t.Errorf("ack = %+v, want %+v", sent[0], want01)
	}
	if sent[1] != (Code02{Seq: 5, Position: 0, MaxLen: 0x38}) {
		t.Errorf("kickoff = %+v", sent[1])
	}

	part := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	chunk := Code03Resp{Seq: 5, Position: 0, MsgPart: part, MsgPartCRC: Checksum(part)}
	if _, err := p.Handle(ctx, ep, chunk); err != nil {
		t.Fatalf("Code03Resp: %v", err)
	}
	sess, err := st.GetSession(ep)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Position != 10 || !bytes.Equal(sess.Buffer, part) {
		t.Errorf("session = %+v", sess)
	}
	sent = sender.take()
	if len(sent) != 1 || sent[0] != (Code04{Seq: 5}) {
		t.Fatalf("after full buffer sent %+v, want Code04", sent)
	}

	res, err := p.Handle(ctx, ep, Code05Resp{Seq: 5})
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.Kind != ResultLearned {
		t.Fatalf("result = %+v", res)
	}
	if res.Code != base64.StdEncoding.EncodeToString(part) {
		t.Errorf("code = %q", res.Code)
	}
	sent = sender.take()
	if len(sent) != 1 {
		t.Fatalf("Code05Resp emitted %d commands", len(sent))
	}
	ctl, ok := sent[0].(ControlIRCommand00)
	if !ok || string(ctl.Data) != `{"study":1}` {
		t.Errorf("final command = %+v", sent[0])
	}

	if _, err := p.Handle(ctx, ep, Code05Resp{Seq: 5}); !errors.Is(err, ErrNoSession) {
		t.Errorf("after completion err = %v, want ErrNoSession", err)
	}
}

func TestLearnTransferMultipleChunks(t *testing.T) {
	p, sender, _ := newTestProtocol()
	ctx := context.Background()

	data := bytes.Repeat([]byte{0xAB}, 100)
	p.Handle(ctx, ep, Code00{Seq: 1, Length: uint32(len(data))})
	sender.take()

	for pos := 0; pos < len(data); pos += 0x38 {
		end := pos + 0x38
		if end > len(data) {
			end = len(data)
		}
		part := data[pos:end]
		if _, err := p.Handle(ctx, ep, Code03Resp{Seq: 1, Position: uint32(pos), MsgPart: part, MsgPartCRC: Checksum(part)}); err != nil {
			t.Fatalf("chunk at %d: %v", pos, err)
		}
		sent := sender.take()
		if len(sent) != 1 {
			t.Fatalf("chunk at %d emitted %d commands", pos, len(sent))
		}
		if end < len(data) {
			if sent[0] != (Code02{Seq: 1, Position: uint32(end), MaxLen: 0x38}) {
				t.Errorf("next request = %+v", sent[0])
			}
		} else if sent[0] != (Code04{Seq: 1}) {
			t.Errorf("final = %+v", sent[0])
		}
	}
}

func TestLearnRejectsBadChecksum(t *testing.T) {
	p, sender, st := newTestProtocol()
	ctx := context.Background()

	p.Handle(ctx, ep, Code00{Seq: 5, Length: 10})
	sender.take()
	puts := st.puts

	part := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	_, err := p.Handle(ctx, ep, Code03Resp{Seq: 5, Position: 0, MsgPart: part, MsgPartCRC: Checksum(part) + 1})
	if !errors.Is(err, ErrChecksum) {
		t.Fatalf("err = %v, want ErrChecksum", err)
	}
	var te *TransferError
	if !errors.As(err, &te) || te.Endpoint != ep || te.Seq != 5 {
		t.Errorf("err = %#v", err)
	}
	if sent := sender.take(); len(sent) != 0 {
		t.Errorf("emitted %+v after bad checksum", sent)
	}
	if st.puts != puts {
		t.Error("session was written after bad checksum")
	}
	if _, ok := p.Pending(ep); ok {
		t.Error("session should be cleared")
	}
}

func TestLearnRejectsWrongPosition(t *testing.T) {
	p, sender, _ := newTestProtocol()
	ctx := context.Background()

	p.Handle(ctx, ep, Code00{Seq: 2, Length: 10})
	sender.take()

	part := []byte{1, 2}
	_, err := p.Handle(ctx, ep, Code03Resp{Seq: 2, Position: 4, MsgPart: part, MsgPartCRC: Checksum(part)})
	if !errors.Is(err, ErrUnexpectedPosition) {
		t.Fatalf("err = %v, want ErrUnexpectedPosition", err)
	}
	if sent := sender.take(); len(sent) != 0 {
		t.Errorf("emitted %+v", sent)
	}
}

func TestSequenceMismatch(t *testing.T) {
	p, sender, _ := newTestProtocol()
	ctx := context.Background()

	p.Handle(ctx, ep, Code00{Seq: 5, Length: 4})
	sender.take()

	_, err := p.Handle(ctx, ep, Code03Resp{Seq: 6, Position: 0, MsgPart: []byte{1}, MsgPartCRC: 1})
	if !errors.Is(err, ErrUnexpectedSequence) {
		t.Fatalf("err = %v, want ErrUnexpectedSequence", err)
	}
	if _, ok := p.Pending(ep); ok {
		t.Error("mismatch should clear the session")
	}
	if sent := sender.take(); len(sent) != 0 {
		t.Errorf("emitted %+v", sent)
	}
}

func TestDirectionMismatch(t *testing.T) {
	p, sender, _ := newTestProtocol()
	ctx := context.Background()

	seq, err := p.SendPayload(ctx, ep, []byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	sender.take()
	if _, err := p.Handle(ctx, ep, Code05Resp{Seq: seq}); !errors.Is(err, ErrUnexpectedCommand) {
		t.Errorf("err = %v, want ErrUnexpectedCommand", err)
	}
}

func TestNoSession(t *testing.T) {
	p, _, _ := newTestProtocol()
	for _, cmd := range []Command{Code01{Seq: 1}, Code02{Seq: 1}, Code04{Seq: 1}, Code03Resp{Seq: 1}, Code05Resp{Seq: 1}} {
		if _, err := p.Handle(context.Background(), ep, cmd); !errors.Is(err, ErrNoSession) {
			t.Errorf("%s: err = %v, want ErrNoSession", cmd.Name(), err)
		}
	}
}

func TestAnnounceTooLarge(t *testing.T) {
	p, sender, _ := newTestProtocol()
	if _, err := p.Handle(context.Background(), ep, Code00{Seq: 1, Length: 1 << 24}); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("err = %v, want ErrInvalidLength", err)
	}
	if len(sender.take()) != 0 {
		t.Error("oversized announce should emit nothing")
	}
}

func TestSendTransfer(t *testing.T) {
	p, sender, _ := newTestProtocol()
	ctx := context.Background()

	payload := bytes.Repeat([]byte("0123456789"), 12) // 120 bytes
	seq, err := p.SendPayload(ctx, ep, payload)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 0 {
		t.Errorf("first seq = %d, want 0", seq)
	}

	sent := sender.take()
	if len(sent) != 2 {
		t.Fatalf("SendPayload emitted %d commands, want 2", len(sent))
	}
	wantAnnounce := Code00{Seq: seq, Length: 120, Unk1: 0, Unk2: 0xE004, Unk3: 1, Cmd: 2, Unk4: 0}
	if sent[0] != wantAnnounce {
		t.Errorf("announce = %+v, want %+v", sent[0], wantAnnounce)
	}
	if sent[1] != (Code02{Seq: seq, Position: 0, MaxLen: 0x38}) {
		t.Errorf("kickoff = %+v", sent[1])
	}

	if _, err := p.Handle(ctx, ep, Code01{Seq: seq, Length: 120}); err != nil {
		t.Fatalf("Code01: %v", err)
	}

	var got []byte
	rounds := 0
	for pos := 0; pos < len(payload); rounds++ {
		if _, err := p.Handle(ctx, ep, Code02{Seq: seq, Position: uint32(pos), MaxLen: 0x38}); err != nil {
			t.Fatalf("Code02 at %d: %v", pos, err)
		}
		sent := sender.take()
		if len(sent) != 1 {
			t.Fatalf("Code02 emitted %d commands", len(sent))
		}
		chunk, ok := sent[0].(Code03)
		if !ok {
			t.Fatalf("reply = %T, want Code03", sent[0])
		}
		if len(chunk.MsgPart) > 0x32 {
			t.Errorf("chunk of %d bytes exceeds 0x32", len(chunk.MsgPart))
		}
		if chunk.Position != uint32(pos) || chunk.MsgPartCRC != Checksum(chunk.MsgPart) {
			t.Errorf("chunk = %+v", chunk)
		}
		got = append(got, chunk.MsgPart...)
		pos += len(chunk.MsgPart)
	}
	if rounds != 3 {
		t.Errorf("rounds = %d, want 3", rounds)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("reassembled %q", got)
	}

	res, err := p.Handle(ctx, ep, Code04{Seq: seq})
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.Kind != ResultSent || res.Seq != seq {
		t.Errorf("result = %+v", res)
	}
	if sent := sender.take(); len(sent) != 1 || sent[0] != (Code05{Seq: seq}) {
		t.Errorf("completion sent %+v, want Code05", sent)
	}
	if _, ok := p.Pending(ep); ok {
		t.Error("session should be cleared")
	}
}

func TestSendSequenceIncrements(t *testing.T) {
	p, _, _ := newTestProtocol()
	for want := uint16(0); want < 3; want++ {
		seq, err := p.SendPayload(context.Background(), ep, []byte("x"))
		if err != nil {
			t.Fatal(err)
		}
		if seq != want {
			t.Errorf("seq = %d, want %d", seq, want)
		}
	}
}

func TestSendWithoutKickoff(t *testing.T) {
	p, sender, _ := newTestProtocol(WithReadKickoff(false))
	if _, err := p.SendPayload(context.Background(), ep, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if sent := sender.take(); len(sent) != 1 {
		t.Errorf("emitted %d commands, want only Code00", len(sent))
	}
}

func TestSendChunkPastEnd(t *testing.T) {
	p, sender, _ := newTestProtocol()
	ctx := context.Background()
	seq, _ := p.SendPayload(ctx, ep, []byte("abc"))
	sender.take()

	if _, err := p.Handle(ctx, ep, Code02{Seq: seq, Position: 4}); !errors.Is(err, ErrUnexpectedPosition) {
		t.Errorf("err = %v, want ErrUnexpectedPosition", err)
	}
}

func TestSendFailureAbandonsTransfer(t *testing.T) {
	p, sender, _ := newTestProtocol()
	sender.err = errors.New("radio down")

	if _, err := p.SendPayload(context.Background(), ep, []byte("abc")); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := p.Pending(ep); ok {
		t.Error("failed send should clear the session")
	}
}

func TestSendCodeWrapsJSON(t *testing.T) {
	p, _, st := newTestProtocol()
	if _, err := p.SendCode(context.Background(), ep, "B6QjhRGdAg=="); err != nil {
		t.Fatal(err)
	}
	sess, err := st.GetSession(ep)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"key_num":1,"delay":300,"key1":{"num":1,"freq":38000,"type":1,"key_code":"B6QjhRGdAg=="}}`
	if string(sess.Payload) != want {
		t.Errorf("payload = %s\nwant      %s", sess.Payload, want)
	}
	var v map[string]any
	if err := json.Unmarshal(sess.Payload, &v); err != nil {
		t.Error(err)
	}

	if _, err := p.SendCode(context.Background(), ep, ""); err == nil {
		t.Error("empty code should be rejected")
	}
}

func TestStartLearn(t *testing.T) {
	p, sender, _ := newTestProtocol()
	if err := p.StartLearn(context.Background(), ep); err != nil {
		t.Fatal(err)
	}
	sent := sender.take()
	if len(sent) != 1 {
		t.Fatalf("sent %d", len(sent))
	}
	if c, ok := sent[0].(ControlIRCommand00); !ok || string(c.Data) != `{"study":0}` {
		t.Errorf("sent %+v", sent[0])
	}
}

func TestStallTimeout(t *testing.T) {
	failed := make(chan error, 1)
	p, _, _ := newTestProtocol(
		WithStallTimeout(20*time.Millisecond),
		WithOnFailure(func(endpoint string, err error) { failed <- err }),
	)
	defer p.Close()

	if _, err := p.Handle(context.Background(), ep, Code00{Seq: 3, Length: 8}); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-failed:
		if !errors.Is(err, ErrStalled) {
			t.Errorf("err = %v, want ErrStalled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stall callback not called")
	}
	if _, ok := p.Pending(ep); ok {
		t.Error("stalled session should be cleared")
	}
}

func TestStallTimerStoppedOnCompletion(t *testing.T) {
	failed := make(chan error, 1)
	p, _, _ := newTestProtocol(
		WithStallTimeout(30*time.Millisecond),
		WithOnFailure(func(endpoint string, err error) { failed <- err }),
	)
	defer p.Close()
	ctx := context.Background()

	seq, _ := p.SendPayload(ctx, ep, []byte("abc"))
	if _, err := p.Handle(ctx, ep, Code04{Seq: seq}); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-failed:
		t.Fatalf("completed transfer reported %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}
