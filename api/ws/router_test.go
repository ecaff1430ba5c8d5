package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/norne/arenanav/game/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { return zap.NewNop() }

func makePacket(t *testing.T, seq uint64, msgType string, payload any) []byte {
	t.Helper()
	p, _ := json.Marshal(payload)
	b, err := json.Marshal(Packet{Seq: seq, Type: msgType, Payload: p})
	require.NoError(t, err)
	return b
}

func readPacket(t *testing.T, s *Session) Packet {
	t.Helper()
	select {
	case data := <-s.SendChan:
		var pkt Packet
		require.NoError(t, json.Unmarshal(data, &pkt))
		return pkt
	default:
		t.Fatal("no packet queued")
	}
	return Packet{}
}

func TestRouter_Dispatch_Basic(t *testing.T) {
	r := NewRouter(nop())
	var got json.RawMessage
	r.On("ping", func(ctx context.Context, s *Session, payload json.RawMessage) error {
		got = payload
		assert.NotEmpty(t, TraceIDFromCtx(ctx))
		return nil
	})

	s := newSession("a", nil, nop())
	r.Dispatch(s, makePacket(t, 1, "ping", map[string]int{"n": 1}))
	assert.JSONEq(t, `{"n":1}`, string(got))
	assert.NotEmpty(t, s.TraceID)
}

func TestRouter_Dispatch_MalformedAndUnknown(t *testing.T) {
	r := NewRouter(nop())
	called := false
	r.On("known", func(context.Context, *Session, json.RawMessage) error {
		called = true
		return nil
	})
	s := newSession("a", nil, nop())
	r.Dispatch(s, []byte("not json"))
	r.Dispatch(s, makePacket(t, 1, "unknown", nil))
	assert.False(t, called)
	assert.Empty(t, s.SendChan)
}

func TestRouter_Dispatch_AntiReplay(t *testing.T) {
	r := NewRouter(nop())
	calls := 0
	r.On("msg", func(context.Context, *Session, json.RawMessage) error {
		calls++
		return nil
	})
	s := newSession("a", nil, nop())

	r.Dispatch(s, makePacket(t, 5, "msg", nil))
	r.Dispatch(s, makePacket(t, 5, "msg", nil))
	r.Dispatch(s, makePacket(t, 3, "msg", nil))
	assert.Equal(t, 1, calls)

	r.Dispatch(s, makePacket(t, 6, "msg", nil))
	// seq 0 is never tracked
	r.Dispatch(s, makePacket(t, 0, "msg", nil))
	r.Dispatch(s, makePacket(t, 0, "msg", nil))
	assert.Equal(t, 4, calls)
	assert.EqualValues(t, 6, s.LastSeq)
}

func TestRouter_Dispatch_ErrorReplies(t *testing.T) {
	r := NewRouter(nop())
	r.On("plan", func(context.Context, *Session, json.RawMessage) error {
		return errors.Join(errors.New("ctx"), ai.ErrNoPathFound)
	})
	s := newSession("a", nil, nop())
	r.Dispatch(s, makePacket(t, 9, "plan", nil))

	pkt := readPacket(t, s)
	assert.Equal(t, TypeError, pkt.Type)
	var body errorPayload
	require.NoError(t, json.Unmarshal(pkt.Payload, &body))
	assert.EqualValues(t, 9, body.Seq)
	assert.Equal(t, "plan", body.Type)
	assert.Equal(t, "no_path", body.Code)
}

func TestSession_SendDropsWhenClosed(t *testing.T) {
	s := newSession("a", nil, nop())
	s.Close()
	s.Close()
	assert.True(t, s.IsClosed())
	s.Send("x", nil)
	assert.Empty(t, s.SendChan)
}

func TestSession_ConcurrentClose(t *testing.T) {
	s := newSession("a", nil, nop())
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			s.Close()
		}()
	}
	assert.NotPanics(t, func() {
		close(start)
		wg.Wait()
	})
	assert.True(t, s.IsClosed())
}

func TestSession_SendDropsWhenFull(t *testing.T) {
	s := newSession("a", nil, nop())
	for i := 0; i < sendChanBuf+5; i++ {
		s.Send("x", i)
	}
	assert.Len(t, s.SendChan, sendChanBuf)
}

func TestSession_Stale(t *testing.T) {
	s := newSession("a", nil, nop())
	assert.False(t, s.takeStale())
	s.MarkStale()
	assert.True(t, s.takeStale())
	assert.False(t, s.takeStale())
}
