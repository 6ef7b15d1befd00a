package sfuclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Conference/internal/core"
	"github.com/dkeye/Conference/internal/domain"
	"github.com/dkeye/Conference/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	sendQueue = 64
	writeWait = 5 * time.Second
)

type peer struct {
	id     domain.PeerID
	ws     *websocket.Conn
	opts   Options
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	send   chan []byte
	sent   chan struct{}
	closed bool
	// waiter receives the reply to an outstanding join.
	waiter chan []byte
	room   *room
}

func newPeer(id domain.PeerID, ws *websocket.Conn, opts Options) *peer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &peer{
		id:     id,
		ws:     ws,
		opts:   opts,
		logger: log.With().Str("module", "adapters.sfuclient").Str("peer", string(id)).Logger(),
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, sendQueue),
		sent:   make(chan struct{}),
	}
	go p.writePump()
	go p.readPump()
	return p
}

func (p *peer) ID() domain.PeerID { return p.id }

// JoinRoom asks the server for key and, once admitted, opens the media
// connection carrying opts.Stream.
func (p *peer) JoinRoom(ctx context.Context, key domain.RoomKey, opts core.JoinOptions) (core.RoomHandle, error) {
	mode, name, err := key.Split()
	if err != nil {
		return nil, err
	}
	if opts.Mode != "" {
		mode = opts.Mode
	}

	p.mu.Lock()
	if p.room != nil || p.waiter != nil {
		p.mu.Unlock()
		return nil, core.ErrAlreadyJoined
	}
	waiter := make(chan []byte, 1)
	p.waiter = waiter
	p.mu.Unlock()

	forget := func() {
		p.mu.Lock()
		if p.waiter == waiter {
			p.waiter = nil
		}
		p.mu.Unlock()
	}

	if err := p.sendJSON(protocol.Join{Type: protocol.TypeJoin, Room: name, Mode: mode, Name: p.opts.Name}); err != nil {
		forget()
		return nil, err
	}

	var reply []byte
	select {
	case reply = <-waiter:
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-p.ctx.Done():
		forget()
		return nil, core.ErrConnectionClosed
	}

	if typ, _ := protocol.TypeOf(reply); typ == protocol.TypeError {
		var e protocol.Error
		_ = json.Unmarshal(reply, &e)
		return nil, fmt.Errorf("%w: %s", ErrJoinRejected, e.Error)
	}

	p.mu.Lock()
	r := p.room
	p.mu.Unlock()
	if r == nil {
		return nil, core.ErrConnectionClosed
	}
	if err := r.connect(p.ctx, opts.Stream); err != nil {
		_ = r.Close()
		return nil, err
	}
	p.logger.Info().Str("room", string(r.key)).Int("members", len(r.state.Members)).Msg("joined")
	return r, nil
}

func (p *peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	r := p.room
	p.mu.Unlock()

	if r != nil {
		_ = r.Close()
	}

	// Flush queued messages, the leave among them, before hanging up.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.send)
	p.mu.Unlock()
	select {
	case <-p.sent:
	case <-time.After(writeWait):
	}
	p.cancel()
	_ = p.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	err := p.ws.Close()
	p.logger.Info().Msg("peer closed")
	return err
}

// sendJSON queues v without blocking.
func (p *peer) sendJSON(v any) error {
	b, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return core.ErrConnectionClosed
	}
	select {
	case p.send <- b:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (p *peer) writePump() {
	defer close(p.sent)
	for {
		select {
		case <-p.ctx.Done():
			return
		case data, ok := <-p.send:
			if !ok {
				return
			}
			_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				p.logger.Error().Err(err).Msg("write error")
				p.cancel()
				return
			}
		}
	}
}

func (p *peer) readPump() {
	defer func() {
		p.cancel()
		p.mu.Lock()
		r := p.room
		p.mu.Unlock()
		if r != nil {
			r.dropped(core.ErrConnectionClosed)
		}
	}()
	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			p.logger.Info().Err(err).Msg("signaling closed")
			return
		}
		p.dispatch(data)
	}
}

func (p *peer) dispatch(data []byte) {
	typ, err := protocol.TypeOf(data)
	if err != nil {
		p.logger.Warn().Err(err).Msg("bad message")
		return
	}

	switch typ {
	case protocol.TypeRoomState, protocol.TypeError:
		p.mu.Lock()
		waiter := p.waiter
		p.waiter = nil
		if waiter != nil && typ == protocol.TypeRoomState {
			var st protocol.RoomState
			if err := json.Unmarshal(data, &st); err == nil {
				p.room = newRoom(p, st)
			}
		}
		p.mu.Unlock()
		if waiter != nil {
			waiter <- data
			return
		}
		if typ == protocol.TypeError {
			var e protocol.Error
			_ = json.Unmarshal(data, &e)
			p.logger.Warn().Str("error", e.Error).Msg("server error")
		}
		return
	}

	p.mu.Lock()
	r := p.room
	p.mu.Unlock()
	if r == nil {
		p.logger.Debug().Str("type", typ).Msg("message outside a room")
		return
	}
	r.handle(typ, data)
}

// release forgets r once it is closed.
func (p *peer) release(r *room) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.room == r {
		p.room = nil
	}
}
