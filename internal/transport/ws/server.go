package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/cube"
	"voxelstream.ai/internal/sim/level"
	"voxelstream.ai/internal/sim/stream"
)

// Level is the part of a level runtime the transport uses.
type Level interface {
	Join(ctx context.Context, req level.JoinRequest) (level.JoinResponse, error)
	Leave(sessionID string)
	SetCell(ctx context.Context, x, y, z int, id chunk.CellID) error
}

const (
	outQueue = 256

	// editTimeout bounds how long the reader waits for the level to apply an EDIT.
	editTimeout = 2 * time.Second
)

type Server struct {
	level Level
	log   zerolog.Logger

	upgrader websocket.Upgrader
}

func NewServer(l Level, logger zerolog.Logger) *Server {
	s := &Server{
		level: l,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess, ok := s.handshake(r.Context(), conn)
		if !ok {
			return
		}
		log := s.log.With().Str("session", sess.id).Logger()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						_ = conn.Close()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			s.handleMessage(log, sess, msg)
		}

		// Cleanup.
		s.level.Leave(sess.id)
	}
}

type session struct {
	id     string
	out    chan []byte
	anchor *stream.Anchor
}

// reply queues a message behind the level's payloads; it is dropped when the outbox is full.
func (sess session) reply(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case sess.out <- b:
	default:
	}
}

func (s *Server) handleMessage(log zerolog.Logger, sess session, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypeMove:
		if err := protocol.Validate(protocol.TypeMove, msg); err != nil {
			log.Debug().Err(err).Msg("dropping invalid MOVE")
			return
		}
		var mv protocol.MoveMsg
		if err := json.Unmarshal(msg, &mv); err != nil {
			return
		}
		applyMove(sess.anchor, mv)
	case protocol.TypeEdit:
		s.handleEdit(log, sess, msg)
	}
}

// handleEdit applies an EDIT and answers failures with ERROR. Success is visible as the chunk being
// streamed again.
func (s *Server) handleEdit(log zerolog.Logger, sess session, msg []byte) {
	if err := protocol.Validate(protocol.TypeEdit, msg); err != nil {
		sess.reply(protocol.NewError(protocol.ErrBadRequest, err.Error()))
		return
	}
	var ed protocol.EditMsg
	if err := json.Unmarshal(msg, &ed); err != nil {
		sess.reply(protocol.NewError(protocol.ErrBadRequest, "malformed EDIT"))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), editTimeout)
	defer cancel()
	if err := s.level.SetCell(ctx, ed.Pos[0], ed.Pos[1], ed.Pos[2], chunk.CellID(ed.Cell)); err != nil {
		log.Debug().Err(err).Ints("pos", ed.Pos[:]).Uint32("cell", ed.Cell).Msg("edit rejected")
		sess.reply(protocol.NewError(editErrorCode(err), err.Error()))
	}
}

func editErrorCode(err error) string {
	switch {
	case errors.Is(err, chunk.ErrCellOutOfRange), errors.Is(err, chunk.ErrReadOnly), errors.Is(err, level.ErrNotResident):
		return protocol.ErrBadRequest
	case errors.Is(err, level.ErrStopped):
		return protocol.ErrLevelClosed
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.ErrLevelBusy
	default:
		return protocol.ErrInternal
	}
}

// applyMove updates the anchor in one swap so the level never observes a half-applied move.
func applyMove(a *stream.Anchor, mv protocol.MoveMsg) {
	cur := a.Current()
	cur.Pos = cube.FromVec3(mgl64.Vec3(mv.Pos))
	if mv.Radius > 0 {
		cur.Radius = mv.Radius
	}
	if mv.ActiveRadius > 0 {
		cur.ActiveRadius = mv.ActiveRadius
	}
	a.Set(cur)
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (session, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return session{}, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		s.reject(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return session{}, false
	}
	if base.ProtocolVersion != protocol.Version {
		s.reject(conn, protocol.ErrProtoVersion, "bad protocol_version")
		return session{}, false
	}
	if err := protocol.Validate(protocol.TypeHello, msg); err != nil {
		s.reject(conn, protocol.ErrProtoBadRequest, err.Error())
		return session{}, false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		s.reject(conn, protocol.ErrProtoBadRequest, "malformed HELLO")
		return session{}, false
	}

	out := make(chan []byte, outQueue)
	jctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := s.level.Join(jctx, level.JoinRequest{
		Name:         hello.Name,
		Pos:          mgl64.Vec3(hello.Pos),
		Radius:       hello.Radius,
		ActiveRadius: hello.ActiveRadius,
		Out:          out,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("name", hello.Name).Msg("join failed")
		s.reject(conn, protocol.ErrLevelBusy, "join failed")
		return session{}, false
	}

	// Send welcome + catalog before any chunk payload.
	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.level.Leave(resp.SessionID)
		return session{}, false
	}
	if err := writeJSON(conn, resp.Catalog); err != nil {
		s.level.Leave(resp.SessionID)
		return session{}, false
	}
	return session{id: resp.SessionID, out: out, anchor: resp.Anchor}, true
}

func (s *Server) reject(conn *websocket.Conn, code, msg string) {
	_ = writeJSON(conn, protocol.NewError(code, msg))
	// Close reasons are limited to 123 bytes.
	reason := msg
	if len(reason) > 120 {
		reason = reason[:120]
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
