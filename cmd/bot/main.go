package main

import (
	"flag"
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voxelstream.ai/internal/protocol"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "viewer name")
		radius = flag.Int("radius", 4, "streaming radius in chunks")
		x      = flag.Float64("x", 0, "start x")
		y      = flag.Float64("y", 64, "start y")
		z      = flag.Float64("z", 0, "start z")
		speed  = flag.Float64("speed", 8, "walk speed along +x in cells per second (0 stands still)")
		every  = flag.Duration("every", 250*time.Millisecond, "MOVE interval")
		report = flag.Duration("report", 5*time.Second, "stats interval")
		edit   = flag.Int("edit", -1, "cell id to place below the bot on every stats report (negative disables)")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Str("bot", *name).Logger()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("dial")
	}
	defer conn.Close()

	pos := [3]float64{*x, *y, *z}
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Name:            *name,
		Pos:             pos,
		Radius:          *radius,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatal().Err(err).Msg("send HELLO")
	}

	msgs := make(chan []byte, 256)
	go func() {
		defer close(msgs)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Info().Err(err).Msg("connection closed")
				return
			}
			msgs <- msg
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	moveTick := time.NewTicker(*every)
	defer moveTick.Stop()
	reportTick := time.NewTicker(*report)
	defer reportTick.Stop()

	t := newTracker()
	welcomed := false
	for {
		select {
		case <-stop:
			logStats(logger, t, pos)
			return
		case msg, ok := <-msgs:
			if !ok {
				logStats(logger, t, pos)
				return
			}
			if err := t.handle(msg); err != nil {
				logger.Warn().Err(err).Msg("stream")
			}
			if !welcomed && t.welcome.SessionID != "" {
				welcomed = true
				logger.Info().
					Str("session", t.welcome.SessionID).
					Str("level", t.welcome.Level).
					Int("radius", t.welcome.Radius).
					Int("tick_rate", t.welcome.LevelParams.TickRateHz).
					Int("palette", t.welcome.Palette.Count).
					Msg("WELCOME")
			}
		case <-moveTick.C:
			if !welcomed || *speed == 0 {
				continue
			}
			pos[0] += *speed * every.Seconds()
			mv := protocol.MoveMsg{Type: protocol.TypeMove, ProtocolVersion: protocol.Version, Pos: pos}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(mv); err != nil {
				logger.Error().Err(err).Msg("send MOVE")
				return
			}
		case <-reportTick.C:
			logStats(logger, t, pos)
			if !welcomed || *edit < 0 {
				continue
			}
			ed := protocol.EditMsg{
				Type:            protocol.TypeEdit,
				ProtocolVersion: protocol.Version,
				Pos:             [3]int{int(math.Floor(pos[0])), int(math.Floor(pos[1])) - 1, int(math.Floor(pos[2]))},
				Cell:            uint32(*edit),
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ed); err != nil {
				logger.Error().Err(err).Msg("send EDIT")
				return
			}
		}
	}
}

func logStats(logger zerolog.Logger, t *tracker, pos [3]float64) {
	logger.Info().
		Floats64("pos", pos[:]).
		Int("resident", len(t.resident)).
		Int("loads", t.loads).
		Int("reloads", t.reloads).
		Int("unloads", t.unloads).
		Int("errors", t.errors).
		Msg("stats")
}
