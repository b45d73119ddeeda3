package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"voxelstream.ai/internal/persistence/archive"
	"voxelstream.ai/internal/persistence/snapshot"
	"voxelstream.ai/internal/sim/chunk"
	"voxelstream.ai/internal/sim/level"
)

// levelView is what the HTTP endpoints read from a running level.
type levelView interface {
	ID() string
	Metrics() level.Metrics
	RequestSnapshot(ctx context.Context) (snapshot.Snapshot, error)
	Cell(ctx context.Context, x, y, z int) (chunk.CellID, error)
	SetCell(ctx context.Context, x, y, z int, id chunk.CellID) error
}

type admin struct {
	level    levelView
	levelDir string

	// keep is how many snapshots stay live before older ones are archived.
	keep    int
	enabled bool
	log     zerolog.Logger
}

func routes(mux *http.ServeMux, a *admin) {
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.metrics)
	if !a.enabled {
		a.log.Info().Msg("admin endpoints disabled (VS_ENABLE_ADMIN_HTTP=false)")
		return
	}
	mux.HandleFunc("/admin/v1/state", a.state)
	mux.HandleFunc("/admin/v1/snapshot", a.snapshot)
	mux.HandleFunc("/admin/v1/cell", a.cell)
}

func (a *admin) metrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	id := a.level.ID()
	m := a.level.Metrics()

	gauge := func(name, help string, v any) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s gauge\n", name)
		fmt.Fprintf(rw, "%s{level=%q} %v\n", name, id, v)
	}
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s counter\n", name)
		fmt.Fprintf(rw, "%s{level=%q} %d\n", name, id, v)
	}

	// Minimal Prometheus exposition format.
	gauge("voxelstream_level_tick", "Current level tick.", m.Tick)
	gauge("voxelstream_level_viewers", "Connected viewers.", m.Viewers)
	gauge("voxelstream_level_step_ms", "Last tick step duration in milliseconds.", fmt.Sprintf("%.3f", m.StepMS))

	fmt.Fprintf(rw, "# HELP voxelstream_chunks Chunk map entries by state.\n")
	fmt.Fprintf(rw, "# TYPE voxelstream_chunks gauge\n")
	fmt.Fprintf(rw, "voxelstream_chunks{level=%q,state=%q} %d\n", id, "loading", m.Loading)
	fmt.Fprintf(rw, "voxelstream_chunks{level=%q,state=%q} %d\n", id, "loaded", m.Resident-m.Active)
	fmt.Fprintf(rw, "voxelstream_chunks{level=%q,state=%q} %d\n", id, "active", m.Active)

	gauge("voxelstream_chunk_loads_in_flight", "Loads dispatched and not yet installed.", m.Source.Map.InFlight)
	gauge("voxelstream_chunk_loads_failed", "Positions whose last load failed.", m.Source.Map.Failed)
	gauge("voxelstream_worker_queue_depth", "Load jobs waiting for a worker.", m.Source.Queued)
	gauge("voxelstream_store_pending_writes", "Chunk writes queued for the store.", m.Store.Pending)

	counter("voxelstream_chunks_sent_total", "CHUNK_LOAD messages sent.", m.ChunksSent)
	counter("voxelstream_chunks_unloaded_total", "CHUNK_UNLOAD messages sent.", m.ChunksUnload)
	counter("voxelstream_chunks_saved_total", "Chunks handed to storage.", m.ChunksSaved)
	counter("voxelstream_chunks_stored_total", "Chunks loaded from storage.", m.Source.Stored)
	counter("voxelstream_chunks_generated_total", "Chunks produced by the generator.", m.Source.Generated)
	counter("voxelstream_chunks_regenerated_total", "Undecodable chunks replaced by generation.", m.Source.Regenerated)
	counter("voxelstream_store_write_failures_total", "Chunk writes the store rejected.", m.Store.Failed)

	fmt.Fprintf(rw, "# HELP voxelstream_level_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE voxelstream_level_queue_depth gauge\n")
	fmt.Fprintf(rw, "voxelstream_level_queue_depth{level=%q,queue=%q} %d\n", id, "join", m.QueueDepths.Join)
	fmt.Fprintf(rw, "voxelstream_level_queue_depth{level=%q,queue=%q} %d\n", id, "leave", m.QueueDepths.Leave)
	fmt.Fprintf(rw, "voxelstream_level_queue_depth{level=%q,queue=%q} %d\n", id, "edits", m.QueueDepths.Edits)
}

func (a *admin) state(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	resp := struct {
		Level          string        `json:"level"`
		Metrics        level.Metrics `json:"metrics"`
		LatestSnapshot string        `json:"latest_snapshot,omitempty"`
	}{
		Level:   a.level.ID(),
		Metrics: a.level.Metrics(),
	}
	if p := archive.Latest(a.levelDir); p != "" {
		resp.LatestSnapshot = filepath.Base(p)
	}
	_ = json.NewEncoder(rw).Encode(resp)
}

func (a *admin) snapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	rw.Header().Set("Content-Type", "application/json")

	snap, err := a.level.RequestSnapshot(ctx)
	if err != nil {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	path := archive.Path(a.levelDir, snap.Header.Tick)
	if err := snapshot.Write(path, snap); err != nil {
		a.log.Error().Err(err).Str("path", path).Msg("snapshot write")
		rw.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": snap.Header.Tick, "error": err.Error()})
		return
	}
	a.log.Info().Str("path", path).Int("docs", snap.Docs()).Msg("snapshot written")
	if moved, err := archive.Rotate(a.levelDir, a.keep); err != nil {
		a.log.Error().Err(err).Msg("snapshot rotation")
	} else if len(moved) > 0 {
		a.log.Info().Strs("archived", moved).Msg("archived old snapshots")
	}
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": snap.Header.Tick, "docs": snap.Docs(), "path": path})
}

// cell reads (GET) or writes (POST, cell=<id>) the cell at pos=x,y,z of a resident chunk.
func (a *admin) cell(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	pos, err := parseCellPos(r.URL.Query().Get("pos"))
	if err != nil {
		http.Error(rw, "bad pos: "+err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var id chunk.CellID
	if r.Method == http.MethodPost {
		n, perr := strconv.ParseUint(r.URL.Query().Get("cell"), 10, 32)
		if perr != nil {
			http.Error(rw, "bad cell", http.StatusBadRequest)
			return
		}
		id = chunk.CellID(n)
		err = a.level.SetCell(ctx, pos[0], pos[1], pos[2], id)
		if err == nil {
			a.log.Info().Ints("pos", pos[:]).Uint32("cell", uint32(id)).Msg("cell set")
		}
	} else {
		id, err = a.level.Cell(ctx, pos[0], pos[1], pos[2])
	}
	rw.Header().Set("Content-Type", "application/json")
	if err != nil {
		rw.WriteHeader(cellStatus(err))
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "pos": pos, "cell": id})
}

func cellStatus(err error) int {
	switch {
	case errors.Is(err, level.ErrNotResident):
		return http.StatusNotFound
	case errors.Is(err, chunk.ErrCellOutOfRange), errors.Is(err, chunk.ErrReadOnly):
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

func parseCellPos(s string) ([3]int, error) {
	var p [3]int
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return p, fmt.Errorf("expected x,y,z")
	}
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return p, err
		}
		p[i] = n
	}
	return p, nil
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
