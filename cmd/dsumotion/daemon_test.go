package main

import (
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"dsumotion/internal/config"
	"dsumotion/internal/dsu"
	"dsumotion/internal/web"
)

func testConfig(t *testing.T, yaml string) config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg
}

func TestRun_ServesSimMotion(t *testing.T) {
	cfg := testConfig(t, "dsu:\n  port: 0\n  poll_interval: 50ms\nsource:\n  rate_hz: 100\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startedCh := make(chan *daemon, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, zap.NewNop(), nil, func(r *daemon) { startedCh <- r })
	}()

	var r *daemon
	select {
	case r = <-startedCh:
	case err := <-errCh:
		t.Fatalf("run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not start")
	}

	addr, ok := r.server.LocalAddr().(*net.UDPAddr)
	if !ok {
		t.Fatalf("LocalAddr=%v", r.server.LocalAddr())
	}
	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: addr.Port})
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()

	req := make([]byte, dsu.HeaderLen)
	copy(req, "DSUC")
	binary.LittleEndian.PutUint32(req[16:20], dsu.MsgControllerInfo)
	if _, err := client.Write(req); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 256)
	var info, data int
	for data == 0 {
		n, err := client.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v (info=%d data=%d)", err, info, data)
		}
		h, err := dsu.DecodeHeader(buf[:n])
		if err != nil {
			t.Fatalf("DecodeHeader: %v", err)
		}
		switch h.Type {
		case dsu.MsgControllerInfo:
			info++
		case dsu.MsgControllerData:
			if n != dsu.ControllerDataLen || !dsu.VerifyChecksum(buf[:n]) {
				t.Fatalf("bad data packet len=%d", n)
			}
			data++
		}
	}
	if info != dsu.NumSlots {
		t.Fatalf("info packets=%d want %d", info, dsu.NumSlots)
	}

	snap := r.status.Snapshot(time.Now())
	if snap.Source != config.SourceSim || !snap.DSU.Running || snap.DSU.Peer == "" {
		t.Fatalf("status=%+v", snap)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
	if r.server.IsRunning() {
		t.Fatalf("server still running after run returned")
	}
}

type countSink struct {
	n    int
	last [3]float32
}

func (c *countSink) UpdateSensorData(accel, gyro [3]float32) {
	c.n++
	c.last = gyro
}

func TestRecordThenReplay(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "session.log")

	cfg := testConfig(t, "dsu:\n  port: 0\n  poll_interval: 20ms\nrecord:\n  path: "+logPath+"\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startedCh := make(chan *daemon, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, zap.NewNop(), nil, func(r *daemon) { startedCh <- r })
	}()
	var r *daemon
	select {
	case r = <-startedCh:
	case err := <-errCh:
		t.Fatalf("run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not start")
	}

	port := r.server.LocalAddr().(*net.UDPAddr).Port
	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()
	req := make([]byte, dsu.HeaderLen)
	binary.LittleEndian.PutUint32(req[16:20], dsu.MsgControllerInfo)
	if _, err := client.Write(req); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 256)
	for data := 0; data < 3; {
		n, err := client.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if h, _ := dsu.DecodeHeader(buf[:n]); h.Type == dsu.MsgControllerData {
			data++
		}
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}

	rcfg := testConfig(t, "source:\n  kind: replay\nreplay:\n  path: "+logPath+"\n  speed: 100\n")
	rr, err := newDaemon(rcfg, zap.NewNop())
	if err != nil {
		t.Fatalf("newDaemon(replay): %v", err)
	}
	defer rr.Close()
	if got := rr.status.Snapshot(time.Now()).Source; got != config.SourceReplay {
		t.Fatalf("source=%q", got)
	}
	if len(rr.replayRecs) < 4 {
		t.Fatalf("records=%d want START + at least 3 packets", len(rr.replayRecs))
	}

	sink := &countSink{}
	if err := rr.feed(context.Background(), sink); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if sink.n != len(rr.replayRecs)-1 {
		t.Fatalf("replayed %d samples want %d", sink.n, len(rr.replayRecs)-1)
	}
}

func TestRun_BindFailure(t *testing.T) {
	cfg := config.Default()
	*cfg.DSU.Port = -1

	err := run(context.Background(), cfg, zap.NewNop(), nil, func(*daemon) {
		t.Fatalf("started called after bind failure")
	})
	if err == nil || !strings.Contains(err.Error(), "bind port -1") {
		t.Fatalf("err=%v want bind error", err)
	}
}

func TestNewSource_Script(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tilt.yaml")
	script := "version: 1\nloop: true\nkeyframes:\n  - t: 0s\n    roll_deg: 0\n  - t: 1s\n    roll_deg: 20\n"
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg := config.Default()
	cfg.Sim.Script = path

	r, err := newDaemon(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}
	defer r.Close()
	if got := r.status.Snapshot(time.Now()).Source; got != "sim-script" {
		t.Fatalf("source=%q want sim-script", got)
	}
	if _, err := r.source.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}
}

func TestNewSource_BadScript(t *testing.T) {
	cfg := config.Default()
	cfg.Sim.Script = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := newDaemon(cfg, zap.NewNop()); err == nil || !strings.Contains(err.Error(), "sim script") {
		t.Fatalf("err=%v want sim script error", err)
	}
}

func TestNewLogger_TeesIntoBuffer(t *testing.T) {
	logs := web.NewLogBuffer(10)
	log, err := newLogger(config.LogConfig{Level: "info"}, logs)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Debug("hidden")
	log.Info("client connected", zap.String("peer", "10.0.0.2:5000"))
	_ = log.Sync()

	lines, _ := logs.Tail(10)
	if len(lines) != 1 {
		t.Fatalf("lines=%q want 1", lines)
	}
	if !strings.Contains(lines[0], "client connected") || !strings.Contains(lines[0], "10.0.0.2:5000") {
		t.Fatalf("line=%q", lines[0])
	}
}
