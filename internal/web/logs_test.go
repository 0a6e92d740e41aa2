package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLogBuffer_SplitsAndHoldsPartialLines(t *testing.T) {
	b := NewLogBuffer(10)
	_, _ = b.Write([]byte("one\ntw"))
	_, _ = b.Write([]byte("o\r\n\nthree"))

	lines, dropped := b.Tail(0)
	if dropped != 0 {
		t.Fatalf("dropped=%d", dropped)
	}
	if strings.Join(lines, ",") != "one,two" {
		t.Fatalf("lines=%q", lines)
	}

	_, _ = b.Write([]byte("\n"))
	lines, _ = b.Tail(1)
	if len(lines) != 1 || lines[0] != "three" {
		t.Fatalf("lines=%q want [three]", lines)
	}
}

func TestLogBuffer_EvictsOldest(t *testing.T) {
	b := NewLogBuffer(2)
	_, _ = b.Write([]byte("a\nb\nc\n"))
	lines, dropped := b.Tail(10)
	if strings.Join(lines, ",") != "b,c" || dropped != 1 {
		t.Fatalf("lines=%q dropped=%d", lines, dropped)
	}
}

func TestLogsHandler(t *testing.T) {
	b := NewLogBuffer(10)
	_, _ = b.Write([]byte("{\"msg\":\"client connected\"}\n"))

	ts := httptest.NewServer(Handler(NewStatus(nil), nil, b, nil))
	defer ts.Close()

	resp, body := get(t, ts.URL+"/api/logs")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	var out LogsResponse
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Lines) != 1 || !strings.Contains(out.Lines[0], "client connected") {
		t.Fatalf("lines=%q", out.Lines)
	}

	resp, body = get(t, ts.URL+"/api/logs?format=text")
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(body, "client connected") {
		t.Fatalf("body=%q", body)
	}

	resp, _ = get(t, ts.URL+"/api/logs?tail=0")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("tail=0 status=%d want 400", resp.StatusCode)
	}
}
