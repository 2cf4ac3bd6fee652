package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/char5742/stroke-eval/internal/config"
	"github.com/char5742/stroke-eval/internal/features"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.DefaultConfig()
	service := NewStrokeService(cfg.Clone())
	service.byIDDir = newDeviceDir(t, "usb-Foo_Keyboard-event-kbd", "usb-Logitech_USB_Receiver-event-mouse")

	s := NewServer(cfg, filepath.Join(t.TempDir(), config.ConfigFileName), 0, service, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func doRequest(t *testing.T, method, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp, result
}

func TestHealthAndStatus(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		method string
		path   string
		status string
	}{
		{http.MethodGet, "/api/health", "ok"},
		{http.MethodGet, "/api/service/status", "stopped"},
		{http.MethodPost, "/api/service/stop", "not_running"},
	}

	for _, tt := range tests {
		resp, body := doRequest(t, tt.method, ts.URL+tt.path, "")
		if resp.StatusCode != http.StatusOK || body["status"] != tt.status {
			t.Errorf("%s %s: got %d %v, want status %q", tt.method, tt.path, resp.StatusCode, body, tt.status)
		}
	}
}

func TestStartServiceWithoutPointer(t *testing.T) {
	s, ts := newTestServer(t)
	s.service.byIDDir = newDeviceDir(t, "usb-Foo_Keyboard-event-kbd")

	resp, body := doRequest(t, http.MethodPost, ts.URL+"/api/service/start", "")
	if resp.StatusCode != http.StatusNotFound || body["error"] == nil {
		t.Errorf("expected 404 with an error, got %d %v", resp.StatusCode, body)
	}
}

func TestConfigEndpoints(t *testing.T) {
	s, ts := newTestServer(t)

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/api/config", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	motion, ok := body["motion"].(map[string]interface{})
	if !ok || motion["inertia_factor"] != 0.4 {
		t.Errorf("unexpected config body: %v", body)
	}

	// 一部の項目だけを更新する
	resp, _ = doRequest(t, http.MethodPut, ts.URL+"/api/config", `{"motion": {"inertia_factor": 0.6}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	cfg := s.GetConfig()
	if cfg.Motion.InertiaFactor != 0.6 || cfg.Motion.ExactAboveScale != 1.0 || cfg.Display.Width != 1920 {
		t.Errorf("partial update not merged: %+v", cfg)
	}
	if got := s.service.Config().Motion.InertiaFactor; got != 0.6 {
		t.Errorf("service did not receive the update: %v", got)
	}

	resp, body = doRequest(t, http.MethodPut, ts.URL+"/api/config", `{"motion": {"inertia_factor": 1.2}}`)
	if resp.StatusCode != http.StatusBadRequest || body["error"] == nil {
		t.Errorf("expected 400 for an invalid config, got %d %v", resp.StatusCode, body)
	}
	resp, _ = doRequest(t, http.MethodPut, ts.URL+"/api/config", `{`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a malformed body, got %d", resp.StatusCode)
	}

	// 保存先を省略すると起動時の設定ファイルに書く
	resp, body = doRequest(t, http.MethodPost, ts.URL+"/api/config/save", "")
	if resp.StatusCode != http.StatusOK || body["path"] != s.ConfigPath() {
		t.Fatalf("save failed: %d %v", resp.StatusCode, body)
	}
	saved, err := config.LoadConfig(s.ConfigPath())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if saved.Motion.InertiaFactor != 0.6 {
		t.Errorf("saved config does not contain the update: %+v", saved.Motion)
	}

	other := filepath.Join(t.TempDir(), "other.toml")
	resp, body = doRequest(t, http.MethodPost, ts.URL+"/api/config/save", `{"path": "`+other+`"}`)
	if resp.StatusCode != http.StatusOK || body["path"] != other {
		t.Errorf("save to explicit path failed: %d %v", resp.StatusCode, body)
	}
}

func TestDeviceEndpoints(t *testing.T) {
	s, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/devices")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var devices []struct {
		Name string `json:"name"`
		Path string `json:"path"`
		Type string `json:"type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %+v", devices)
	}
	kinds := map[string]string{}
	for _, d := range devices {
		kinds[d.Name] = d.Type
	}
	if kinds["usb-Foo_Keyboard-event-kbd"] != "keyboard" || kinds["usb-Logitech_USB_Receiver-event-mouse"] != "mouse" {
		t.Errorf("unexpected device types: %v", kinds)
	}

	r, _ := doRequest(t, http.MethodPut, ts.URL+"/api/devices/preferred",
		`{"pointer_device": "usb-Logitech_USB_Receiver-event-mouse", "keyboard_device": "usb-Foo_Keyboard-event-kbd"}`)
	if r.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", r.StatusCode)
	}
	prefs := s.GetConfig().DevicePrefs
	if prefs.PreferredPointerDevice != "usb-Logitech_USB_Receiver-event-mouse" || prefs.PreferredKeyboardDevice != "usb-Foo_Keyboard-event-kbd" {
		t.Errorf("unexpected device prefs: %+v", prefs)
	}
}

func TestStrokeStats(t *testing.T) {
	s, ts := newTestServer(t)
	s.service.HandleFrame(absFrame(0, 0.5, 0.5, false))
	s.service.HandleFrame(absFrame(10, 0.5, 0.5, false))

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/api/stroke/stats", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if body["accepted"] != 1.0 || body["rejected"] != 1.0 || body["running"] != false {
		t.Errorf("unexpected stats: %v", body)
	}
	last, ok := body["last"].(map[string]interface{})
	if !ok || last["phase"] != "hover" || last["x"] != 960.0 {
		t.Errorf("unexpected last sample: %v", body["last"])
	}
}

func TestStrokeStream(t *testing.T) {
	s, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stroke/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// ハンドラが購読するまで待つ
	deadline := time.Now().Add(5 * time.Second)
	for s.service.Stats().Subscribers == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream handler did not subscribe")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.service.HandleFrame(absFrame(0, 0.25, 0.75, false))
	s.service.HandleFrame(absFrame(10, 0.25, 0.75, true))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for _, want := range []StrokePhase{PhaseHover, PhaseDown} {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage failed: %v", err)
		}
		var sample StrokeSample
		if err := json.Unmarshal(data, &sample); err != nil {
			t.Fatalf("failed to decode sample: %v", err)
		}
		if sample.Phase != want || sample.X != 480 || sample.Y != 810 {
			t.Errorf("unexpected sample: %+v", sample)
		}
	}

	conn.Close()
	deadline = time.Now().Add(5 * time.Second)
	for s.service.Stats().Subscribers != 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream handler did not unsubscribe")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDevicesFromMonitor(t *testing.T) {
	dir := newDeviceDir(t, "usb-Wacom_Intuos_S_Pen-event-mouse")
	monitor, err := features.NewDeviceMonitor(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := monitor.Start(); err != nil {
		t.Fatal(err)
	}
	defer monitor.Stop()

	s := NewServer(config.DefaultConfig(), "", 0, NewStrokeService(config.DefaultConfig()), monitor)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/devices")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var devices []map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 || devices[0]["type"] != "tablet" || filepath.Base(devices[0]["path"]) != "event0" {
		t.Errorf("unexpected devices: %v", devices)
	}
}
