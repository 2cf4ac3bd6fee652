package features

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func makeByID(t *testing.T, links map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "input", "by-id")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for name, target := range links {
		if err := os.Symlink(target, filepath.Join(dir, name)); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestScanDevices(t *testing.T) {
	dir := makeByID(t, map[string]string{
		"usb-Logitech_USB_Receiver-event-mouse": "../event3",
		"usb-Wacom_Intuos_S_Pen-event-mouse":    "../event7",
		"usb-Foo_Keyboard-event-kbd":            "../event1",
		"usb-Logitech_USB_Receiver-mouse":       "../mouse0",
	})

	devices, err := ScanDevices(dir)
	if err != nil {
		t.Fatalf("ScanDevices failed: %v", err)
	}

	got := make(map[string]Device)
	for _, d := range devices {
		got[d.Name] = d
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 devices, got %+v", devices)
	}

	inputDir := filepath.Dir(dir)
	tests := []struct {
		name string
		typ  DeviceType
		path string
	}{
		{"usb-Logitech_USB_Receiver-event-mouse", DeviceTypeMouse, filepath.Join(inputDir, "event3")},
		{"usb-Wacom_Intuos_S_Pen-event-mouse", DeviceTypeTablet, filepath.Join(inputDir, "event7")},
		{"usb-Foo_Keyboard-event-kbd", DeviceTypeKeyboard, filepath.Join(inputDir, "event1")},
	}
	for _, tt := range tests {
		d, ok := got[tt.name]
		if !ok {
			t.Errorf("device %s not found", tt.name)
			continue
		}
		if d.Type != tt.typ || d.Path != tt.path {
			t.Errorf("%s: got type=%v path=%s, want type=%v path=%s", tt.name, d.Type, d.Path, tt.typ, tt.path)
		}
	}
}

func TestSelectDevice(t *testing.T) {
	devices := []Device{
		{Name: "kbd", Type: DeviceTypeKeyboard},
		{Name: "mouse-a", Type: DeviceTypeMouse},
		{Name: "pen", Type: DeviceTypeTablet},
		{Name: "mouse-b", Type: DeviceTypeMouse},
	}

	if d := SelectDevice(devices, "", DeviceType.IsPointer); d == nil || d.Name != "pen" {
		t.Errorf("expected the tablet to be preferred, got %+v", d)
	}
	if d := SelectDevice(devices, "mouse-b", DeviceType.IsPointer); d == nil || d.Name != "mouse-b" {
		t.Errorf("expected the preferred device, got %+v", d)
	}
	isKeyboard := func(t DeviceType) bool { return t == DeviceTypeKeyboard }
	if d := SelectDevice(devices, "missing", isKeyboard); d == nil || d.Name != "kbd" {
		t.Errorf("expected a fallback keyboard, got %+v", d)
	}
	if d := SelectDevice(nil, "", isKeyboard); d != nil {
		t.Errorf("expected nil, got %+v", d)
	}
}

func TestDeviceMonitorNotifies(t *testing.T) {
	dir := makeByID(t, map[string]string{
		"usb-Wacom_Intuos_S_Pen-event-mouse": "../event7",
	})

	dm, err := NewDeviceMonitor(dir)
	if err != nil {
		t.Fatalf("NewDeviceMonitor failed: %v", err)
	}
	defer dm.watcher.Close()

	var mu sync.Mutex
	counts := make(map[DeviceEventType]int)
	dm.RegisterCallback(func(ev DeviceEvent) {
		mu.Lock()
		defer mu.Unlock()
		counts[ev.Type]++
	})

	dm.RescanDevices()
	if n := len(dm.GetConnectedDevices()); n != 1 {
		t.Fatalf("expected 1 device, got %d", n)
	}

	// 別のパスに付け替える
	link := filepath.Join(dir, "usb-Wacom_Intuos_S_Pen-event-mouse")
	if err := os.Remove(link); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("../event9", link); err != nil {
		t.Fatal(err)
	}
	dm.RescanDevices()

	devices := dm.GetConnectedDevices()
	if len(devices) != 1 || filepath.Base(devices[0].Path) != "event9" {
		t.Fatalf("expected the device to move to event9, got %+v", devices)
	}

	if err := os.Remove(link); err != nil {
		t.Fatal(err)
	}
	dm.RescanDevices()

	if n := len(dm.GetConnectedDevices()); n != 0 {
		t.Fatalf("expected no devices, got %d", n)
	}

	mu.Lock()
	defer mu.Unlock()
	if counts[DeviceAdded] != 1 || counts[DeviceChanged] != 1 || counts[DeviceRemoved] != 1 {
		t.Errorf("unexpected notifications: %v", counts)
	}
}
