package devices

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestProfileLoaderYAML(t *testing.T) {
	dir := t.TempDir()
	yamlProfile := `
profile:
  id: usbdo96-bench
  vendor: Kolter
  model: USBDO96
  version: "1.0"
connection:
  baud_rate: 9600
  frame_gap_ms: 20
channels:
  - channel: 96
    name: beacon
`
	if err := os.WriteFile(filepath.Join(dir, "bench.yaml"), []byte(yamlProfile), 0o600); err != nil {
		t.Fatal(err)
	}

	l, err := NewProfileLoader([]string{t.TempDir(), dir})
	if err != nil {
		t.Fatal(err)
	}

	p, err := l.Load("bench")
	if err != nil {
		t.Fatal(err)
	}
	if p.Profile.ID != "usbdo96-bench" || p.Connection.FrameGapMs != 20 {
		t.Errorf("profile = %+v", p)
	}
	if len(p.Channels) != 1 || p.Channels[0].Name != "beacon" || p.Channels[0].Channel != 96 {
		t.Errorf("channels = %+v", p.Channels)
	}

	again, err := l.Load("bench")
	if err != nil {
		t.Fatal(err)
	}
	if again != p {
		t.Error("second load not served from cache")
	}
}

func TestProfileLoaderRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"missing-profile": `{"channels": []}`,
		"channel-range":   `{"profile": {"id": "x", "vendor": "v", "model": "m", "version": "1"}, "channels": [{"channel": 97, "name": "a"}]}`,
		"bad-baud":        `{"profile": {"id": "x", "vendor": "v", "model": "m", "version": "1"}, "connection": {"baud_rate": 1234}}`,
		"unknown-field":   `{"profile": {"id": "x", "vendor": "v", "model": "m", "version": "1"}, "registers": []}`,
	}
	for name, content := range tests {
		if err := os.WriteFile(filepath.Join(dir, name+".json"), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	l, err := NewProfileLoader([]string{dir})
	if err != nil {
		t.Fatal(err)
	}

	for name := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := l.Load(name); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestProfileLoaderNotFound(t *testing.T) {
	l, err := NewProfileLoader([]string{t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Load("nothing"); err == nil {
		t.Fatal("expected error")
	}
}

func TestProfileLoaderList(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	valid := `{"profile": {"id": "%s", "vendor": "v", "model": "m", "version": "1"}}`
	files := map[string]string{
		filepath.Join(first, "alpha.yaml"):  "profile:\n  id: alpha-yaml\n  vendor: v\n  model: m\n  version: \"1\"\n",
		filepath.Join(first, "alpha.json"):  fmt.Sprintf(valid, "alpha-json"),
		filepath.Join(first, "broken.json"): `{"channels": []}`,
		filepath.Join(first, "notes.txt"):   "ignored",
		filepath.Join(second, "alpha.json"): fmt.Sprintf(valid, "alpha-shadowed"),
		filepath.Join(second, "beta.yml"):   "profile:\n  id: beta\n  vendor: v\n  model: m\n  version: \"1\"\n",
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	l, err := NewProfileLoader([]string{filepath.Join(first, "missing"), first, second})
	if err != nil {
		t.Fatal(err)
	}

	list, err := l.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("List returned %d profiles: %+v", len(list), list)
	}

	if list[0].Name != "alpha" || list[0].Profile == nil || list[0].Profile.Profile.ID != "alpha-json" {
		t.Errorf("alpha resolved to %+v", list[0])
	}
	if list[1].Name != "beta" || list[1].Profile == nil {
		t.Errorf("beta = %+v", list[1])
	}
	if list[2].Name != "broken" || list[2].Error == "" || list[2].Profile != nil {
		t.Errorf("broken = %+v", list[2])
	}
}
