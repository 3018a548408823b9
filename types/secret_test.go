package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestSecret_RenderMasks(t *testing.T) {
	s := Secret("hunter2")
	if s.Render() != SecretMask {
		t.Errorf("Render() = %q, want %q", s.Render(), SecretMask)
	}
	if s.Reveal() != "hunter2" {
		t.Errorf("Reveal() = %q, want raw value", s.Reveal())
	}
}

func TestSecret_FormatVerbsMask(t *testing.T) {
	s := Secret("hunter2")
	for _, rendered := range []string{fmt.Sprintf("%v", s), fmt.Sprintf("%s", s)} {
		if rendered != SecretMask {
			t.Errorf("format verb leaked secret: %q", rendered)
		}
	}
}

func TestSecret_JSONRoundTrip(t *testing.T) {
	// Queue payloads carry secrets between processes; the wire must round-trip
	// the real value.
	type envelope struct {
		Secrets map[string]Secret `json:"secrets"`
	}
	out, err := json.Marshal(envelope{Secrets: map[string]Secret{"API_KEY": "hunter2"}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"hunter2"`) {
		t.Errorf("wire payload lost secret value: %s", out)
	}

	var in envelope
	if err := json.Unmarshal(out, &in); err != nil {
		t.Fatal(err)
	}
	if in.Secrets["API_KEY"].Reveal() != "hunter2" {
		t.Errorf("round trip lost value, got %q", in.Secrets["API_KEY"].Reveal())
	}
	if in.Secrets["API_KEY"].Render() != SecretMask {
		t.Errorf("decoded secret should still render masked, got %q", in.Secrets["API_KEY"].Render())
	}
}

func TestSecret_EmptyRendersEmpty(t *testing.T) {
	var s Secret
	if s.Render() != "" {
		t.Errorf("empty secret should render empty, got %q", s.Render())
	}
	if !s.IsZero() {
		t.Error("empty secret should be zero")
	}
}

func TestRevealMap(t *testing.T) {
	in := map[string]Secret{"API_KEY": "abc", "TOKEN": "def"}
	out := RevealMap(in)
	if out["API_KEY"] != "abc" || out["TOKEN"] != "def" {
		t.Errorf("RevealMap lost values: %v", out)
	}
	if RevealMap(nil) != nil {
		t.Error("RevealMap(nil) should be nil")
	}
}
