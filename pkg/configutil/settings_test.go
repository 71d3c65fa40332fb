package configutil

import "testing"

type sampleSettings struct {
	APIKey  string `mapstructure:"api_key"`
	Retries int    `mapstructure:"retries"`
	Enabled bool   `mapstructure:"enabled"`
}

func TestDecodeSettingsMatchesLooseKeys(t *testing.T) {
	var out sampleSettings
	err := DecodeSettings(map[string]any{
		"apiKey":  "sk-test",
		"RETRIES": "3",
		"enabled": "true",
	}, &out)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if out.APIKey != "sk-test" {
		t.Fatalf("expected api key decoded, got %q", out.APIKey)
	}
	if out.Retries != 3 {
		t.Fatalf("expected weakly typed int, got %d", out.Retries)
	}
	if !out.Enabled {
		t.Fatalf("expected weakly typed bool")
	}
}

func TestDecodeSettingsEmptyInputIsNoop(t *testing.T) {
	out := sampleSettings{APIKey: "keep"}
	if err := DecodeSettings(nil, &out); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if out.APIKey != "keep" {
		t.Fatalf("expected untouched struct, got %q", out.APIKey)
	}
}

func TestRequireString(t *testing.T) {
	if err := RequireString("value", "field"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := RequireString("   ", "realtime.api_key"); err == nil {
		t.Fatalf("expected error for blank value")
	} else if err.Error() != "realtime.api_key is required" {
		t.Fatalf("unexpected message: %v", err)
	}
}
