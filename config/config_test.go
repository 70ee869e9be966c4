package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.SellerURL = "https://www.ozon.ru/seller/shop-123456/"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty seller url",
			mutate:  func(cfg *Config) { cfg.SellerURL = "" },
			wantErr: "seller URL",
		},
		{
			name:    "seller url without host",
			mutate:  func(cfg *Config) { cfg.SellerURL = "http://" },
			wantErr: "seller URL",
		},
		{
			name:    "zero max pages",
			mutate:  func(cfg *Config) { cfg.MaxPages = 0 },
			wantErr: "max pages",
		},
		{
			name:    "negative retries",
			mutate:  func(cfg *Config) { cfg.MaxRetries = -1 },
			wantErr: "max retries",
		},
		{
			name:    "negative timeout",
			mutate:  func(cfg *Config) { cfg.Timeout = -time.Second },
			wantErr: "timeout",
		},
		{
			name: "backoff above max",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = time.Minute
				cfg.RetryBackoffMax = time.Second
			},
			wantErr: "retry backoff",
		},
		{
			name: "delay window inverted",
			mutate: func(cfg *Config) {
				cfg.DelayMin = 5 * time.Second
				cfg.DelayMax = 2 * time.Second
			},
			wantErr: "page delay",
		},
		{
			name:    "workers above ceiling",
			mutate:  func(cfg *Config) { cfg.Workers = MaxWorkers + 1 },
			wantErr: "workers",
		},
		{
			name:    "zero workers",
			mutate:  func(cfg *Config) { cfg.Workers = 0 },
			wantErr: "workers",
		},
		{
			name:    "unknown format",
			mutate:  func(cfg *Config) { cfg.Formats = []string{"parquet"} },
			wantErr: "format",
		},
		{
			name:    "no formats",
			mutate:  func(cfg *Config) { cfg.Formats = nil },
			wantErr: "format",
		},
		{
			name:    "bad fetch mode",
			mutate:  func(cfg *Config) { cfg.FetchMode = "carrier-pigeon" },
			wantErr: "fetch mode",
		},
		{
			name:    "empty output dir",
			mutate:  func(cfg *Config) { cfg.OutputDir = "" },
			wantErr: "output directory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValidWithSeller(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestParseFormats(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{name: "all", input: "all", want: []string{"excel", "xml", "json"}},
		{name: "empty means all", input: "", want: []string{"excel", "xml", "json"}},
		{name: "single", input: "json", want: []string{"json"}},
		{name: "list", input: "xml, excel", want: []string{"xml", "excel"}},
		{name: "case folded", input: "JSON", want: []string{"json"}},
		{name: "unknown", input: "csv", wantErr: true},
		{name: "only commas", input: ",,", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormats(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse formats: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("formats=%v, want %v", got, tt.want)
			}
		})
	}
}

func TestSellerID(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "slug with id", url: "https://www.ozon.ru/seller/magazin-123456/", want: "123456"},
		{name: "miniapp param", url: "https://www.ozon.ru/seller/shop/?miniapp=seller_98765", want: "98765"},
		{name: "bare id", url: "https://www.ozon.ru/seller/424242", want: "424242"},
		{name: "no id", url: "https://www.ozon.ru/category/laptops/", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SellerID(tt.url); got != tt.want {
				t.Fatalf("SellerID(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "config.json")
	content := `{"seller_url": "https://www.ozon.ru/seller/one-1/", "seller_urls": ["https://www.ozon.ru/seller/two-2/"]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	urls, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	want := []string{"https://www.ozon.ru/seller/one-1/", "https://www.ozon.ru/seller/two-2/"}
	if !reflect.DeepEqual(urls, want) {
		t.Fatalf("urls=%v, want %v", urls, want)
	}
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("missing file should error")
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFile(empty); err == nil {
		t.Fatalf("config without seller_url should error")
	}
}
