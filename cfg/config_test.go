package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/notzippy/ucanaccess-code/accessfile"
)

func TestDefault_Valid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got: %v", err)
	}
	if c.Format() != accessfile.V2010 {
		t.Errorf("Expected default format V2010, got %s", c.Format())
	}
}

func TestDefault_ReturnsFreshValue(t *testing.T) {
	a := Default()
	a.Translator.CacheSize = 1
	b := Default()
	if b.Translator.CacheSize == 1 {
		t.Error("Expected Default to return independent values")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Configuration)
	}{
		{"unknown format", func(c *Configuration) { c.File.NewDatabaseVersion = "V1997" }},
		{"negative lock timeout", func(c *Configuration) { c.File.LockTimeoutMS = -1 }},
		{"negative busy timeout", func(c *Configuration) { c.Mirror.BusyTimeoutMS = -5 }},
		{"zero cache", func(c *Configuration) { c.Translator.CacheSize = 0 }},
		{"bad log format", func(c *Configuration) { c.Logging.Format = "xml" }},
		{"prometheus without address", func(c *Configuration) {
			c.Prometheus.Enabled = true
			c.Prometheus.Address = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ucanaccess.toml")
	content := `
[file]
new_database_version = "V2016"
lock_timeout_ms = 250

[mirror]
memory = false
skip_indexes = true

[translator]
cache_size = 16
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Format() != accessfile.V2016 {
		t.Errorf("Expected V2016, got %s", c.Format())
	}
	if c.LockTimeout().Milliseconds() != 250 {
		t.Errorf("Expected 250ms lock timeout, got %v", c.LockTimeout())
	}
	if c.Mirror.Memory || !c.Mirror.SkipIndexes {
		t.Errorf("Expected mirror overrides, got %+v", c.Mirror)
	}
	if c.Translator.CacheSize != 16 {
		t.Errorf("Expected cache size 16, got %d", c.Translator.CacheSize)
	}
	if c.Logging.Format != "console" {
		t.Errorf("Expected untouched default logging format, got %s", c.Logging.Format)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Expected defaults for a missing file, got: %v", err)
	}
	if c.Translator.CacheSize != Default().Translator.CacheSize {
		t.Error("Expected default values")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[file\nread_only = "), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected decode error")
	}
}
