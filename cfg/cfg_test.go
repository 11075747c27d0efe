package cfg

import (
	"testing"
	"time"
)

func validCfg() *Cfg {
	return &Cfg{
		Port:           "8080",
		Environment:    "development",
		DatabasePath:   "test.db",
		BlobBackend:    "fs",
		UploadDir:      "uploads",
		LRUCacheSize:   100,
		MaxPasteSize:   1024,
		MaxTitleLen:    255,
		SweepInterval:  time.Minute,
		SweepGrace:     24 * time.Hour,
		SweepRate:      100,
		RecentLimit:    5,
		SearchLimit:    100,
		ContextTimeout: 10 * time.Second,
	}
}

func TestValidateOK(t *testing.T) {
	if err := Validate(validCfg()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Cfg)
	}{
		{"bad port", func(c *Cfg) { c.Port = "http" }},
		{"empty db path", func(c *Cfg) { c.DatabasePath = "" }},
		{"unknown blob backend", func(c *Cfg) { c.BlobBackend = "ftp" }},
		{"fs without dir", func(c *Cfg) { c.UploadDir = "" }},
		{"s3 without bucket", func(c *Cfg) { c.BlobBackend = "s3"; c.S3Bucket = "" }},
		{"bad redis scheme", func(c *Cfg) { c.RedisURL = "http://localhost" }},
		{"zero paste size", func(c *Cfg) { c.MaxPasteSize = 0 }},
		{"oversize paste limit", func(c *Cfg) { c.MaxPasteSize = 11 * 1024 * 1024 }},
		{"sub-second sweep", func(c *Cfg) { c.SweepInterval = 100 * time.Millisecond }},
		{"negative grace", func(c *Cfg) { c.SweepGrace = -time.Hour }},
		{"zero sweep rate", func(c *Cfg) { c.SweepRate = 0 }},
		{"bad proxy", func(c *Cfg) { c.TrustedProxies = []string{"not-an-ip"} }},
		{"prod without admin", func(c *Cfg) { c.Environment = "production"; c.RedisURL = "redis://x" }},
		{"prod without redis", func(c *Cfg) {
			c.Environment = "production"
			c.AdminUser = "admin"
			c.AdminPass = NewSecret("pw")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validCfg()
			tc.mutate(c)
			if err := Validate(c); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateProduction(t *testing.T) {
	c := validCfg()
	c.Environment = "production"
	c.AdminUser = "admin"
	c.AdminPass = NewSecret("pw")
	c.RedisURL = "redis://localhost:6379"
	if err := Validate(c); err != nil {
		t.Fatalf("expected valid production config, got %v", err)
	}
}

func TestSecretRedaction(t *testing.T) {
	s := NewSecret("hunter2")
	if s.String() != "***REDACTED***" {
		t.Fatalf("String must redact, got %q", s.String())
	}
	if s.Value() != "hunter2" {
		t.Fatalf("Value must expose the secret, got %q", s.Value())
	}
	s.Wipe()
	if s.Value() == "hunter2" {
		t.Fatal("Wipe must zero the secret")
	}
}
