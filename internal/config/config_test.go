package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithMemoryStore(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.PhoneRegion != "BR" || cfg.SlipPrinter != "log" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PrintTimeout() != 5*time.Second {
		t.Fatalf("expected 5s print timeout, got %s", cfg.PrintTimeout())
	}
}

func TestLoadRequiresDSNForPostgres(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DB_DSN", "")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error without DB_DSN")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frontdesk.yaml")
	content := "store_driver: memory\nport: \"9000\"\ntimezone: America/Sao_Paulo\nslip_printer: escpos\nslip_printer_addr: 10.0.0.20\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9100" {
		t.Fatalf("expected env to override the file, got %s", cfg.Port)
	}
	if cfg.SlipPrinter != "escpos" || cfg.SlipPrinterAddr != "10.0.0.20" {
		t.Fatalf("expected printer settings from file, got %+v", cfg)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "America/Sao_Paulo" {
		t.Fatalf("unexpected location %v: %v", loc, err)
	}
}

func TestLoadMissingFileIsIgnored(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("expected a missing file to be ignored, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []Config{
		{StoreDriver: "sqlite"},
		{StoreDriver: StoreDriverMemory, Timezone: "Mars/Olympus"},
		{StoreDriver: StoreDriverMemory, PrintTimeoutSeconds: -1},
		{StoreDriver: StoreDriverMemory, PrintTimeoutSeconds: 0},
	}
	for _, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("expected validation error for %+v", cfg)
		}
	}
}
