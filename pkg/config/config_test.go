package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.DefaultBuySize != 1.0 {
		t.Errorf("DefaultBuySize = %v", cfg.DefaultBuySize)
	}
	if cfg.DefaultQuote != "USDT" {
		t.Errorf("DefaultQuote = %q", cfg.DefaultQuote)
	}
}

func TestLoadRejectsBadBuySize(t *testing.T) {
	t.Setenv("DEFAULT_BUY_SIZE", "1.5")
	if _, err := Load(); err == nil {
		t.Error("buy size above 1 accepted")
	}
}

func TestLoadRejectsQuoteOffAllowList(t *testing.T) {
	t.Setenv("DEFAULT_QUOTE", "EUR")
	if _, err := Load(); err == nil {
		t.Error("quote outside allow-list accepted")
	}
}

func TestQuoteAllowed(t *testing.T) {
	cfg := &Config{QuoteAllowList: []string{"BTC", "usdt"}}
	cases := []struct {
		quote string
		want  bool
	}{
		{"BTC", true},
		{"btc", true},
		{"USDT", true},
		{"EUR", false},
	}
	for _, tc := range cases {
		if got := cfg.QuoteAllowed(tc.quote); got != tc.want {
			t.Errorf("QuoteAllowed(%q) = %v, want %v", tc.quote, got, tc.want)
		}
	}
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	data := `channels:
  - chat_id: "chat-1"
    buy_size: 0.5
    buy_quote: BTC
    accounts: [whale, dolphin]
    filters: [btc, eth]
  - chat_id: "chat-2"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	seeds, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("got %d seeds", len(seeds))
	}
	first := seeds[0]
	if first.ChatID != "chat-1" || first.BuySize != 0.5 || first.BuyQuote != "BTC" {
		t.Errorf("first seed = %+v", first)
	}
	if len(first.Accounts) != 2 || len(first.Filters) != 2 {
		t.Errorf("first seed lists = %+v", first)
	}
	if seeds[1].BuySize != 0 {
		t.Errorf("missing size should be zero, got %v", seeds[1].BuySize)
	}
}

func TestLoadSeedMissingFile(t *testing.T) {
	if _, err := LoadSeed(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing seed file accepted")
	}
}
