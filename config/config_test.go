package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	clearEnv(t, "INSTRUMENT_SYMBOL", "SENTIMENT_PROVIDER", "ENABLE_RSS_NEWS", "ENABLE_COMPANY_NEWS", "INSTRUMENT_WEIGHTS")

	cfg := Load()
	if cfg.InstrumentSymbol != "NIFTYBEES" {
		t.Errorf("expected default symbol, got %q", cfg.InstrumentSymbol)
	}
	if cfg.SentimentProvider != "fast" {
		t.Errorf("expected default provider fast, got %q", cfg.SentimentProvider)
	}
	if !cfg.EnableCompanyNews || !cfg.EnableMarketNews {
		t.Error("expected company and market news enabled by default")
	}
	if cfg.EnableRSSNews {
		t.Error("expected RSS news disabled by default")
	}
}

func TestLoad_WeightsDefaultToSingleMarketBucket(t *testing.T) {
	clearEnv(t, "INSTRUMENT_WEIGHTS")
	cfg := Load()
	if cfg.Weights["market"] != 1.0 {
		t.Errorf("expected default market weight 1.0, got %v", cfg.Weights["market"])
	}
}

func TestLoad_ParsesWeightsJSON(t *testing.T) {
	clearEnv(t, "INSTRUMENT_WEIGHTS")
	os.Setenv("INSTRUMENT_WEIGHTS", `{"RELIANCE":0.14,"market":0.30}`)

	cfg := Load()
	if cfg.Weights["RELIANCE"] != 0.14 {
		t.Errorf("expected RELIANCE weight 0.14, got %v", cfg.Weights["RELIANCE"])
	}
}

func TestGetBool_InvalidFallsBackToDefault(t *testing.T) {
	clearEnv(t, "SOME_BOOL_FLAG")
	os.Setenv("SOME_BOOL_FLAG", "not-a-bool")
	if got := getBool("SOME_BOOL_FLAG", true); !got {
		t.Error("expected fallback true for invalid bool")
	}
}

func TestGetInt_InvalidFallsBackToDefault(t *testing.T) {
	clearEnv(t, "SOME_INT_FLAG")
	os.Setenv("SOME_INT_FLAG", "nope")
	if got := getInt("SOME_INT_FLAG", 7); got != 7 {
		t.Errorf("expected fallback 7, got %d", got)
	}
}
