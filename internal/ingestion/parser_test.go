package ingestion_test

import (
	"strings"
	"testing"
	"time"

	"StableLend/internal/ingestion"
)

// ============================================================================
// Test: RateUpdate parsing
// ============================================================================

func TestParseRateUpdate_Valid(t *testing.T) {
	data := []byte(`{"asset":"YCOLL","rate":"1050000000000000000","timestamp_us":1724400000000000}`)

	ru, err := ingestion.ParseRateUpdate(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ru.Asset != "YCOLL" {
		t.Errorf("asset = %q", ru.Asset)
	}
	if ru.Rate.Dec() != "1050000000000000000" {
		t.Errorf("rate = %s", ru.Rate.Dec())
	}
	if !ru.Timestamp.Equal(time.UnixMicro(1724400000000000)) {
		t.Errorf("timestamp = %v", ru.Timestamp)
	}
}

func TestParseRateUpdate_BadRate(t *testing.T) {
	cases := []string{
		`{"asset":"YCOLL","rate":"","timestamp_us":1}`,
		`{"asset":"YCOLL","rate":"-5","timestamp_us":1}`,
		`{"asset":"YCOLL","rate":"1.5","timestamp_us":1}`,
		`{"asset":"YCOLL","rate":"abc","timestamp_us":1}`,
	}
	for _, c := range cases {
		if _, err := ingestion.ParseRateUpdate([]byte(c)); err == nil {
			t.Errorf("accepted bad rate: %s", c)
		}
	}
}

func TestParseRateUpdate_EmptyAsset(t *testing.T) {
	data := []byte(`{"asset":"","rate":"1000000000000000000","timestamp_us":1}`)
	_, err := ingestion.ParseRateUpdate(data)
	if err == nil || !strings.Contains(err.Error(), "empty asset") {
		t.Errorf("expected empty-asset error, got %v", err)
	}
}

func TestParseRateUpdate_MalformedJSON(t *testing.T) {
	if _, err := ingestion.ParseRateUpdate([]byte(`{"asset":`)); err == nil {
		t.Error("accepted truncated JSON")
	}
}

// ============================================================================
// Test: HarvestTick parsing
// ============================================================================

func TestParseHarvestTick_Valid(t *testing.T) {
	data := []byte(`{"tick_id":"tick-42","timestamp_us":1724400000000000}`)

	ht, err := ingestion.ParseHarvestTick(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ht.TickID != "tick-42" {
		t.Errorf("tick_id = %q", ht.TickID)
	}
}

func TestParseHarvestTick_EmptyTickID(t *testing.T) {
	if _, err := ingestion.ParseHarvestTick([]byte(`{"tick_id":"","timestamp_us":1}`)); err == nil {
		t.Error("accepted empty tick_id")
	}
	if _, err := ingestion.ParseHarvestTick([]byte(`{"timestamp_us":1}`)); err == nil {
		t.Error("accepted missing tick_id")
	}
}
