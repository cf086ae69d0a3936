package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"popextract/internal/config"
	"popextract/internal/models"
)

const wppHeader = "LocID,Location,VarID,Variant,Time,AgeGrp,AgeGrpStart,AgeGrpSpan,PopMale,PopFemale,PopTotal\n"

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wpp.csv")
	if err := os.WriteFile(path, []byte(wppHeader+body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunUKScenario(t *testing.T) {
	// 1. Setup
	input := writeCSV(t, ""+
		"4,Afghanistan,2,Medium,2016,0-4,0,5,1.0,1.0,2.0\n"+
		"826,UK,2,Medium,2016,0-4,0,5,100.0,110.0,210.0\n"+
		"826,UK,2,Medium,2016,5-9,5,5,200.0,210.0,410.0\n"+
		"826,UK,2,Medium,2017,0-4,0,5,90.0,95.0,185.0\n")
	out := t.TempDir()

	// 2. Run
	var stdout, logs bytes.Buffer
	code := run(context.Background(), []string{"-input", input, "-out", out}, &stdout, &logs)
	if code != exitOK {
		t.Fatalf("Expected exit 0, got %d; logs: %s", code, logs.String())
	}

	// 3. Assertions
	got, err := os.ReadFile(filepath.Join(out, "countries", "826.json"))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"2016":{"0-4":[100,110],"5-9":[200,210]}}`
	if string(got) != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
	if _, err := os.Stat(filepath.Join(out, "countries", "4.json")); !os.IsNotExist(err) {
		t.Error("Other countries must not be written")
	}

	var report models.RunReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.Rows != 4 || report.Matched != 3 || report.Accumulated != 2 || report.Flushes != 1 {
		t.Errorf("Unexpected report %+v", report)
	}

	var index []models.CountryEntry
	raw, err := os.ReadFile(filepath.Join(out, "countries", "index.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(raw, &index); err != nil {
		t.Fatal(err)
	}
	if len(index) != 1 || index[0].Name != "UK" {
		t.Errorf("Unexpected index %+v", index)
	}
}

func TestRunIdempotent(t *testing.T) {
	input := writeCSV(t, "826,UK,2,Medium,2016,0,0,1,1.5,2.5,4.0\n826,UK,2,Medium,2016,1,1,1,3.5,4.5,8.0\n")
	out := t.TempDir()
	path := filepath.Join(out, "countries", "826.json")

	var logs bytes.Buffer
	if code := run(context.Background(), []string{"-input", input, "-out", out}, &bytes.Buffer{}, &logs); code != exitOK {
		t.Fatalf("first run: exit %d: %s", code, logs.String())
	}
	first, _ := os.ReadFile(path)
	if code := run(context.Background(), []string{"-input", input, "-out", out}, &bytes.Buffer{}, &logs); code != exitOK {
		t.Fatalf("second run: exit %d: %s", code, logs.String())
	}
	second, _ := os.ReadFile(path)
	if !bytes.Equal(first, second) || len(first) == 0 {
		t.Errorf("Outputs differ:\n%s\n%s", first, second)
	}
}

func TestRunNonContiguousCountries(t *testing.T) {
	input := writeCSV(t, ""+
		"826,UK,2,Medium,2016,0-4,0,5,1,1,2\n"+
		"4,Afghanistan,2,Medium,2016,0-4,0,5,7,7,14\n"+
		"826,UK,2,Medium,2016,5-9,5,5,2,2,4\n")

	tests := []struct {
		grouping string
		want     string
	}{
		{"adjacent", `{"2016":{"5-9":[2,2]}}`},
		{"grouped", `{"2016":{"0-4":[1,1],"5-9":[2,2]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.grouping, func(t *testing.T) {
			out := t.TempDir()
			var logs bytes.Buffer
			args := []string{"-input", input, "-out", out, "-country", "*", "-grouping", tt.grouping, "-formats", "json,arrow"}
			if code := run(context.Background(), args, &bytes.Buffer{}, &logs); code != exitOK {
				t.Fatalf("exit %d: %s", code, logs.String())
			}
			got, _ := os.ReadFile(filepath.Join(out, "countries", "826.json"))
			if string(got) != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
			if _, err := os.Stat(filepath.Join(out, "countries", "4.arrow")); err != nil {
				t.Errorf("Arrow artifact missing: %v", err)
			}
		})
	}
}

func TestRunErrors(t *testing.T) {
	out := t.TempDir()
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"missing input", []string{"-input", filepath.Join(out, "none.csv"), "-out", out}, exitError},
		{"malformed row", []string{"-input", writeCSV(t, "826,UK,2,Medium,year,0,0,1,1,1,2\n"), "-out", out}, exitError},
		{"short row", []string{"-input", writeCSV(t, "826,UK\n"), "-out", out}, exitError},
		{"bad range", []string{"-min-year", "2020", "-max-year", "2010"}, exitUsage},
		{"unknown flag", []string{"-colour"}, exitUsage},
		{"stray arg", []string{"extra"}, exitUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			if code := run(context.Background(), tt.args, &bytes.Buffer{}, &logs); code != tt.want {
				t.Errorf("Expected exit %d, got %d; logs: %s", tt.want, code, logs.String())
			}
		})
	}
}

func TestParseConfigPrecedence(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(cfgPath, []byte(`{"country":"250","min_year":2000,"max_year":2010}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("POPEXTRACT_MAX_YEAR", "2012")

	cfg, err := parseConfig([]string{"-config", cfgPath, "-country", "276"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Country != "276" {
		t.Errorf("Flag should win: %s", cfg.Country)
	}
	if cfg.MinYear != 2000 || cfg.MaxYear != 2012 {
		t.Errorf("File/env not layered: %d..%d", cfg.MinYear, cfg.MaxYear)
	}
}

func TestFlagsCoverEveryOption(t *testing.T) {
	fs, _ := newFlagSet(&bytes.Buffer{})
	keys := make(map[string]bool)
	for _, k := range config.Keys() {
		keys[k] = false
	}
	fs.VisitAll(func(f *flag.Flag) {
		if f.Name == "config" {
			return
		}
		k := flagKey(f.Name)
		if _, ok := keys[k]; !ok {
			t.Errorf("-%s maps to unknown option %q", f.Name, k)
		}
		keys[k] = true
	})
	for k, seen := range keys {
		if !seen {
			t.Errorf("Option %s has no flag", k)
		}
	}
}

func TestParseConfigFlagsTurnOff(t *testing.T) {
	cfg, err := parseConfig([]string{"-manifest=false", "-rate", "0", "-pretty"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Manifest || cfg.RateLimit != 0 || !cfg.Pretty {
		t.Errorf("Flags not applied: manifest=%v rate=%v pretty=%v", cfg.Manifest, cfg.RateLimit, cfg.Pretty)
	}
}

// lockedBuffer collects log lines written from the server goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestServeLoadsInBackground(t *testing.T) {
	// 1. Setup
	input := writeCSV(t, "826,UK,2,Medium,2016,0-4,0,5,100.0,110.0,210.0\n")
	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Start server
	logs := &lockedBuffer{}
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{"serve", "-listen", addr, "-rate", "0", "-input", input, "-out", t.TempDir()}, &bytes.Buffer{}, logs)
	}()

	// 3. Poll until the extraction has reached the handler
	var index []models.CountryEntry
	deadline := time.Now().Add(10 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("API never became ready; logs: %s", logs.String())
		}
		resp, err := http.Get("http://" + addr + "/api/countries")
		if err == nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				if err := json.Unmarshal(body, &index); err != nil {
					t.Fatal(err)
				}
				break
			}
			if resp.StatusCode != http.StatusServiceUnavailable {
				t.Fatalf("Unexpected status %d: %s", resp.StatusCode, body)
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(index) != 1 || index[0].Code != "826" {
		t.Errorf("Unexpected index %+v", index)
	}

	resp, err := http.Get("http://" + addr + "/api/countries/826/2016")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(bytes.TrimSpace(body)) != `{"0-4":[100,110]}` {
		t.Errorf("Year route: %d %s", resp.StatusCode, body)
	}

	// 4. Clean shutdown
	cancel()
	select {
	case code := <-done:
		if code != exitOK {
			t.Errorf("Expected exit 0 after shutdown, got %d; logs: %s", code, logs.String())
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Server did not shut down")
	}
}

func TestServeExtractionFailure(t *testing.T) {
	input := writeCSV(t, "826,UK,2,Medium,2016,0-4,0,5,lots,110.0,210.0\n")
	logs := &lockedBuffer{}
	done := make(chan int, 1)
	go func() {
		done <- run(context.Background(), []string{"serve", "-listen", freeAddr(t), "-rate", "0", "-input", input, "-out", t.TempDir()}, &bytes.Buffer{}, logs)
	}()

	select {
	case code := <-done:
		if code != exitError {
			t.Errorf("Expected exit 1, got %d", code)
		}
		if !strings.Contains(logs.String(), "PopMale") {
			t.Errorf("Expected the malformed field in the logs: %s", logs.String())
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Server kept running after the extraction failed")
	}
}
