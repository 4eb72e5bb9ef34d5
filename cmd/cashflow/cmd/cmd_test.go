package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"cashflow-engine/pkg/errors"
)

// resetFlags restores every flag of c and its subcommands to its default
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	err := rootCmd.Execute()
	return out.String(), err
}

// generateLedger writes a synthetic ledger ending today into a temp dir
func generateLedger(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if _, err := execute(t, "generate", "--out", dir, "--days", "120", "--seed", "3"); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	return dir
}

func ledgerArgs(dir string, args ...string) []string {
	return append(args,
		"--transactions", filepath.Join(dir, "transactions.csv"),
		"--categories", filepath.Join(dir, "categories.csv"),
		"--accounts", filepath.Join(dir, "accounts.csv"),
		"--company", "demo",
	)
}

func decode(t *testing.T, out string) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal([]byte(out), &body); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, out)
	}
	return body
}

func TestGenerateCommand(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "generate", "--out", dir, "--today", "2024-06-30", "--days", "60")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, name := range []string{"transactions.csv", "categories.csv", "accounts.csv"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to be written: %v", name, err)
		}
		if !strings.Contains(out, path) {
			t.Errorf("expected output to list %s", path)
		}
	}
}

func TestGenerateCommand_InvalidPattern(t *testing.T) {
	_, err := execute(t, "generate", "--out", t.TempDir(), "--pattern", "chaotic")
	if !errors.IsCategory(err, errors.CategoryValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestReportCommand(t *testing.T) {
	dir := generateLedger(t)

	out, err := execute(t, ledgerArgs(dir, "report", "actuals", "--days", "90", "--group-by", "month", "--format", "json")...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := decode(t, out)
	if body["kind"] != "actuals" {
		t.Errorf("expected kind actuals, got %v", body["kind"])
	}
	if body["groupBy"] != "month" {
		t.Errorf("expected month grouping, got %v", body["groupBy"])
	}
	if buckets := body["buckets"].([]interface{}); len(buckets) < 3 || len(buckets) > 4 {
		t.Errorf("expected 3 or 4 monthly buckets over 90 days, got %d", len(buckets))
	}
	totals := body["totals"].(map[string]interface{})
	if n, _ := totals["transactions"].(float64); n == 0 {
		t.Error("expected transactions in the window")
	}
}

func TestReportCommand_Errors(t *testing.T) {
	dir := generateLedger(t)

	tests := []struct {
		name     string
		args     []string
		category errors.ErrorCategory
		exitCode int
	}{
		{"unknown kind", ledgerArgs(dir, "report", "weather"), errors.CategoryValidation, 3},
		{"invalid date", ledgerArgs(dir, "report", "actuals", "--from", "soon"), errors.CategoryValidation, 3},
		{"invalid grouping", ledgerArgs(dir, "report", "actuals", "--group-by", "year"), errors.CategoryValidation, 3},
		{"missing company", []string{"report", "actuals", "--transactions", filepath.Join(dir, "transactions.csv")}, errors.CategoryValidation, 3},
		{"missing file", []string{"report", "actuals", "--company", "demo", "--transactions", filepath.Join(dir, "missing.csv")}, errors.CategoryFile, 2},
		{"no sources", []string{"report", "actuals", "--company", "demo"}, errors.CategoryValidation, 3},
		{"bad delimiter", ledgerArgs(dir, "report", "actuals", "--delimiter", "#"), errors.CategoryConfiguration, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.IsCategory(err, tt.category) {
				t.Errorf("expected %s error, got %v", tt.category, err)
			}

			var stderr bytes.Buffer
			if code := NewCLIErrorHandler(&stderr).HandleError(err); code != tt.exitCode {
				t.Errorf("expected exit code %d, got %d", tt.exitCode, code)
			}
		})
	}
}

func TestReportCommand_OutputFile(t *testing.T) {
	dir := generateLedger(t)
	path := filepath.Join(t.TempDir(), "reports", "by-flow.csv")

	out, err := execute(t, ledgerArgs(dir, "report", "by-flow", "--format", "csv", "--output", path)...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "" {
		t.Errorf("expected nothing on stdout, got %q", out)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected report file: %v", err)
	}
	if !strings.HasPrefix(string(data), "Group,") {
		t.Errorf("expected grouped CSV header, got %q", strings.SplitN(string(data), "\n", 2)[0])
	}
}

func TestForecastCommand(t *testing.T) {
	dir := generateLedger(t)

	out, err := execute(t, ledgerArgs(dir, "forecast", "--horizon", "14", "--days", "90", "--format", "json")...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := decode(t, out)
	model := body["model"].(map[string]interface{})
	if model["type"] != "simple_trend" {
		t.Errorf("expected simple_trend without a forecasting service, got %v", model["type"])
	}
	if points := body["forecast"].([]interface{}); len(points) != 14 {
		t.Errorf("expected 14 forecast points, got %d", len(points))
	}
}

func TestBacktestCommand_NoService(t *testing.T) {
	dir := generateLedger(t)

	_, err := execute(t, ledgerArgs(dir, "backtest")...)
	if !errors.IsCategory(err, errors.CategoryUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if code := NewCLIErrorHandler(&bytes.Buffer{}).HandleError(err); code != 6 {
		t.Errorf("expected exit code 6, got %d", code)
	}
}

func TestKPICommand(t *testing.T) {
	dir := generateLedger(t)

	tests := []struct {
		args []string
		keys []string
	}{
		{[]string{"kpi"}, []string{"dso", "ebitda", "bfr", "breakeven"}},
		{[]string{"kpi", "ebitda"}, []string{"ebitda", "reliability"}},
		{[]string{"kpi", "breakeven"}, []string{"breakEvenRevenue", "reliability"}},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			args := append(tt.args, "--days", "90", "--format", "json")
			out, err := execute(t, ledgerArgs(dir, args...)...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			body := decode(t, out)
			for _, key := range tt.keys {
				if _, ok := body[key]; !ok {
					t.Errorf("expected key %s in output", key)
				}
			}
		})
	}

	if _, err := execute(t, ledgerArgs(dir, "kpi", "roi")...); !errors.IsCategory(err, errors.CategoryValidation) {
		t.Errorf("expected validation error for unknown KPI, got %v", err)
	}
}

func TestConfigFileAndEnv(t *testing.T) {
	dir := generateLedger(t)
	configPath := filepath.Join(t.TempDir(), "cashflow.yaml")
	content := fmt.Sprintf("sources:\n  transactions: %s\nparser:\n  company_id: demo\nreport:\n  format: json\n",
		filepath.Join(dir, "transactions.csv"))
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	t.Setenv("CASHFLOW_REPORT_MAX_ROWS", "5")
	out, err := execute(t, "report", "actuals", "--config", configPath, "--format", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := decode(t, out)
	if body["companyId"] != "demo" {
		t.Errorf("expected company from parser.company_id, got %v", body["companyId"])
	}
	if cfg.Report.MaxRows != 5 {
		t.Errorf("expected max rows from environment, got %d", cfg.Report.MaxRows)
	}
}

func TestCLIErrorHandler(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedCode int
		contains     []string
	}{
		{
			name:         "nil error",
			err:          nil,
			expectedCode: 0,
		},
		{
			name: "validation error",
			err: errors.ValidationError(errors.CodeInvalidDate, "from", "soon", nil).
				WithSuggestion("use YYYY-MM-DD"),
			expectedCode: 3,
			contains:     []string{"Error: invalid date", "Suggestion: use YYYY-MM-DD", "Validation error help"},
		},
		{
			name:         "upstream error",
			err:          errors.UpstreamError(errors.CodeServiceUnreachable, "/forecast", fmt.Errorf("connection refused")),
			expectedCode: 6,
			contains:     []string{"Forecasting service help"},
		},
		{
			name:         "missing file",
			err:          &os.PathError{Op: "open", Path: "ledger.csv", Err: os.ErrNotExist},
			expectedCode: 2,
			contains:     []string{"File not found"},
		},
		{
			name:         "generic error",
			err:          fmt.Errorf("unknown flag: --colour"),
			expectedCode: 1,
			contains:     []string{"unknown flag", "cashflow --help"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			code := NewCLIErrorHandler(&out).HandleError(tt.err)
			if code != tt.expectedCode {
				t.Errorf("expected exit code %d, got %d", tt.expectedCode, code)
			}
			for _, s := range tt.contains {
				if !strings.Contains(out.String(), s) {
					t.Errorf("expected output to contain %q, got:\n%s", s, out.String())
				}
			}
		})
	}
}

func TestVersionString(t *testing.T) {
	SetVersionInfo("1.2.0", "abc123", "2024-07-01")
	defer SetVersionInfo("dev", "unknown", "unknown")

	if got := getVersionString(); got != "1.2.0" {
		t.Errorf("expected version 1.2.0, got %s", got)
	}
	SetVersionInfo("dev", "abc123", "2024-07-01")
	if got := getVersionString(); !strings.Contains(got, "abc123") {
		t.Errorf("expected commit in dev version, got %s", got)
	}
}
