package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KaramelBytes/tabloom/internal/ai"
	cfgpkg "github.com/KaramelBytes/tabloom/internal/config"
	"github.com/KaramelBytes/tabloom/internal/export"
)

const plantCSV = `date;shift;line;production;defects
2024-01-01;A;L1;100;5
2024-01-01;B;L2;80;4
2024-01-02;A;L1;110;5
2024-01-02;B;L2;90;4
`

// runCmd executes the root command with args and returns stdout.
func runCmd(t *testing.T, args ...string) string {
	t.Helper()
	// Reset bound variables that persist across invocations
	askJSON, askOutput, askArrow, askPlanOnly, askNoAI = false, "", "", false, false
	clsJSON, clsAI = false, false
	checkVerbose = false
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("command %v failed: %v", args, err)
	}
	return out.String()
}

func writePlant(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plant.csv")
	if err := os.WriteFile(path, []byte(plantCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildRuntimeDefaults(t *testing.T) {
	c := &cfgpkg.Global{DefaultProvider: "local", OllamaHost: "http://example"}
	client, provider, err := buildRuntime(c, runtimeOptions{})
	if err != nil {
		t.Fatalf("buildRuntime error: %v", err)
	}
	if provider != ai.ProviderOllama {
		t.Fatalf("expected ollama provider, got %q", provider)
	}
	if oc, ok := client.(*ai.OllamaClient); !ok || oc.Host() != "http://example" {
		t.Fatalf("client = %#v", client)
	}
	if _, _, err := buildRuntime(nil, runtimeOptions{ProviderFlag: "nope"}); err == nil {
		t.Fatal("unknown provider accepted")
	}
	if m := selectModel(c, ai.ProviderOllama, ""); m != ai.DefaultModel(ai.ProviderOllama) {
		t.Fatalf("model = %q", m)
	}
}

func TestLoadFlags(t *testing.T) {
	opt, err := loadFlags{Delimiter: "tab", Decimal: "comma", Thousands: "space", MaxRows: 0}.options()
	if err != nil {
		t.Fatal(err)
	}
	if opt.Delimiter != '\t' || opt.DecimalSeparator != ',' || opt.ThousandsSeparator != ' ' || opt.MaxRows != 0 {
		t.Fatalf("options = %+v", opt)
	}
	if _, err := (loadFlags{Delimiter: "#"}).options(); err == nil {
		t.Fatal("bad delimiter accepted")
	}
}

func TestCLI_ClassifyAndCheck(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writePlant(t)

	out := runCmd(t, "classify", path)
	for _, want := range []string{"production", "numeric_measure", "defects", "quality_measure", "categorical"} {
		if !strings.Contains(out, want) {
			t.Fatalf("classify output missing %q:\n%s", want, out)
		}
	}

	out = runCmd(t, "check", "-v", "show", "production", "trend")
	if !strings.Contains(out, "ALLOWED") || !strings.Contains(out, "domain keywords:") {
		t.Fatalf("check output:\n%s", out)
	}
	out = runCmd(t, "check", "what movie should I watch")
	if !strings.Contains(out, "BLOCKED_IRRELEVANT") {
		t.Fatalf("check output:\n%s", out)
	}
}

func TestCLI_AskWritesOutputs(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writePlant(t)
	dir := filepath.Dir(path)
	pq := filepath.Join(dir, "out", "by_shift.parquet")

	out := runCmd(t, "ask", path, "compare production by shift", "--no-ai", "--json", "-o", pq)
	var res askResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid json: %v\n%s", err, out)
	}
	if !res.Success || res.Records != 4 || res.Chart == nil || res.Chart.XAxis != "shift" {
		t.Fatalf("result = %+v", res)
	}

	b, err := os.ReadFile(pq)
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	ds, err := export.ReadParquet(context.Background(), b)
	if err != nil {
		t.Fatalf("ReadParquet: %v", err)
	}
	if ds.Len() != 2 || ds.Get(0, "shift") != "A" {
		t.Fatalf("aggregated = %v %v", ds.Columns, ds.Rows)
	}

	out = runCmd(t, "ask", path, "how do I hack the password", "--no-ai")
	if !strings.HasPrefix(out, "✗") {
		t.Fatalf("blocked output:\n%s", out)
	}
}

func TestCLI_ConfigSetAndPath(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	cfgFile = cfgPath
	defer func() { cfgFile, cfg = "", nil }()

	runCmd(t, "config", "set", "default_provider", "local")
	runCmd(t, "config", "set", "plan_timeout_sec", "12")
	if out := runCmd(t, "config", "path"); strings.TrimSpace(out) != cfgPath {
		t.Fatalf("path = %q", out)
	}
	c, err := cfgpkg.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if c.DefaultProvider != ai.ProviderOllama || c.PlanTimeoutSec != 12 {
		t.Fatalf("saved config = %+v", c)
	}

	rootCmd.SetArgs([]string{"config", "set", "default_provider", "nope"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("invalid provider accepted")
	}
}
