package configstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()
	lockEnv(t)
	testSetEnv(t, "MINER_HOME", "")
	base := t.TempDir()
	testSetEnv(t, "XDG_CONFIG_HOME", base)
	setHome(t, filepath.Join(base, "home"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	want := New()
	if cfg.Mining != want.Mining {
		t.Fatalf("mining = %+v, want defaults %+v", cfg.Mining, want.Mining)
	}
	if cfg.Output != want.Output {
		t.Fatalf("output = %+v, want defaults %+v", cfg.Output, want.Output)
	}
	if len(cfg.Redactions) != 0 {
		t.Fatalf("expected no redactions, got %v", cfg.Redactions)
	}
}

func TestLoadFileMissingPathReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope", "config.toml"))
	if err != nil {
		t.Fatalf("LoadFile returned error: %v", err)
	}
	if cfg.Output.Format != FormatText {
		t.Fatalf("format = %q, want default %q", cfg.Output.Format, FormatText)
	}
}

func TestSaveRoundTripPersistsSettings(t *testing.T) {
	t.Parallel()
	lockEnv(t)
	testSetEnv(t, "MINER_HOME", "")
	base := t.TempDir()
	testSetEnv(t, "XDG_CONFIG_HOME", base)
	setHome(t, filepath.Join(base, "home"))

	cfg := New()
	cfg.Mining.Name = "nightly"
	cfg.Mining.MinSupport = 0.15
	cfg.Output.Format = FormatMarkdown
	cfg.Output.MaxPolicies = 7
	cfg.Serve.Listen = "127.0.0.1:9999"
	if err := cfg.SetRedaction("workspace", "/srv/jobs"); err != nil {
		t.Fatalf("SetRedaction: %v", err)
	}
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_, file, err := GetConfigPath()
	if err != nil {
		t.Fatalf("GetConfigPath: %v", err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, fragment := range []string{"[mining]", "[output]", "[serve]", "[redactions]", "name = 'nightly'", "workspace = '/srv/jobs'"} {
		if !strings.Contains(string(data), fragment) {
			t.Fatalf("saved config missing %q, got:\n%s", fragment, data)
		}
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load after save: %v", err)
	}
	if loaded.Mining.Name != "nightly" || loaded.Mining.MinSupport != 0.15 {
		t.Fatalf("mining round trip = %+v", loaded.Mining)
	}
	if loaded.Output.Format != FormatMarkdown || loaded.Output.MaxPolicies != 7 {
		t.Fatalf("output round trip = %+v", loaded.Output)
	}
	if loaded.Serve.Listen != "127.0.0.1:9999" {
		t.Fatalf("serve round trip = %+v", loaded.Serve)
	}
	if got := loaded.Redactions["workspace"]; got != "/srv/jobs" {
		t.Fatalf("redaction round trip = %q", got)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	t.Parallel()
	lockEnv(t)
	home := t.TempDir()
	testSetEnv(t, "MINER_HOME", home)

	if err := Save(New()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(home)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
	if _, err := os.Stat(filepath.Join(home, configFileName)); err != nil {
		t.Fatalf("config file missing after save: %v", err)
	}
}

func TestDecodeConfigReadsAllTables(t *testing.T) {
	const sample = `
# miner config

[mining]
name = "session-audit"
min_support = 0.1
min_confidence = 0.75
min_lift = 1.1

[output]
format = "Markdown"
max_policies = 25

[serve]
listen = "127.0.0.1:9100"
event_buffer = 512

[redactions]
# commented entries stay out
#api_key = "${NEVER_SET_FOR_THIS_TEST}"
login = "alice"
`

	cfg := New()
	if err := decodeConfig([]byte(sample), "config.toml", &cfg); err != nil {
		t.Fatalf("decodeConfig returned error: %v", err)
	}
	if cfg.Mining.Name != "session-audit" {
		t.Fatalf("name = %q", cfg.Mining.Name)
	}
	if cfg.Mining.MinSupport != 0.1 || cfg.Mining.MinConfidence != 0.75 || cfg.Mining.MinLift != 1.1 {
		t.Fatalf("thresholds = %+v", cfg.Mining)
	}
	if cfg.Output.Format != FormatMarkdown {
		t.Fatalf("format = %q, want lowercased %q", cfg.Output.Format, FormatMarkdown)
	}
	if cfg.Output.MaxPolicies != 25 {
		t.Fatalf("max_policies = %d", cfg.Output.MaxPolicies)
	}
	if cfg.Serve.Listen != "127.0.0.1:9100" || cfg.Serve.EventBuffer != 512 {
		t.Fatalf("serve = %+v", cfg.Serve)
	}
	if _, ok := cfg.Redactions["api_key"]; ok {
		t.Fatal("commented redaction leaked into config")
	}
	if got := cfg.Redactions["login"]; got != "alice" {
		t.Fatalf("login = %q", got)
	}
}

func TestDecodeConfigIntegerThresholdsAccepted(t *testing.T) {
	const sample = `
[mining]
min_support = 0
min_confidence = 1
min_lift = 2
`

	cfg := New()
	if err := decodeConfig([]byte(sample), "config.toml", &cfg); err != nil {
		t.Fatalf("decodeConfig returned error: %v", err)
	}
	if cfg.Mining.MinSupport != 0 || cfg.Mining.MinConfidence != 1 || cfg.Mining.MinLift != 2 {
		t.Fatalf("thresholds = %+v", cfg.Mining)
	}
}

func TestDecodeConfigExpandsEnvInRedactions(t *testing.T) {
	workspace := t.TempDir()
	testSetEnv(t, "WORKSPACE_DIR", workspace)
	testSetEnv(t, "NV_API_KEY", "supervalue")

	const configTemplate = `
[redactions]
workspace = "${WORKSPACE_DIR}/scratch"
api_key = "${NV_API_KEY}-lolllllllllllllll!"
`

	cfg := New()
	if err := decodeConfig([]byte(configTemplate), "config.toml", &cfg); err != nil {
		t.Fatalf("decodeConfig returned error: %v", err)
	}

	if got, want := cfg.Redactions["workspace"], workspace+"/scratch"; got != want {
		t.Fatalf("workspace = %q, want %q", got, want)
	}
	if got, want := cfg.Redactions["api_key"], "supervalue-lolllllllllllllll!"; got != want {
		t.Fatalf("api_key = %q, want %q", got, want)
	}
}

func TestDecodeConfigRedactionValuesMixedSyntax(t *testing.T) {
	testSetEnv(t, "TOKEN", "tok")
	testSetEnv(t, "SUFFIX", "tail")

	const configTemplate = `
[redactions]
BRACED = "${TOKEN}"
UNBRACED = "$TOKEN$SUFFIX"
ESCAPED = '\$TOKEN'
ESCAPEDBRACED = '\${TOKEN}'
`

	cfg := New()
	if err := decodeConfig([]byte(configTemplate), "config.toml", &cfg); err != nil {
		t.Fatalf("decodeConfig returned error: %v", err)
	}

	if got, want := cfg.Redactions["BRACED"], "tok"; got != want {
		t.Fatalf("BRACED = %q, want %q", got, want)
	}
	if got, want := cfg.Redactions["UNBRACED"], "toktail"; got != want {
		t.Fatalf("UNBRACED = %q, want %q", got, want)
	}
	if got, want := cfg.Redactions["ESCAPED"], "$TOKEN"; got != want {
		t.Fatalf("ESCAPED = %q, want %q", got, want)
	}
	if got, want := cfg.Redactions["ESCAPEDBRACED"], "${TOKEN}"; got != want {
		t.Fatalf("ESCAPEDBRACED = %q, want %q", got, want)
	}
}

func TestDecodeConfigAllowsSingleBackslashDollarInRedactions(t *testing.T) {
	testSetEnv(t, "SEED", "abc")

	const configTemplate = `
[redactions]
token = "live-${SEED}-key\$TAIL\$END"
`

	cfg := New()
	if err := decodeConfig([]byte(configTemplate), "config.toml", &cfg); err != nil {
		t.Fatalf("decodeConfig returned error: %v", err)
	}

	const want = "live-abc-key$TAIL$END"
	if got := cfg.Redactions["token"]; got != want {
		t.Fatalf("token = %q, want %q", got, want)
	}
}

func TestDecodeConfigAllowsEmptyRedactionsTable(t *testing.T) {
	t.Parallel()

	const configTemplate = `
[redactions]
`

	cfg := New()
	if err := decodeConfig([]byte(configTemplate), "config.toml", &cfg); err != nil {
		t.Fatalf("decodeConfig returned error: %v", err)
	}
	if len(cfg.Redactions) != 0 {
		t.Fatalf("expected no redactions, got %v", cfg.Redactions)
	}
}

func TestDecodeConfigTrimsRedactionKeys(t *testing.T) {
	t.Parallel()

	const configTemplate = `
[redactions]
"  padded  " = "value"
"   " = "dropped"
`

	cfg := New()
	if err := decodeConfig([]byte(configTemplate), "config.toml", &cfg); err != nil {
		t.Fatalf("decodeConfig returned error: %v", err)
	}
	if got := cfg.Redactions["padded"]; got != "value" {
		t.Fatalf("padded = %q", got)
	}
	if len(cfg.Redactions) != 1 {
		t.Fatalf("blank key kept, got %v", cfg.Redactions)
	}
}

func TestDecodeConfigMalformedTOMLReturnsParseError(t *testing.T) {
	t.Parallel()

	const bad = `
[mining]
min_support = oops
`

	cfg := New()
	err := decodeConfig([]byte(bad), "broken.toml", &cfg)
	if err == nil {
		t.Fatal("expected decode error")
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("error %T is not a ParseError: %v", err, err)
	}
	if parseErr.Path != "broken.toml" {
		t.Fatalf("Path = %q, want broken.toml", parseErr.Path)
	}
}

func TestDecodeConfigWrongValueTypeErrors(t *testing.T) {
	t.Parallel()

	const bad = `
[mining]
min_support = "high"
`

	cfg := New()
	if err := decodeConfig([]byte(bad), "config.toml", &cfg); err == nil {
		t.Fatal("expected type error for string threshold")
	}
}

func TestLoadFileRejectsInvalidSettings(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	const out = `
[mining]
min_support = 3.5
`
	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := LoadFile(path)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("error %T is not a ParseError: %v", err, err)
	}
	if !strings.Contains(err.Error(), "min_support") {
		t.Fatalf("error %q does not mention min_support", err)
	}
}

func TestDecodeConfigIgnoresUnknownTables(t *testing.T) {
	t.Parallel()

	const sample = `
[mining]
min_confidence = 0.9

[experimental]
shiny = true
`

	cfg := New()
	if err := decodeConfig([]byte(sample), "config.toml", &cfg); err != nil {
		t.Fatalf("decodeConfig returned error: %v", err)
	}
	if cfg.Mining.MinConfidence != 0.9 {
		t.Fatalf("min_confidence = %g", cfg.Mining.MinConfidence)
	}
}
