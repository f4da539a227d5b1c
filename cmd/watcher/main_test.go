package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/smartdevs17/contract-risk-watcher/internal/blacklist"
	"github.com/smartdevs17/contract-risk-watcher/internal/config"
	"github.com/smartdevs17/contract-risk-watcher/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testContract = "0x00000000000000000000000000000000000000c1"
	testCreator  = "0x00000000000000000000000000000000000000d1"
)

func writeConfig(t *testing.T, explorerURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := fmt.Sprintf(`
etherscan:
  base_url: %q
  api_key: test-key
  max_retries: 0
blacklist:
  entries:
    - address: %q
      comment: drainer
sink:
  types: [log]
storage:
  type: sqlite
  connection_string: %q
logging:
  level: error
  output: stderr
`, explorerURL, testCreator, filepath.Join(dir, "watcher.db"))

	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, AppVersion)
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("ETHERSCAN_API_KEY", "")

	out, err := execute(t, "config", "validate", "--config", writeConfig(t, "http://localhost"))
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid!")
	assert.Contains(t, out, "Sinks: log")
}

func TestConfigValidateMissingKey(t *testing.T) {
	t.Setenv("ETHERSCAN_API_KEY", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sink:\n  types: [log]\n"), 0o600))

	_, err := execute(t, "config", "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestScanRejectsInvertedRange(t *testing.T) {
	_, err := execute(t, "scan", "--from", "10", "--to", "5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--to")
}

func TestAssessCommand(t *testing.T) {
	t.Setenv("ETHERSCAN_API_KEY", "")

	explorer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("action") {
		case "getsourcecode":
			_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[{"SourceCode":"contract T {}","ABI":"[{\"name\":\"balanceOf\"}]","ContractName":"T"}]}`))
		case "txlistinternal":
			_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[{"blockNumber":"100","timeStamp":"1600000000","hash":"0xh"}]}`))
		case "eth_getTransactionCount":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x40"}`))
		default:
			http.Error(w, "unexpected action", http.StatusBadRequest)
		}
	}))
	defer explorer.Close()

	path := writeConfig(t, explorer.URL)

	out, err := execute(t, "assess", testContract, "--creator", testCreator, "--json", "--config", path)
	require.NoError(t, err)

	var record models.OutputRecord
	require.NoError(t, json.Unmarshal([]byte(out), &record))
	assert.Equal(t, testContract, record.ContractAddress)
	assert.Equal(t, models.RiskHigh, record.RiskScore)
	assert.Equal(t, "creator address is blacklisted: "+testCreator+" - drainer", record.RiskReason)

	out, err = execute(t, "assess", testContract, "--json", "--config", path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &record))
	assert.Equal(t, models.RiskLow, record.RiskScore)
	assert.Empty(t, record.RiskReason)
}

func TestPrintVerdict(t *testing.T) {
	color.NoColor = true
	abi := "[]"

	var buf bytes.Buffer
	printVerdict(&buf, &models.OutputRecord{
		ContractAddress: testContract,
		CreatorAddress:  testCreator,
		ABI:             &abi,
		RiskScore:       models.RiskMedium,
		RiskReason:      "low contract interaction",
	})

	out := buf.String()
	assert.Contains(t, out, "Contract: "+testContract)
	assert.Contains(t, out, "Verified: true")
	assert.Contains(t, out, "Risk:     MEDIUM")
	assert.Contains(t, out, "Reason:   low contract interaction")
}

func TestNewBlacklistFeed(t *testing.T) {
	feed := newBlacklistFeed(&config.BlacklistConfig{
		Entries: []models.BlacklistEntry{{Address: "0xbad", Comment: "scam"}},
	})
	static, ok := feed.(blacklist.StaticFeed)
	require.True(t, ok)
	assert.Len(t, static, 1)

	feed = newBlacklistFeed(&config.BlacklistConfig{URL: "http://feed.local/list.json"})
	_, ok = feed.(*blacklist.HTTPFeed)
	assert.True(t, ok)

	assert.Nil(t, newBlacklistFeed(&config.BlacklistConfig{}), "no source leaves the persisted snapshot alone")
}
