package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextComponentLevels(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "text", LogLevelWarn, map[string]LogLevel{
		ComponentNetlink: LogLevelDebug,
	})
	t.Cleanup(func() { Configure(os.Stderr, "text", LogLevelInfo, nil) })

	Component(ComponentApply).Info("hidden")
	Component(ComponentNetlink).Debug("shown", "link", "eth0")
	Component(ComponentNetlink + ".dump").Debug("inherited")
	Log.Warn("default")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "[netlink] DEBUG shown link=eth0")
	assert.Contains(t, lines[1], "[netlink.dump] DEBUG inherited")
	assert.Contains(t, lines[2], "WARN default")
}

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "json", LogLevelInfo, nil)
	t.Cleanup(func() { Configure(os.Stderr, "text", LogLevelInfo, nil) })

	Component(ComponentConfig).With("path", "/etc/tbfctl.yaml").Info("Loaded configuration")
	Component(ComponentConfig).Debug("hidden")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "Loaded configuration", rec["msg"])
	assert.Equal(t, ComponentConfig, rec["component"])
	assert.Equal(t, "/etc/tbfctl.yaml", rec["path"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("Debug").String())
	assert.Equal(t, "WARN", parseLevel("warning").String())
	assert.Equal(t, "ERROR", parseLevel("error").String())
	assert.Equal(t, "INFO", parseLevel("bogus").String())
}

func TestFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tbfctl.log")
	Configure(FileWriter(path, 1, 2), "text", LogLevelInfo, nil)
	t.Cleanup(func() { Configure(os.Stderr, "text", LogLevelInfo, nil) })

	Component(ComponentApply).Info("Queueing discipline set", "link", "eth0 root")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "[apply] INFO Queueing discipline set link=eth0 root")
}
