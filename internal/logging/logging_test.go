package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshnode/meshnode/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		LogDebug: config.SinkFile,
		LogInfo:  config.SinkTerminal,
		LogNet:   config.SinkFile,
		LogWarn:  config.SinkBoth,
		LogErr:   config.SinkFile,
	}
}

func TestBuildRoutesFileLevelsToTheSharedLogFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshnode.log")

	logger, closer, err := Build(testConfig(), path)
	require.NoError(t, err)
	defer closer()

	logger.Debug("debug line")
	logger.Error("error line")
	NetLogger(logger).Info("net line")
	logger.Info("plain info line")

	require.NoError(t, logger.Sync())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(contents)

	assert.Contains(t, text, "debug line")
	assert.Contains(t, text, "error line")
	assert.Contains(t, text, "net line")
	assert.NotContains(t, text, "plain info line", "info is routed to terminal only in this config")
}

func TestBuildSkipsFileWhenNoLevelUsesIt(t *testing.T) {
	cfg := &config.Config{
		LogDebug: config.SinkTerminal,
		LogInfo:  config.SinkTerminal,
		LogNet:   config.SinkTerminal,
		LogWarn:  config.SinkTerminal,
		LogErr:   config.SinkTerminal,
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "unused.log")

	logger, closer, err := Build(cfg, path)
	require.NoError(t, err)
	defer closer()
	logger.Info("hello")

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "file sink never opened when nothing routes to it")
}
