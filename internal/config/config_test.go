package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const sampleXML = `<config>
  <run_time worker_threads="4" io_panic_log_level="error"/>
  <cluster connect_timeout_ms="3000"/>
  <author key="s3cr3t"/>
  <log debug="terminal" info="terminal" net="terminal" warn="terminal" err="both"/>
  <servers>
    <group name="master" front="false">
      <server id="1" host="127.0.0.1" back_tcp_port="9000"/>
    </group>
    <group name="chat" front="true">
      <server id="2" host="127.0.0.1" back_tcp_port="9001" front_tcp_port="8001" front_ws_port="8002"/>
      <server id="3" host="127.0.0.1" back_tcp_port="9002" front_tcp_port="8003"/>
    </group>
  </servers>
</config>`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.xml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadParsesAndValidatesSampleConfig(t *testing.T) {
	path := writeTemp(t, sampleXML)
	cfg, err := Load(path, zap.NewNop())
	require.NoError(t, err)

	assert.EqualValues(t, 4, cfg.WorkerThreads)
	assert.Equal(t, "error", cfg.IOPanicLogLevel)
	assert.Equal(t, 3000, cfg.ConnectTimeoutMs)
	assert.Equal(t, "s3cr3t", cfg.AuthorKey)
	assert.Equal(t, SinkBoth, cfg.LogErr)
	assert.EqualValues(t, 1, cfg.MasterID)
	require.Len(t, cfg.Groups, 2)

	entry, group, ok := cfg.FindServer(2)
	require.True(t, ok)
	assert.Equal(t, "chat", group.Name)
	assert.EqualValues(t, 8001, entry.FrontTCPPort)
}

func TestLoadDefaultsConnectTimeoutAndPanicLevel(t *testing.T) {
	const xmlNoDefaults = `<config>
  <author key="k"/>
  <log debug="terminal" info="terminal" net="terminal" warn="terminal" err="terminal"/>
  <servers>
    <group name="master" front="false">
      <server id="1" host="127.0.0.1" back_tcp_port="9000"/>
    </group>
  </servers>
</config>`
	path := writeTemp(t, xmlNoDefaults)
	cfg, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.ConnectTimeoutMs)
	assert.Equal(t, "error", cfg.IOPanicLogLevel)
}

func TestLoadRejectsDuplicateServerIDs(t *testing.T) {
	const dupIDs = `<config>
  <author key="k"/>
  <log debug="terminal" info="terminal" net="terminal" warn="terminal" err="terminal"/>
  <servers>
    <group name="master" front="false">
      <server id="1" host="127.0.0.1" back_tcp_port="9000"/>
    </group>
    <group name="chat" front="true">
      <server id="1" host="127.0.0.1" back_tcp_port="9001" front_tcp_port="8001"/>
    </group>
  </servers>
</config>`
	path := writeTemp(t, dupIDs)
	_, err := Load(path, zap.NewNop())
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateEndpoints(t *testing.T) {
	const dupEndpoint = `<config>
  <author key="k"/>
  <log debug="terminal" info="terminal" net="terminal" warn="terminal" err="terminal"/>
  <servers>
    <group name="master" front="false">
      <server id="1" host="127.0.0.1" back_tcp_port="9000"/>
    </group>
    <group name="chat" front="true">
      <server id="2" host="127.0.0.1" back_tcp_port="9000" front_tcp_port="8001"/>
    </group>
  </servers>
</config>`
	path := writeTemp(t, dupEndpoint)
	_, err := Load(path, zap.NewNop())
	assert.Error(t, err)
}

func TestLoadRejectsFrontGroupMissingFrontPort(t *testing.T) {
	const missingFront = `<config>
  <author key="k"/>
  <log debug="terminal" info="terminal" net="terminal" warn="terminal" err="terminal"/>
  <servers>
    <group name="master" front="false">
      <server id="1" host="127.0.0.1" back_tcp_port="9000"/>
    </group>
    <group name="chat" front="true">
      <server id="2" host="127.0.0.1" back_tcp_port="9001"/>
    </group>
  </servers>
</config>`
	path := writeTemp(t, missingFront)
	_, err := Load(path, zap.NewNop())
	assert.Error(t, err)
}

func TestLoadRejectsMissingMaster(t *testing.T) {
	const noMaster = `<config>
  <author key="k"/>
  <log debug="terminal" info="terminal" net="terminal" warn="terminal" err="terminal"/>
  <servers>
    <group name="chat" front="true">
      <server id="2" host="127.0.0.1" back_tcp_port="9001" front_tcp_port="8001"/>
    </group>
  </servers>
</config>`
	path := writeTemp(t, noMaster)
	_, err := Load(path, zap.NewNop())
	assert.Error(t, err)
}

func TestLoadWarnsOnMultipleMasters(t *testing.T) {
	const twoMasters = `<config>
  <author key="k"/>
  <log debug="terminal" info="terminal" net="terminal" warn="terminal" err="terminal"/>
  <servers>
    <group name="master" front="false">
      <server id="1" host="127.0.0.1" back_tcp_port="9000"/>
    </group>
    <group name="master" front="false">
      <server id="2" host="127.0.0.1" back_tcp_port="9001"/>
    </group>
  </servers>
</config>`
	path := writeTemp(t, twoMasters)

	core, logs := observer.New(zap.WarnLevel)
	log := zap.New(core)

	cfg, err := Load(path, log)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cfg.MasterID, "first master group wins")
	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "multiple master groups")
}

func TestLoadAppliesEnvOverrideForAuthorKey(t *testing.T) {
	path := writeTemp(t, sampleXML)
	t.Setenv("MESHNODE_AUTHOR_KEY", "rotated-key")

	cfg, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "rotated-key", cfg.AuthorKey)
}

func TestLoadAppliesOverrideFileBeforeEnv(t *testing.T) {
	path := writeTemp(t, sampleXML)
	overridePath := path + overrideSuffix
	require.NoError(t, os.WriteFile(overridePath, []byte("author:\n  key: file-rotated-key\nrun_time:\n  worker_threads: 8\n"), 0o600))

	cfg, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "file-rotated-key", cfg.AuthorKey)
	assert.EqualValues(t, 8, cfg.WorkerThreads)
}

func TestLoadEnvOverrideWinsOverFile(t *testing.T) {
	path := writeTemp(t, sampleXML)
	overridePath := path + overrideSuffix
	require.NoError(t, os.WriteFile(overridePath, []byte("author:\n  key: file-rotated-key\n"), 0o600))
	t.Setenv("MESHNODE_AUTHOR_KEY", "env-rotated-key")

	cfg, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "env-rotated-key", cfg.AuthorKey)
}

func TestLoadIgnoresMissingOverrideFile(t *testing.T) {
	path := writeTemp(t, sampleXML)
	cfg, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", cfg.AuthorKey)
}

func TestEffectiveHostFallsBackToHost(t *testing.T) {
	s := ServerEntry{Host: "10.0.0.1"}
	assert.Equal(t, "10.0.0.1", s.EffectiveBackHost())
	assert.Equal(t, "10.0.0.1", s.EffectiveFrontHost())

	s.BackHost = "10.0.0.2"
	s.FrontHost = "10.0.0.3"
	assert.Equal(t, "10.0.0.2", s.EffectiveBackHost())
	assert.Equal(t, "10.0.0.3", s.EffectiveFrontHost())
}
