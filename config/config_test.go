package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestGetDefaultConfig(t *testing.T) {
	viper.Reset()
	cfg := GetDefaultConfig()

	assert.Equal(t, "client", cfg.Node.Role)
	assert.Equal(t, 60.0, cfg.Sync.TimeoutSeconds)
	assert.Equal(t, 60*time.Second, cfg.SyncTimeout())
	assert.True(t, cfg.Sync.PrintSyncMessages)
	assert.Equal(t, 1, cfg.Tracking.SampleIntervalMS)
	assert.Equal(t, time.Millisecond, cfg.SampleInterval())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Diagnostics.Enabled)
	assert.Equal(t, "localhost:20480", cfg.Diagnostics.Address)
	assert.False(t, cfg.Control.Enabled)
	assert.False(t, cfg.IsMaster())
}

func TestLoadConfigMaster(t *testing.T) {
	path := writeConfig(t, `
node:
  id: dome-master
  role: master
  address: "0.0.0.0:20400"
sync:
  timeout_seconds: 2.5
  print_sync_messages: false
tracking:
  head_tracker: vrpn
  head_device: head
  trackers:
    - name: vrpn
      scale: 0.01
      offset: [0, 1.5, 0]
      devices:
        - name: head
          sensor: 0
        - name: wand
          sensor: 1
          buttons: 6
          axes: 2
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsMaster())
	assert.Equal(t, "dome-master", cfg.Node.ID)
	assert.Equal(t, 2500*time.Millisecond, cfg.SyncTimeout())
	assert.False(t, cfg.Sync.PrintSyncMessages)

	require.Len(t, cfg.Tracking.Trackers, 1)
	tr := cfg.Tracking.Trackers[0]
	assert.Equal(t, "vrpn", tr.Name)
	assert.Equal(t, 0.01, tr.Scale)
	assert.Equal(t, []float64{0, 1.5, 0}, tr.Offset)
	require.Len(t, tr.Devices, 2)
	assert.Equal(t, 6, tr.Devices[1].Buttons)
}

func TestLoadConfigClientNeedsMasterAddress(t *testing.T) {
	path := writeConfig(t, `
node:
  id: dome-1
  role: client
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "master_address")
}

func TestLoadConfigRejectsBadRole(t *testing.T) {
	path := writeConfig(t, `
node:
  id: dome-1
  role: observer
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "role")
}

func TestLoadConfigRequiresNodeID(t *testing.T) {
	path := writeConfig(t, `
node:
  role: master
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node.id")
}

func TestLoadConfigRejectsNegativeTimeout(t *testing.T) {
	path := writeConfig(t, `
node:
  id: dome-master
  role: master
sync:
  timeout_seconds: -1
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout_seconds")
}

func TestLoadConfigHeadBindingMustBeComplete(t *testing.T) {
	path := writeConfig(t, `
node:
  id: dome-master
  role: master
tracking:
  head_tracker: vrpn
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "head_tracker")
}

func TestLoadConfigUnnamedDevice(t *testing.T) {
	path := writeConfig(t, `
node:
  id: dome-master
  role: master
tracking:
  trackers:
    - name: vrpn
      devices:
        - sensor: 0
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a name")
}
