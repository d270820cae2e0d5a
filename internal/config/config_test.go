/*
MIT License

Copyright (c) 2020 Nicolas JUHEL

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nabbar/fibp/internal/config"
)

const validYAML = `
system:
  resource:
    reactor_threads: 4
  working_dir: /var/lib/fibp
  log_server_connection:
    host: 127.0.0.1
    port: 9000
    log_service: fibp-log
    log_tag: gateway
deployment:
  broker_agent:
    port: 8900
    threadnum: 8
    enabletest: false
  distributed_common:
    cluster_name: prod
  distributed_util:
    zookeeper:
      servers: zk1:2181,zk2:2181
    service_discovery:
      servers:
        - registry1:8500
        - registry2:8500
    dfs:
      mount_point: /mnt/fibp
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fibp-gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, validYAML)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8900, cfg.DriverPort())
	assert.Equal(t, 8901, cfg.HTTPPort())
	assert.Equal(t, 8902, cfg.RPCPort())
	assert.Equal(t, 4, cfg.ReactorThreads())
	assert.Equal(t, "prod", cfg.ClusterName())
}

func TestLoadDefaults(t *testing.T) {
	body := `
system:
  working_dir: /var/lib/fibp
deployment:
  broker_agent:
    port: 100
  distributed_util:
    service_discovery:
      servers:
        - registry1:8500
`
	path := writeConfig(t, body)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.ReactorThreads(), "reactor threads below 2 default to 2")
	assert.Equal(t, "dev", cfg.ClusterName(), "empty cluster name defaults to dev")
}

func TestLoadMissingRequiredField(t *testing.T) {
	body := `
deployment:
  broker_agent:
    port: 100
  distributed_util:
    service_discovery:
      servers: [registry1:8500]
`
	path := writeConfig(t, body)

	_, err := config.Load(path)
	require.Error(t, err, "missing system.working_dir should fail validation")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "system: [this is not a valid mapping")

	_, err := config.Load(path)
	require.Error(t, err)
}
