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

// Package config loads the gateway's startup configuration. spec.md §6
// describes a schema-validated XML file; the XML parser itself is out of
// scope (spec.md §1 Non-goals), so this package reads the same section
// names from YAML instead, in the shape nabbar-golib's viper package
// documents for a "structured config object with a GetXxx() accessor
// surface" (viper/*_test.go) without pulling in Viper's live-reload,
// multi-source machinery for what is a single file read once at startup.
package config

import (
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Resource mirrors spec.md §6's System/Resource section: the reactor
// thread count of spec.md §5 ("N reactor workers", default >= 2).
type Resource struct {
	ReactorThreads int `yaml:"reactor_threads" validate:"omitempty,min=2"`
}

// LogServerConnection mirrors System/LogServerConnection(host, port,
// log_service, log_tag).
type LogServerConnection struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	LogService string `yaml:"log_service"`
	LogTag     string `yaml:"log_tag"`
}

// System mirrors spec.md §6's System section.
type System struct {
	Resource            Resource            `yaml:"resource"`
	WorkingDir           string              `yaml:"working_dir" validate:"required"`
	LogServerConnection  LogServerConnection `yaml:"log_server_connection"`
}

// BrokerAgent mirrors Deployment/BrokerAgent(port, threadnum,
// enabletest): port is the driver protocol's listening port; the HTTP
// and RPC front ends bind port+1 and port+2 per spec.md §6.
type BrokerAgent struct {
	Port       int  `yaml:"port" validate:"required,min=1,max=65532"`
	ThreadNum  int  `yaml:"threadnum" validate:"omitempty,min=1"`
	EnableTest bool `yaml:"enabletest"`
}

// DistributedCommon mirrors Deployment/DistributedCommon: the static
// fallback cluster tag used before the discovery watcher's cluster
// watcher (spec.md §4.10 point 4) reports one.
type DistributedCommon struct {
	ClusterName string `yaml:"cluster_name"`
}

// ZooKeeper mirrors Deployment/DistributedUtil/ZooKeeper. FIBP's
// discovery watcher talks to a Consul-compatible registry directly
// (spec.md §4.10), so this section is carried through for schema parity
// and operator tooling but not consulted by internal/discovery.
type ZooKeeper struct {
	Servers string `yaml:"servers"`
}

// ServiceDiscovery mirrors Deployment/DistributedUtil/ServiceDiscovery
// (servers): the registry address list internal/discovery.NewWatcher
// balances across.
type ServiceDiscovery struct {
	Servers []string `yaml:"servers" validate:"required,min=1"`
}

// DFS mirrors Deployment/DistributedUtil/DFS, carried for schema parity;
// the gateway has no persistence layer of its own (spec.md §1 Non-goals:
// "no persistence of request/response bodies").
type DFS struct {
	MountPoint string `yaml:"mount_point"`
}

// DistributedUtil mirrors Deployment/DistributedUtil.
type DistributedUtil struct {
	ZooKeeper        ZooKeeper        `yaml:"zookeeper"`
	ServiceDiscovery ServiceDiscovery `yaml:"service_discovery" validate:"required"`
	DFS              DFS              `yaml:"dfs"`
}

// Deployment mirrors spec.md §6's Deployment section.
type Deployment struct {
	BrokerAgent       BrokerAgent       `yaml:"broker_agent" validate:"required"`
	DistributedCommon DistributedCommon `yaml:"distributed_common"`
	DistributedUtil   DistributedUtil   `yaml:"distributed_util" validate:"required"`
}

// Config is the gateway's full startup configuration, loaded once at
// process start per DESIGN NOTES §9's "document init -> run -> stop
// lifecycle and forbid re-init" guidance for process-wide state.
type Config struct {
	System     System     `yaml:"system" validate:"required"`
	Deployment Deployment `yaml:"deployment" validate:"required"`
}

// Load reads and validates the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, ErrReadFailed.Error(err)
	}

	cfg := &Config{}
	if err = yaml.Unmarshal(b, cfg); err != nil {
		return nil, ErrDecodeFailed.Error(err)
	}

	if err = validator.New().Struct(cfg); err != nil {
		return nil, ErrValidationFailed.Error(err)
	}
	return cfg, nil
}

// DriverPort is the driver (length-framed) front end's listening port,
// per spec.md §6: "the three listening ports are port, port+1, port+2".
func (c *Config) DriverPort() int { return c.Deployment.BrokerAgent.Port }

// HTTPPort is the HTTP front end's listening port (DriverPort + 1).
func (c *Config) HTTPPort() int { return c.Deployment.BrokerAgent.Port + 1 }

// RPCPort is the msgpack-RPC front end's listening port (DriverPort + 2).
func (c *Config) RPCPort() int { return c.Deployment.BrokerAgent.Port + 2 }

// ReactorThreads returns the configured reactor/worker-pool count,
// defaulting to 2 per spec.md §4.1's "M reactor threads (config, default
// >= 2)".
func (c *Config) ReactorThreads() int {
	if c.System.Resource.ReactorThreads < 2 {
		return 2
	}
	return c.System.Resource.ReactorThreads
}

// ClusterName returns the static fallback cluster tag, defaulting to
// "dev" per spec.md §4.10.
func (c *Config) ClusterName() string {
	if c.Deployment.DistributedCommon.ClusterName == "" {
		return "dev"
	}
	return c.Deployment.DistributedCommon.ClusterName
}
