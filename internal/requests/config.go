package requests

import (
	"fmt"
	"os"
	"runtime"

	"github.com/pako-23/todo-harness/internal/agent"
	"github.com/shirou/gopsutil/host"
	"go.uber.org/zap"
)

func init() {
	Register("config", newConfig)
}

// Config reports the agent configuration and changes it.
type Config struct {
	agent *agent.Agent
	pid   int
	os    string
}

type ConfigInfo struct {
	agent.Status
	PID       int    `json:"pid"`
	OS        string `json:"os"`
	GoVersion string `json:"goVersion"`
}

func newConfig(deps Deps) (Request, error) {
	if deps.Agent == nil {
		return nil, errMissing("agent")
	}

	c := &Config{agent: deps.Agent, pid: os.Getpid(), os: runtime.GOOS}
	if info, err := host.Info(); err == nil {
		c.os = fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
	} else {
		deps.Logger.Debug("host info unavailable", zap.Error(err))
	}

	return c, nil
}

func (*Config) Describe() string {
	return "get configuration and set sample-rate and sample-mode"
}

func (c *Config) Get() ConfigInfo {
	return ConfigInfo{
		Status:    c.agent.Status(),
		PID:       c.pid,
		OS:        c.os,
		GoVersion: runtime.Version(),
	}
}

// Set parses and applies one setting. Errors wrap agent.ErrUnknownSetting
// or agent.ErrInvalidValue.
func (c *Config) Set(setting, value string) (agent.Result, error) {
	s, err := agent.ParseSetting(setting, value)
	if err != nil {
		return nil, err
	}

	return c.agent.Apply(s)
}

func errMissing(what string) error {
	return fmt.Errorf("missing dependency: %s", what)
}
