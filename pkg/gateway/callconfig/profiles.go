package callconfig

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vango-go/voicebridge/pkg/core"
)

// Profile is one agent in the profiles file, plus the numbers routed to it.
type Profile struct {
	core.AgentConfig `yaml:",inline"`
	Numbers          []string `yaml:"numbers,omitempty"`
}

type profilesFile struct {
	Default string    `yaml:"default"`
	Agents  []Profile `yaml:"agents"`
}

// Profiles is a static set of agent configurations loaded from YAML.
type Profiles struct {
	byID     map[string]core.AgentConfig
	byNumber map[string]string
	def      string
}

func LoadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	return ParseProfiles(data)
}

func ParseProfiles(data []byte) (*Profiles, error) {
	var f profilesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	p := &Profiles{
		byID:     make(map[string]core.AgentConfig, len(f.Agents)),
		byNumber: make(map[string]string),
		def:      strings.TrimSpace(f.Default),
	}
	for i, a := range f.Agents {
		id := strings.TrimSpace(a.AgentID)
		if id == "" {
			return nil, fmt.Errorf("parse profiles: agents[%d]: agent_id is required", i)
		}
		if _, dup := p.byID[id]; dup {
			return nil, fmt.Errorf("parse profiles: duplicate agent_id %q", id)
		}
		if err := a.AgentConfig.Validate(); err != nil {
			return nil, fmt.Errorf("parse profiles: agent %q: %w", id, err)
		}
		p.byID[id] = a.AgentConfig
		for _, n := range a.Numbers {
			p.byNumber[normalizeNumber(n)] = id
		}
	}
	if p.def != "" {
		if _, ok := p.byID[p.def]; !ok {
			return nil, fmt.Errorf("parse profiles: default agent %q is not defined", p.def)
		}
	}
	return p, nil
}

func (p *Profiles) Name() string { return "profiles" }

// Lookup matches by agent id, then dialed number, then the default agent.
func (p *Profiles) Lookup(_ context.Context, req Request) (core.AgentConfig, bool, error) {
	if p == nil {
		return core.AgentConfig{}, false, nil
	}
	if cfg, ok := p.byID[strings.TrimSpace(req.AgentID)]; ok {
		return cfg, true, nil
	}
	if id, ok := p.byNumber[normalizeNumber(req.To)]; ok {
		return p.byID[id], true, nil
	}
	if p.def != "" {
		return p.byID[p.def], true, nil
	}
	return core.AgentConfig{}, false, nil
}

// Len is the number of agents defined.
func (p *Profiles) Len() int {
	if p == nil {
		return 0
	}
	return len(p.byID)
}

func normalizeNumber(n string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(n) {
		if (r >= '0' && r <= '9') || (r == '+' && b.Len() == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
