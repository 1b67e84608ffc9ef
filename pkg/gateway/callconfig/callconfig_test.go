package callconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/vango-go/voicebridge/pkg/core"
)

type memCache struct {
	m    map[string]core.AgentConfig
	sets int
}

func (c *memCache) Get(_ context.Context, key string) (core.AgentConfig, bool, error) {
	cfg, ok := c.m[key]
	return cfg, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, cfg core.AgentConfig) error {
	if c.m == nil {
		c.m = make(map[string]core.AgentConfig)
	}
	c.m[key] = cfg
	c.sets++
	return nil
}

type staticSource struct {
	name  string
	cfg   core.AgentConfig
	ok    bool
	err   error
	calls int
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Lookup(context.Context, Request) (core.AgentConfig, bool, error) {
	s.calls++
	return s.cfg, s.ok, s.err
}

type fakeHistory struct {
	thread string
	limit  int
	turns  []core.Turn
}

func (h *fakeHistory) ListTurns(_ context.Context, threadID string, limit int) ([]core.Turn, error) {
	h.thread, h.limit = threadID, limit
	return h.turns, nil
}

func TestResolver_SourcesInOrder(t *testing.T) {
	broken := &staticSource{name: "broken", err: errors.New("db down")}
	invalid := &staticSource{name: "invalid", ok: true, cfg: core.AgentConfig{AgentID: "x"}}
	empty := &staticSource{name: "empty"}
	good := &staticSource{name: "good", ok: true, cfg: core.AgentConfig{AgentID: "support", Model: "openai/gpt-4o-mini"}}
	unused := &staticSource{name: "unused", ok: true, cfg: core.AgentConfig{AgentID: "other", Model: "gpt-4o"}}
	cache := &memCache{}
	hist := &fakeHistory{turns: []core.Turn{{ID: "t1", Role: core.RoleUser, Text: "hi"}}}

	r := &Resolver{Cache: cache, Sources: []Source{broken, invalid, empty, good, unused}, History: hist, HistoryLimit: 20}
	res, err := r.Resolve(context.Background(), Request{CallID: "CA1", To: "+15550001111"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Source != "good" || res.Config.AgentID != "support" {
		t.Fatalf("res=%+v", res)
	}
	if unused.calls != 0 {
		t.Fatalf("later source consulted after a hit")
	}
	if cache.sets != 1 {
		t.Fatalf("cache sets=%d", cache.sets)
	}
	if hist.thread != "call:CA1" || hist.limit != 20 || len(res.History) != 1 {
		t.Fatalf("history thread=%q limit=%d turns=%d", hist.thread, hist.limit, len(res.History))
	}

	good.calls = 0
	res, err = r.Resolve(context.Background(), Request{CallID: "CA2", To: "+15550001111"})
	if err != nil || res.Source != "cache" || good.calls != 0 {
		t.Fatalf("second resolve source=%v err=%v calls=%d", res, err, good.calls)
	}
}

func TestResolver_NothingResolves(t *testing.T) {
	r := &Resolver{Sources: []Source{&staticSource{name: "empty"}}}
	_, err := r.Resolve(context.Background(), Request{CallID: "CA404"})
	if !core.IsType(err, core.ErrConfigurationMissing) {
		t.Fatalf("err=%v, want configuration_missing", err)
	}
}

func TestCacheKey(t *testing.T) {
	cases := []struct {
		req  Request
		want string
	}{
		{Request{AgentID: "a1", To: "+1"}, "agent:a1"},
		{Request{To: "+1555"}, "number:+1555"},
		{Request{}, ""},
	}
	for _, tc := range cases {
		if got := CacheKey(tc.req); got != tc.want {
			t.Fatalf("CacheKey(%+v)=%q want %q", tc.req, got, tc.want)
		}
	}
}

func TestProfiles(t *testing.T) {
	p, err := ParseProfiles([]byte(`
default: support
agents:
  - agent_id: support
    model: openai/gpt-4o-mini
    system_prompt: You answer support calls.
    welcome_message: Hi, how can I help?
    voice:
      vendor: elevenlabs
      voice_id: rachel
  - agent_id: sales
    model: gemini-2.0-flash
    numbers: ["+1 (555) 000-2222"]
`))
	if err != nil {
		t.Fatalf("ParseProfiles: %v", err)
	}
	if p.Len() != 2 {
		t.Fatalf("Len=%d", p.Len())
	}

	cfg, ok, _ := p.Lookup(context.Background(), Request{To: "+15550002222"})
	if !ok || cfg.AgentID != "sales" {
		t.Fatalf("by number cfg=%+v ok=%v", cfg, ok)
	}
	cfg, ok, _ = p.Lookup(context.Background(), Request{To: "+19999999999"})
	if !ok || cfg.AgentID != "support" || cfg.Voice.VoiceID != "rachel" || cfg.WelcomeMessage == "" {
		t.Fatalf("default cfg=%+v ok=%v", cfg, ok)
	}
	cfg, ok, _ = p.Lookup(context.Background(), Request{AgentID: "sales", To: "+19999999999"})
	if !ok || cfg.AgentID != "sales" {
		t.Fatalf("by id cfg=%+v", cfg)
	}
}

func TestProfilesRejectsBadFiles(t *testing.T) {
	cases := map[string]string{
		"missing id":      "agents:\n  - model: gpt-4o\n",
		"missing model":   "agents:\n  - agent_id: a\n",
		"duplicate":       "agents:\n  - {agent_id: a, model: gpt-4o}\n  - {agent_id: a, model: gpt-4o}\n",
		"unknown default": "default: nope\nagents:\n  - {agent_id: a, model: gpt-4o}\n",
		"not yaml":        "agents: [",
	}
	for name, doc := range cases {
		if _, err := ParseProfiles([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

type fakeAgentStore struct {
	agentID, number string
}

func (s *fakeAgentStore) FindAgentConfig(_ context.Context, agentID, number string) (core.AgentConfig, bool, error) {
	s.agentID, s.number = agentID, number
	return core.AgentConfig{AgentID: "db", Model: "gpt-4o"}, true, nil
}

func TestStoreSourceNormalizesNumber(t *testing.T) {
	st := &fakeAgentStore{}
	cfg, ok, err := StoreSource{Store: st}.Lookup(context.Background(), Request{To: "+1 555-000-3333"})
	if err != nil || !ok || cfg.AgentID != "db" {
		t.Fatalf("cfg=%+v ok=%v err=%v", cfg, ok, err)
	}
	if st.number != "+15550003333" {
		t.Fatalf("number=%q", st.number)
	}
}
