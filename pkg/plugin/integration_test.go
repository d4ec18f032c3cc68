package plugin_test

import (
	"testing"

	"github.com/chriscow/callbridge-go/pkg/plugin"
	_ "github.com/chriscow/callbridge-go/pkg/platform/fake"
	_ "github.com/chriscow/callbridge-go/pkg/platform/retell"
	_ "github.com/chriscow/callbridge-go/pkg/platform/vapi"
	_ "github.com/chriscow/callbridge-go/pkg/plugin/fake"
	_ "github.com/chriscow/callbridge-go/pkg/plugin/openai"
	_ "github.com/chriscow/callbridge-go/pkg/transport/fake"
	_ "github.com/chriscow/callbridge-go/pkg/transport/livekit"
	_ "github.com/chriscow/callbridge-go/pkg/transport/webrtcroom"
)

func TestPluginIntegration_AllRegistered(t *testing.T) {
	want := map[string][]string{
		"llm":       {"fake", "openai"},
		"tts":       {"fake", "openai"},
		"platform":  {"fake", "retell", "vapi"},
		"transport": {"fake", "room-url-join", "token-join"},
	}

	for kind, names := range want {
		for _, name := range names {
			if _, ok := plugin.Get(kind, name); !ok {
				t.Errorf("%s/%s is not registered", kind, name)
			}
		}
	}

	kinds := plugin.ListKinds()
	if len(kinds) != len(want) {
		t.Errorf("expected %d kinds, got %v", len(want), kinds)
	}
}

func TestPluginIntegration_PlatformNeedsKey(t *testing.T) {
	t.Setenv("RETELL_API_KEY", "")
	t.Setenv("VAPI_API_KEY", "")

	for _, name := range []string{"retell", "vapi"} {
		factory, _ := plugin.Get("platform", name)
		if _, err := factory(map[string]any{}); err == nil {
			t.Errorf("%s: expected missing key error", name)
		}
	}
}

func TestLoadDynamicPlugins_NothingConfigured(t *testing.T) {
	t.Setenv(plugin.PluginPathEnv, "")

	n, err := plugin.LoadDynamicPlugins("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("loaded %d plugins, want 0", n)
	}
}
