package plugin

import (
	"errors"
	"testing"

	"github.com/matryer/is"
)

type greeter interface{ Greet() string }

type mockGreeter struct{ name string }

func (m *mockGreeter) Greet() string { return "hello " + m.name }

func newMockGreeter(cfg map[string]any) (any, error) {
	name := "default"
	if n, ok := cfg["name"].(string); ok {
		name = n
	}
	return &mockGreeter{name: name}, nil
}

func TestRegistry_RegisterAndBuild(t *testing.T) {
	is := is.New(t)

	r := NewRegistry()
	r.Register("platform", "mock", newMockGreeter)

	g, err := BuildFrom[greeter](r, "platform", "mock", map[string]any{"name": "retell"})
	is.NoErr(err)
	is.Equal(g.Greet(), "hello retell")

	g, err = BuildFrom[greeter](r, "platform", "mock", nil)
	is.NoErr(err)
	is.Equal(g.Greet(), "hello default")
}

func TestRegistry_BuildErrors(t *testing.T) {
	is := is.New(t)

	r := NewRegistry()
	r.Register("llm", "broken", func(map[string]any) (any, error) { return nil, errors.New("no key") })
	r.Register("llm", "wrongtype", func(map[string]any) (any, error) { return 42, nil })

	_, err := BuildFrom[greeter](r, "llm", "missing", nil)
	is.True(err != nil) // not registered

	_, err = BuildFrom[greeter](r, "llm", "broken", nil)
	is.True(err != nil) // factory error surfaces

	_, err = BuildFrom[greeter](r, "llm", "wrongtype", nil)
	is.True(err != nil) // type assertion fails
}

func TestRegistry_Panics(t *testing.T) {
	tests := []struct {
		name string
		fn   func(r *Registry)
	}{
		{"duplicate", func(r *Registry) {
			r.Register("tts", "mock", newMockGreeter)
			r.Register("tts", "mock", newMockGreeter)
		}},
		{"empty kind", func(r *Registry) { r.Register("", "mock", newMockGreeter) }},
		{"empty name", func(r *Registry) { r.Register("tts", "", newMockGreeter) }},
		{"nil factory", func(r *Registry) { r.Register("tts", "mock", nil) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("expected panic")
				}
			}()
			tt.fn(NewRegistry())
		})
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	is := is.New(t)

	r := NewRegistry()
	r.Register("transport", "token-join", newMockGreeter)
	r.Register("platform", "vapi", newMockGreeter)
	r.Register("platform", "retell", newMockGreeter)

	all := r.List("")
	is.Equal(len(all), 3)
	is.Equal(all[0].Name, "retell")
	is.Equal(all[1].Name, "vapi")
	is.Equal(all[2].Kind, "transport")

	is.Equal(len(r.List("platform")), 2)
	is.Equal(r.ListKinds(), []string{"platform", "transport"})

	r.Clear()
	is.Equal(len(r.List("")), 0)
}
