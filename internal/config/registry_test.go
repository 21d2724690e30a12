package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/mouthpiece/internal/config"
	"github.com/MrWong99/mouthpiece/pkg/provider/llm"
	llmmock "github.com/MrWong99/mouthpiece/pkg/provider/llm/mock"
	"github.com/MrWong99/mouthpiece/pkg/provider/tts"
	ttsmock "github.com/MrWong99/mouthpiece/pkg/provider/tts/mock"
)

func TestRegistry_CreateUsesFactory(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	var got config.ProviderEntry
	want := &llmmock.Provider{}
	reg.RegisterLLM("groq", func(e config.ProviderEntry) (llm.Provider, error) {
		got = e
		return want, nil
	})

	p, err := reg.CreateLLM(config.ProviderEntry{Name: "groq", Model: "llama-3.3-70b-versatile"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != want {
		t.Error("factory result not returned")
	}
	if got.Model != "llama-3.3-70b-versatile" {
		t.Errorf("factory got entry %+v", got)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "coqui"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "vosk"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_FactoryErrorPassesThrough(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	boom := errors.New("missing api key")
	reg.RegisterTTS("elevenlabs", func(config.ProviderEntry) (tts.Provider, error) { return nil, boom })
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "elevenlabs"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	factory := func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil }
	reg.RegisterTTS("edge", factory)
	reg.RegisterTTS("elevenlabs", factory)
	reg.RegisterTTS("edge", factory)

	if got := reg.Names("tts"); !slices.Equal(got, []string{"edge", "elevenlabs"}) {
		t.Errorf("Names(tts) = %v", got)
	}
	if got := reg.Names("llm"); len(got) != 0 {
		t.Errorf("Names(llm) = %v", got)
	}
}
