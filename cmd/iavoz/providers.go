package main

import (
	"fmt"
	"log/slog"
	"maps"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/iavoz/internal/app"
	"github.com/MrWong99/iavoz/internal/config"
	"github.com/MrWong99/iavoz/pkg/provider/llm"
	"github.com/MrWong99/iavoz/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/iavoz/pkg/provider/llm/openai"
	"github.com/MrWong99/iavoz/pkg/provider/stt"
	oastt "github.com/MrWong99/iavoz/pkg/provider/stt/openai"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Grammar ───────────────────────────────────────────────────────────────

	// openai talks to the SDK directly so structured outputs use the strict
	// JSON schema mode.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oallm.WithTimeout(entry.Timeout))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range anyllm.Backends {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ── Transcription ─────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oastt.WithTimeout(entry.Timeout))
		}
		if lang := entry.Option("language", ""); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		if prompt := entry.Option("prompt", ""); prompt != "" {
			opts = append(opts, oastt.WithPrompt(prompt))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	slog.Debug("registered providers", "grammar", reg.LLMNames(), "transcribe", []string{"openai"})
}

// buildProviders instantiates the providers named in cfg.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	entries := append([]config.ProviderEntry{cfg.Providers.Grammar}, cfg.Providers.GrammarFallbacks...)
	for i, entry := range entries {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("create grammar provider %q: %w", entry.Name, err)
			}
			slog.Warn("skipping grammar fallback", "index", i-1, "name", entry.Name, "err", err)
			continue
		}
		ps.Grammar = append(ps.Grammar, p)
		slog.Info("provider created", "kind", "grammar", "name", entry.Name, "model", entry.Model, "fallback", i > 0)
	}

	// The transcriber listens for the language being learned unless told
	// otherwise.
	tr := cfg.Providers.Transcribe
	if tr.Option("language", "") == "" {
		tr.Options = maps.Clone(tr.Options)
		if tr.Options == nil {
			tr.Options = make(map[string]any)
		}
		tr.Options["language"] = cfg.Tutor.Language
	}
	tp, err := reg.CreateSTT(tr)
	if err != nil {
		return nil, fmt.Errorf("create transcription provider %q: %w", cfg.Providers.Transcribe.Name, err)
	}
	ps.Transcriber = tp
	slog.Info("provider created", "kind", "transcribe", "name", cfg.Providers.Transcribe.Name, "model", cfg.Providers.Transcribe.Model)

	return ps, nil
}
