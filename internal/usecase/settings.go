package usecase

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"ArticlesPodcast/internal/ports"
	"ArticlesPodcast/internal/speech"
)

// Setting keys understood by the application.
const (
	KeyTTSEngine  = "ttsEngine"
	KeyVoiceID    = "voiceId"
	KeyAutoDelete = "autoDelete"
)

// SettingsDefaults apply when a key has never been set.
type SettingsDefaults struct {
	TTSEngine  string
	VoiceID    string
	AutoDelete bool
}

// Settings reads and validates user-facing settings.
type Settings struct {
	store    ports.SettingsStore
	defaults map[string]string
}

func NewSettings(store ports.SettingsStore, defaults SettingsDefaults) *Settings {
	if defaults.TTSEngine == "" {
		defaults.TTSEngine = string(speech.KindSystem)
	}
	return &Settings{
		store: store,
		defaults: map[string]string{
			KeyTTSEngine:  defaults.TTSEngine,
			KeyVoiceID:    defaults.VoiceID,
			KeyAutoDelete: strconv.FormatBool(defaults.AutoDelete),
		},
	}
}

// Keys lists the known setting keys in order.
func (s *Settings) Keys() []string {
	keys := make([]string, 0, len(s.defaults))
	for k := range s.defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the stored value of key, or its default.
func (s *Settings) Get(ctx context.Context, key string) (string, error) {
	def, ok := s.defaults[key]
	if !ok {
		return "", fmt.Errorf("unknown setting %q", key)
	}
	if s.store == nil {
		return def, nil
	}
	v, found, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return "", err
	}
	if !found {
		return def, nil
	}
	return v, nil
}

// Set validates and stores a value.
func (s *Settings) Set(ctx context.Context, key, value string) error {
	if _, ok := s.defaults[key]; !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	switch key {
	case KeyTTSEngine:
		if k := speech.Kind(value); k != speech.KindSystem && k != speech.KindKokoro {
			return fmt.Errorf("%s must be %q or %q", key, speech.KindSystem, speech.KindKokoro)
		}
	case KeyAutoDelete:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s must be true or false", key)
		}
		value = strconv.FormatBool(b)
	}
	if s.store == nil {
		return fmt.Errorf("settings store is not configured")
	}
	return s.store.SetSetting(ctx, key, value)
}

// All returns every setting with defaults filled in.
func (s *Settings) All(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(s.defaults))
	for _, k := range s.Keys() {
		v, err := s.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// Speech returns the engine setting and voice for an audio phase.
func (s *Settings) Speech(ctx context.Context) (string, string, error) {
	engine, err := s.Get(ctx, KeyTTSEngine)
	if err != nil {
		return "", "", err
	}
	voice, err := s.Get(ctx, KeyVoiceID)
	if err != nil {
		return "", "", err
	}
	return engine, voice, nil
}

// AutoDelete reports whether listened items are removed.
func (s *Settings) AutoDelete(ctx context.Context) (bool, error) {
	v, err := s.Get(ctx, KeyAutoDelete)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, nil
	}
	return b, nil
}
