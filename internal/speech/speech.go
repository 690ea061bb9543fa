// Package speech converts answers to MP3 audio with Google Cloud Text-to-Speech.
package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"google.golang.org/api/option"
	"google.golang.org/api/texttospeech/v1"

	"aiquery/internal/log"
)

// maxInputBytes stays under the API's 5000 byte limit per request.
const maxInputBytes = 4500

// SynthesisError wraps any failure to produce audio. The orchestrator
// degrades to a text-only answer when it sees one.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return "text-to-speech: " + e.Err.Error()
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// TextAPI is the synthesize call of the Text-to-Speech API.
type TextAPI interface {
	Synthesize(ctx context.Context, req *texttospeech.SynthesizeSpeechRequest) (*texttospeech.SynthesizeSpeechResponse, error)
}

type serviceAPI struct {
	svc *texttospeech.Service
}

func (s serviceAPI) Synthesize(ctx context.Context, req *texttospeech.SynthesizeSpeechRequest) (*texttospeech.SynthesizeSpeechResponse, error) {
	return s.svc.Text.Synthesize(req).Context(ctx).Do()
}

// Config selects credentials and voice.
type Config struct {
	APIKey          string
	CredentialsFile string
	Language        string
	Voice           string
	// Endpoint overrides the API base URL.
	Endpoint string
}

// Synthesizer implements engine.Synthesizer.
type Synthesizer struct {
	api      TextAPI
	language string
	voice    string
	logger   *log.Logger
}

// New creates a synthesizer. An API key takes precedence over a service
// account credentials file.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Synthesizer, error) {
	var opts []option.ClientOption
	switch {
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	case cfg.CredentialsFile != "":
		opts = append(opts,
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(texttospeech.CloudPlatformScope))
	default:
		return nil, errors.New("missing text-to-speech credentials (set TTS_API_KEY or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := texttospeech.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create text-to-speech service: %w", err)
	}
	return NewWithAPI(serviceAPI{svc: svc}, cfg.Language, cfg.Voice, logger), nil
}

// NewWithAPI creates a synthesizer over an existing API client.
func NewWithAPI(api TextAPI, language, voice string, logger *log.Logger) *Synthesizer {
	if logger == nil {
		logger = log.Discard()
	}
	if language == "" {
		language = "en-US"
	}
	return &Synthesizer{
		api:      api,
		language: language,
		voice:    voice,
		logger:   logger.WithComponent(log.ComponentSpeech),
	}
}

// Synthesize returns MP3 bytes for text. Long text is split at sentence
// boundaries and the MP3 segments are concatenated.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &SynthesisError{Err: errors.New("no text to synthesize")}
	}

	var audio []byte
	for i, chunk := range Chunks(text, maxInputBytes) {
		resp, err := s.api.Synthesize(ctx, &texttospeech.SynthesizeSpeechRequest{
			Input: &texttospeech.SynthesisInput{Text: chunk},
			Voice: &texttospeech.VoiceSelectionParams{
				LanguageCode: s.language,
				Name:         s.voice,
			},
			AudioConfig: &texttospeech.AudioConfig{AudioEncoding: "MP3"},
		})
		if err != nil {
			return nil, &SynthesisError{Err: err}
		}
		data, err := base64.StdEncoding.DecodeString(resp.AudioContent)
		if err != nil {
			return nil, &SynthesisError{Err: fmt.Errorf("decode audio content: %w", err)}
		}
		s.logger.DebugContext(ctx, "Synthesized speech segment", "segment", i, log.FieldAudioBytes, len(data))
		audio = append(audio, data...)
	}

	if len(audio) == 0 {
		return nil, &SynthesisError{Err: errors.New("empty audio returned")}
	}
	return audio, nil
}

// Chunks splits text into pieces of at most limit bytes, preferring sentence
// then word boundaries. Runes are never split.
func Chunks(text string, limit int) []string {
	var out []string
	for len(text) > limit {
		cut := strings.LastIndexAny(text[:limit], ".!?\n")
		if cut <= 0 {
			cut = strings.LastIndexByte(text[:limit], ' ')
		}
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				_, cut = utf8.DecodeRuneInString(text)
			}
		} else {
			cut++
		}
		out = append(out, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
