// Package llm sends a transcript (and an optional image) to a language
// model and returns cleaned reply text.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Model is the closed set of selectable models.
type Model int

const (
	// ModelLight is the small text-only model.
	ModelLight Model = iota
	// ModelStandard is the large text-only model.
	ModelStandard
	// ModelMultimodal accepts an attached image.
	ModelMultimodal
)

type modelInfo struct {
	name           string
	serviceID      string
	displayName    string
	supportsImages bool
}

var models = map[Model]modelInfo{
	ModelLight:      {name: "gemma3_light", serviceID: "gemma3:1b", displayName: "⚡ Gemma3:1B (軽量版)"},
	ModelStandard:   {name: "gemma2", serviceID: "gemma2", displayName: "🏆 Gemma2 (9B)"},
	ModelMultimodal: {name: "gemma3", serviceID: "gemma3", displayName: "🎨 Gemma3 (4B)", supportsImages: true},
}

// Models lists every model in display order.
func Models() []Model {
	return []Model{ModelStandard, ModelMultimodal, ModelLight}
}

// ParseModel accepts the short name or the service identifier.
func ParseModel(name string) (Model, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for m, info := range models {
		if name == info.name || name == info.serviceID {
			return m, nil
		}
	}
	if name == "light" {
		return ModelLight, nil
	}
	return 0, fmt.Errorf("unknown model %q", name)
}

// String returns the short name used in configuration.
func (m Model) String() string {
	if info, ok := models[m]; ok {
		return info.name
	}
	return fmt.Sprintf("Model(%d)", int(m))
}

// ServiceID is the identifier sent to the inference service.
func (m Model) ServiceID() string { return models[m].serviceID }

// DisplayName is the label shown to users.
func (m Model) DisplayName() string { return models[m].displayName }

// SupportsImages reports whether an attached image is forwarded.
func (m Model) SupportsImages() bool { return models[m].supportsImages }

// MarshalText implements encoding.TextMarshaler.
func (m Model) MarshalText() ([]byte, error) {
	if _, ok := models[m]; !ok {
		return nil, fmt.Errorf("unknown model %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Model) UnmarshalText(text []byte) error {
	parsed, err := ParseModel(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// DefaultPromptTemplate is appended when the user sets no template.
const DefaultPromptTemplate = "日本語で答えてください。"

// LightImageWarning is returned in place of a reply when an image is
// attached to the light model.
const LightImageWarning = "⚠️ Gemma3:1B（軽量版）は画像処理に対応していません。画像を使用する場合は、Gemma3（4B）を選択してください。"

// ErrImagesUnsupported is returned when an image is attached to the light
// model. Its message is the user-facing warning.
var ErrImagesUnsupported = errors.New(LightImageWarning)

// Request is one inference call.
type Request struct {
	Model          Model
	Prompt         string
	PromptTemplate string
	Image          []byte
}

// FullPrompt joins the transcript and the template.
func (r *Request) FullPrompt() string {
	return ComposePrompt(r.Prompt, r.PromptTemplate)
}

// ComposePrompt returns text + "。" + template, using DefaultPromptTemplate
// when template is empty.
func ComposePrompt(text, template string) string {
	if template == "" {
		template = DefaultPromptTemplate
	}
	return text + "。" + template
}

// Generator is an inference backend.
type Generator interface {
	Generate(ctx context.Context, req *Request) (string, error)
	// Ping reports whether the model answers a trivial request.
	Ping(ctx context.Context, m Model) error
}

// checkImage rejects images the model is known not to accept. It reports
// whether the image should be forwarded.
func checkImage(req *Request) (bool, error) {
	if len(req.Image) == 0 {
		return false, nil
	}
	if req.Model == ModelLight {
		return false, ErrImagesUnsupported
	}
	return req.Model.SupportsImages(), nil
}
