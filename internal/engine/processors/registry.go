package processors

import (
	"net/http"

	"flowengine/internal/ai"
	"flowengine/internal/api/models"
	"flowengine/internal/engine"

	"github.com/rs/zerolog"
)

type Dependencies struct {
	// Nil disables CODE nodes.
	Sandbox     CodeExecutor
	AI          ai.Provider
	Transcriber ai.Transcriber
	AIConfig    ai.ConfigLoader
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// NewDefaultRegistry binds every built-in node type to its processor.
func NewDefaultRegistry(deps Dependencies) *engine.Registry {
	registry := engine.NewRegistry()
	registry.MustRegister(models.NodeTypeInput, NewInputProcessor())
	registry.MustRegister(models.NodeTypeOutput, NewOutputProcessor())
	registry.MustRegister(models.NodeTypeCondition, NewConditionProcessor())
	registry.MustRegister(models.NodeTypeLogic, NewLogicProcessor())
	registry.MustRegister(models.NodeTypeHTTP, NewHTTPProcessor(deps.HTTPClient, deps.Logger))
	registry.MustRegister(models.NodeTypeCode, NewCodeProcessor(deps.Sandbox))
	registry.MustRegister(models.NodeTypeProcess, NewProcessProcessor(deps.AI, deps.AIConfig))
	registry.MustRegister(models.NodeTypeAudio, NewAudioProcessor(deps.HTTPClient, deps.Transcriber, deps.AI, deps.AIConfig))
	return registry
}
