package render

import (
	"github.com/kiranshivaraju/depthflow/internal/config"
)

// New builds the renderer chain from config: the render service first when configured,
// then the CLI.
func New(cfg config.RenderConfig) *Fallback {
	var chain []Renderer
	if cfg.ServiceURL != "" {
		chain = append(chain, NewServiceRenderer(cfg.ServiceURL))
	}
	if cfg.CLIPath != "" {
		chain = append(chain, NewCLIRenderer(cfg.CLIPath))
	}
	return NewFallback(chain...)
}
