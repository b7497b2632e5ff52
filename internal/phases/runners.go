package phases

import (
	"context"

	"github.com/BetterCallFirewall/Hackerecon/internal/model"
	"github.com/BetterCallFirewall/Hackerecon/internal/sqlitool"
	"github.com/BetterCallFirewall/Hackerecon/internal/xsstool"
)

// SQLiRunner es el subconjunto de sqlitool.Executor que los corredores
// de fase necesitan; aceptar la interfaz en vez del tipo concreto
// permite sustituir un doble de prueba sin tocar el spawner real.
type SQLiRunner interface {
	RunCrawl(ctx context.Context) (*sqlitool.CrawlResult, error)
	TestEndpoint(ctx context.Context, endpoint *model.Endpoint, params []string, phase sqlitool.Phase, onFinding sqlitool.OnFinding) error
	TestParameter(ctx context.Context, param model.Parameter, phase sqlitool.Phase, onFinding sqlitool.OnFinding) error
}

// XSSRunner es el subconjunto de xsstool.Executor que los corredores
// de fase necesitan.
type XSSRunner interface {
	ScanURL(ctx context.Context, endpoint model.Endpoint, onFinding xsstool.OnFinding) error
}

// Gate es el subconjunto de gate.Gate que los corredores de fase
// necesitan, para poder sustituir una gate falsa en pruebas sin un
// PromptSource real.
type Gate interface {
	WaitIfPaused(ctx context.Context)
	Ask(ctx context.Context, phaseTag string) *model.QuestionResult
}
