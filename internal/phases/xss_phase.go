package phases

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/BetterCallFirewall/Hackerecon/internal/eventbus"
	"github.com/BetterCallFirewall/Hackerecon/internal/logx"
	"github.com/BetterCallFirewall/Hackerecon/internal/model"
	"github.com/BetterCallFirewall/Hackerecon/internal/xsstool"
)

// RunXSSContext es sólo de registro (emite progreso) más la gate de
// `xss-context` (§4.7 XSS "context").
func RunXSSContext(ctx context.Context, g Gate, logger *logx.Logger) {
	g.WaitIfPaused(ctx)
	g.Ask(ctx, "xss-context")
	g.WaitIfPaused(ctx)
	logger.Infof("analyzing injection context for reflected parameters")
}

// RunXSSPayload es sólo de registro, sin gate de pregunta (§4.7: "emit
// progress messages; no subprocess beyond the ask-and-wait gate for
// xss-context" implica que payload no trae su propia pregunta).
func RunXSSPayload(logger *logx.Logger) {
	logger.Infof("selecting payload candidates for discovered contexts")
}

// RunXSSFuzzing invoca XSS-Tool.scanUrl por cada endpoint único entre
// los parámetros testeables, acotado por cfg.XSSWorkerCount vía
// semáforo. Los hallazgos se dedupen otra vez a nivel de orquestador
// por (type, endpoint, parameter) a través de State.AddVulnerability
// (§4.7 XSS "fuzzing"). g.WaitIfPaused se consulta antes de cada spawn
// (§3: "while isPaused is true, no new process spawn may occur"), no
// sólo una vez al entrar a la sub-fase, igual que en RunSQLiDetection:
// ambas lanzan un proceso por cada elemento de una lista.
func RunXSSFuzzing(ctx context.Context, st *State, g Gate, xss XSSRunner, bus *eventbus.Bus, scanID string, logger *logx.Logger, cfg *model.ScanConfig) error {
	seenEndpoint := make(map[string]bool)
	var targets []model.Endpoint
	for _, p := range st.Parameters() {
		if !p.Testable {
			continue
		}
		key := p.Endpoint.Key()
		if seenEndpoint[key] {
			continue
		}
		seenEndpoint[key] = true
		targets = append(targets, p.Endpoint)
	}

	sem := semaphore.NewWeighted(int64(maxInt(1, cfg.XSSWorkerCount)))
	errCh := make(chan error, len(targets))

	for _, ep := range targets {
		g.WaitIfPaused(ctx)
		if err := sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("phases: xss fuzzing: %w", err)
		}
		go func(ep model.Endpoint) {
			defer sem.Release(1)
			errCh <- xss.ScanURL(ctx, ep, onXSSFinding(st, bus, scanID, logger))
		}(ep)
	}

	for range targets {
		if err := <-errCh; err != nil {
			return fmt.Errorf("phases: xss fuzzing: %w", err)
		}
	}
	return nil
}

func onXSSFinding(st *State, bus *eventbus.Bus, scanID string, logger *logx.Logger) xsstool.OnFinding {
	return func(v model.Vulnerability) {
		if !st.AddVulnerability(v) {
			return
		}
		logger.Warnf("XSS found: %s on %s", v.Parameter, v.Endpoint.URL)
		bus.Publish(eventbus.Event{Topic: eventbus.TopicVulnFound, ScanID: scanID, Payload: v})
	}
}
