package phases

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"golang.org/x/sync/semaphore"

	"github.com/BetterCallFirewall/Hackerecon/internal/eventbus"
	"github.com/BetterCallFirewall/Hackerecon/internal/logx"
	"github.com/BetterCallFirewall/Hackerecon/internal/model"
	"github.com/BetterCallFirewall/Hackerecon/internal/sqlitool"
)

var techniquePattern = regexp.MustCompile(`(?i)boolean|union|time|error`)

// RunSQLiDetection agrupa los parámetros por endpoint y prueba cada
// endpoint concurrentemente, acotado por cfg.ThreadCount, vía
// golang.org/x/sync/semaphore (§4.7 SQLi "detection").
func RunSQLiDetection(ctx context.Context, st *State, g Gate, sqli SQLiRunner, bus *eventbus.Bus, scanID string, logger *logx.Logger, cfg *model.ScanConfig) error {
	g.WaitIfPaused(ctx)
	g.Ask(ctx, "sqli-detection")
	g.WaitIfPaused(ctx)

	grouped := st.EndpointsByParameterNames()
	endpointByKey := make(map[string]*model.Endpoint)
	for _, ep := range st.Endpoints() {
		endpointByKey[ep.Key()] = ep
	}

	sem := semaphore.NewWeighted(int64(maxInt(1, cfg.ThreadCount)))
	errCh := make(chan error, len(grouped))
	pending := 0

	for key, params := range grouped {
		ep, ok := endpointByKey[key]
		if !ok {
			continue
		}
		g.WaitIfPaused(ctx)
		if err := sem.Acquire(ctx, 1); err != nil {
			errCh <- err
			break
		}
		pending++
		go func(ep *model.Endpoint, params []string) {
			defer sem.Release(1)
			err := sqli.TestEndpoint(ctx, ep, params, sqlitool.PhaseDetection, onSQLiFinding(st, bus, scanID, logger))
			errCh <- err
		}(ep, params)
	}

	for i := 0; i < pending; i++ {
		if err := <-errCh; err != nil {
			return fmt.Errorf("phases: sqli detection: %w", err)
		}
	}
	return nil
}

// RunSQLiFingerprint invoca testParameter en modo fingerprint sobre el
// primer parámetro SQLi ya confirmado vulnerable, si existe (§4.7).
func RunSQLiFingerprint(ctx context.Context, st *State, g Gate, sqli SQLiRunner, bus *eventbus.Bus, scanID string, logger *logx.Logger) error {
	g.WaitIfPaused(ctx)
	g.Ask(ctx, "sqli-fingerprint")
	g.WaitIfPaused(ctx)

	param, ok := st.FirstVulnerableParameter(model.VulnSQLi)
	if !ok {
		logger.Infof("no SQLi vulnerability confirmed yet, skipping fingerprint")
		return nil
	}

	if err := sqli.TestParameter(ctx, param, sqlitool.PhaseFingerprint, onSQLiFinding(st, bus, scanID, logger)); err != nil {
		return fmt.Errorf("phases: sqli fingerprint: %w", err)
	}
	return nil
}

// RunSQLiTechnique no lanza ningún subproceso: deriva la lista de
// técnicas a partir de las descripciones de hallazgos SQLi ya
// registrados, la deduplica y registra, marcando la primera como
// "óptima" (§4.7).
func RunSQLiTechnique(ctx context.Context, st *State, g Gate, bus *eventbus.Bus, scanID string, logger *logx.Logger) ([]string, error) {
	g.WaitIfPaused(ctx)
	g.Ask(ctx, "sqli-technique")
	g.WaitIfPaused(ctx)

	seen := make(map[string]bool)
	var techniques []string
	for _, v := range st.Vulnerabilities() {
		if v.Type != model.VulnSQLi {
			continue
		}
		matches := techniquePattern.FindAllString(v.Description, -1)
		for _, m := range matches {
			key := normalizeTechnique(m)
			if !seen[key] {
				seen[key] = true
				techniques = append(techniques, key)
			}
		}
	}
	sort.Strings(techniques)

	if len(techniques) == 0 {
		logger.Infof("no technique signals found among recorded SQLi findings")
		return nil, nil
	}
	logger.Infof("candidate SQLi techniques: %v (optimal: %s)", techniques, techniques[0])
	return techniques, nil
}

func normalizeTechnique(s string) string {
	switch {
	case len(s) >= 4 && (s[:4] == "bool" || s[:4] == "Bool"):
		return "boolean"
	case len(s) >= 5 && (s[:5] == "union" || s[:5] == "Union"):
		return "union"
	case len(s) >= 4 && (s[:4] == "time" || s[:4] == "Time"):
		return "time"
	default:
		return "error"
	}
}

// RunSQLiExploit invoca testParameter en modo exploit sobre el primer
// parámetro vulnerable, pero sólo si enableExploitation está activo;
// de lo contrario registra un aviso de modo seguro y retorna sin
// lanzar ningún subproceso (§4.7: "never destructive").
func RunSQLiExploit(ctx context.Context, st *State, g Gate, sqli SQLiRunner, bus *eventbus.Bus, scanID string, logger *logx.Logger, cfg *model.ScanConfig) error {
	g.WaitIfPaused(ctx)
	g.Ask(ctx, "sqli-exploit")
	g.WaitIfPaused(ctx)

	if !cfg.EnableExploitation {
		logger.Infof("exploitation disabled, running in safe mode")
		return nil
	}

	param, ok := st.FirstVulnerableParameter(model.VulnSQLi)
	if !ok {
		logger.Infof("no SQLi vulnerability confirmed yet, skipping exploit")
		return nil
	}

	if err := sqli.TestParameter(ctx, param, sqlitool.PhaseExploit, onSQLiFinding(st, bus, scanID, logger)); err != nil {
		return fmt.Errorf("phases: sqli exploit: %w", err)
	}
	return nil
}

func onSQLiFinding(st *State, bus *eventbus.Bus, scanID string, logger *logx.Logger) sqlitool.OnFinding {
	return func(v model.Vulnerability) {
		if !st.AddVulnerability(v) {
			return
		}
		logger.Warnf("SQLi found: %s on %s", v.Parameter, v.Endpoint.URL)
		bus.Publish(eventbus.Event{Topic: eventbus.TopicVulnFound, ScanID: scanID, Payload: v})
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
