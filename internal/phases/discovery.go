package phases

import (
	"context"
	"fmt"
	"strings"

	"github.com/BetterCallFirewall/Hackerecon/internal/eventbus"
	"github.com/BetterCallFirewall/Hackerecon/internal/logx"
	"github.com/BetterCallFirewall/Hackerecon/internal/model"
	"github.com/BetterCallFirewall/Hackerecon/internal/sqlitool"
)

// DiscoveryResult es el valor de retorno de RunDiscovery (§4.7).
type DiscoveryResult struct {
	Endpoints  []*model.Endpoint
	Parameters []model.Parameter
}

// RunDiscovery ejecuta la fase de descubrimiento completa: gate,
// crawl, parseo de CSV (con retroceso a un único endpoint sintético si
// el crawler no produjo nada — el reintento de 3x2s ya vive en
// sqlitool.Executor.RunCrawl.pollForCSV), y publicación de
// endpoint:discovered / parameter:discovered (§4.7 Discovery).
func RunDiscovery(ctx context.Context, st *State, g Gate, sqli SQLiRunner, bus *eventbus.Bus, scanID string, logger *logx.Logger, cfg *model.ScanConfig) (*DiscoveryResult, error) {
	g.WaitIfPaused(ctx)
	g.Ask(ctx, "discovery")
	g.WaitIfPaused(ctx)

	logger.Infof("starting discovery crawl against %s", cfg.TargetURL)
	crawlResult, err := sqli.RunCrawl(ctx)
	if err != nil {
		bus.Publish(eventbus.Event{Topic: eventbus.TopicCrawlerFailed, ScanID: scanID, Payload: err.Error()})
		return nil, fmt.Errorf("phases: discovery crawl: %w", err)
	}

	var parsed *sqlitool.CrawlParseResult
	if crawlResult.Failed {
		bus.Publish(eventbus.Event{Topic: eventbus.TopicCrawlerFailed, ScanID: scanID, Payload: "crawler produced no targets"})
		logger.Warnf("crawler produced nothing, falling back to the configured target URL")
		parsed = &sqlitool.CrawlParseResult{
			Endpoints: []*model.Endpoint{model.NewEndpoint(model.MethodGET, cfg.TargetURL, "")},
		}
	} else {
		bus.Publish(eventbus.Event{Topic: eventbus.TopicCrawlerFinished, ScanID: scanID, Payload: crawlResult.CSVPath})
		parsed, err = sqlitool.ParseCrawlCSV(crawlResult.CSVPath)
		if err != nil {
			return nil, fmt.Errorf("phases: parse crawl csv: %w", err)
		}
	}

	for _, ep := range parsed.Endpoints {
		isNew := st.AddEndpoint(ep)
		if isNew {
			bus.Publish(eventbus.Event{Topic: eventbus.TopicEndpointFound, ScanID: scanID, Payload: *ep})
		}
		for _, name := range ep.SortedParams() {
			param := model.Parameter{
				Endpoint: *ep,
				Name:     name,
				Location: locationFor(*ep, name),
				Testable: true,
			}
			if st.AddParameter(param) {
				bus.Publish(eventbus.Event{Topic: eventbus.TopicParamFound, ScanID: scanID, Payload: param})
			}
		}
	}

	result := &DiscoveryResult{Endpoints: st.Endpoints(), Parameters: st.Parameters()}
	logger.Successf("discovery complete: %d endpoints, %d parameters", len(result.Endpoints), len(result.Parameters))
	return result, nil
}

// locationFor decide si name proviene de la query string o del cuerpo
// POST del endpoint.
func locationFor(ep model.Endpoint, name string) model.ParamLocation {
	if idx := strings.Index(ep.URL, "?"); idx >= 0 && strings.Contains(ep.URL[idx+1:], name) {
		return model.LocationQuery
	}
	return model.LocationBody
}
