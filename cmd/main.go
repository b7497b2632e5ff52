// Command scanhost levanta el demo end-to-end de easyinjection: un
// servidor HTTP que expone el transporte de socket bidireccional de
// §6 sobre /ws, arrancando scans bajo demanda contra un Registry de
// orquestadores y persistiéndolos en memoria al terminar. Reemplaza el
// punto de entrada del profesor (que cableaba un proxy MITM con
// certificados propios y un flujo Genkit no relacionado con este
// dominio) por el cableado real de easyinjection: config -> logger ->
// bus -> gate -> banco de preguntas -> ejecutores de herramientas ->
// orquestador -> adaptador de persistencia -> puente de sockets.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/BetterCallFirewall/Hackerecon/internal/config"
	"github.com/BetterCallFirewall/Hackerecon/internal/eventbus"
	"github.com/BetterCallFirewall/Hackerecon/internal/gate"
	"github.com/BetterCallFirewall/Hackerecon/internal/logx"
	"github.com/BetterCallFirewall/Hackerecon/internal/model"
	"github.com/BetterCallFirewall/Hackerecon/internal/orchestrator"
	"github.com/BetterCallFirewall/Hackerecon/internal/persistence"
	"github.com/BetterCallFirewall/Hackerecon/internal/procspawn"
	"github.com/BetterCallFirewall/Hackerecon/internal/quizbank"
	"github.com/BetterCallFirewall/Hackerecon/internal/sqlitool"
	"github.com/BetterCallFirewall/Hackerecon/internal/transport/wsbridge"
	"github.com/BetterCallFirewall/Hackerecon/internal/xsstool"
)

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	defaults := config.LoadDefaults()

	registry := orchestrator.NewRegistry()
	defer registry.Stop()

	repo := persistence.NewMemoryRepo()
	app := &application{
		defaults: defaults,
		registry: registry,
		repo:     repo,
		owner:    newStaticOwner(),
		spawner:  procspawn.NewDefault(),
		prompts:  quizbank.NewMemoryStore(quizbank.DefaultPrompts()),
	}

	bridge := wsbridge.New(app.owner, app)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", bridge.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := envOrDefault("SCANHOST_LISTEN_ADDR", ":8089")
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Printf("scanhost: listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("scanhost: server failed: %v", err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Println("scanhost: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// application conecta wsbridge.ScanStarter con el resto del stack:
// valida la configuración entrante, crea un Orchestrator nuevo por
// scanID, lo registra, lo arranca en su propia goroutine, y persiste
// su resultado cuando termina.
type application struct {
	defaults *config.Defaults
	registry *orchestrator.Registry
	repo     *persistence.MemoryRepo
	owner    *staticOwner
	spawner  procspawn.Spawner
	prompts  *quizbank.MemoryStore
}

// StartScan satisface wsbridge.ScanStarter. Si scanID ya tiene un
// orquestador registrado, reutiliza su bus y gate en vez de arrancar
// un scan duplicado (soporta scan:join tras una reconexión).
func (a *application) StartScan(scanID string, raw config.RawScanConfig) (wsbridge.ScanHandle, wsbridge.AnswerGate, *eventbus.Bus, error) {
	if existing, ok := a.registry.Get(scanID); ok {
		return existing, existing.Gate, existing.Bus, nil
	}

	cfg, err := config.Validate(raw, a.defaults)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("scanhost: invalid scan config: %w", err)
	}

	bus := eventbus.New()
	logger := logx.New(true)
	logger.Subscribe(busLogSink{bus: bus, scanID: scanID})

	g := gate.New(bus, scanID, a.prompts)

	// El Orchestrator implementa procreg.Registry (Track/Untrack), así
	// que los ejecutores de herramientas se construyen pasándolo
	// directamente como colaborador de rastreo de procesos hijos.
	orch := orchestrator.New(scanID, cfg, bus, logger, g, nil, nil)
	orch.SQLi = sqlitool.New(a.spawner, logger, orch, cfg)
	orch.XSS = xsstool.New(a.spawner, logger, orch, cfg)

	a.registry.Register(scanID, orch)

	go a.runScanToCompletion(scanID, orch)

	return orch, g, bus, nil
}

func (a *application) runScanToCompletion(scanID string, orch *orchestrator.Orchestrator) {
	if err := orch.Start(context.Background()); err != nil {
		log.Printf("scanhost: scan %s ended with error: %v", scanID, err)
	}

	status := orch.GetStatus()
	if status.IsStopped {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := persistence.Persist(ctx, a.repo.Repos(), scanID, status); err != nil {
		log.Printf("scanhost: failed to persist scan %s: %v", scanID, err)
	}
}

// busLogSink adapta logx.Sink a una publicación de log:added en el bus
// del scan, para que wsbridge la reenvíe como cualquier otro tópico.
type busLogSink struct {
	bus    *eventbus.Bus
	scanID string
}

func (s busLogSink) Publish(entry model.LogEntry) {
	s.bus.Publish(eventbus.Event{Topic: eventbus.TopicLogAdded, ScanID: s.scanID, Payload: entry})
}

// staticOwner es una implementación mínima de wsbridge.ScanOwner para
// el demo: un único token fijo por entorno (SCANHOST_DEMO_TOKEN) que
// posee cualquier scanID que él mismo haya iniciado. Un despliegue
// real sustituye esto por el colaborador HTTP externo dueño del
// esquema de persistencia (§6).
type staticOwner struct {
	mu     sync.Mutex
	token  string
	userID string
	owned  map[string]string
}

func newStaticOwner() *staticOwner {
	token := envOrDefault("SCANHOST_DEMO_TOKEN", uuid.NewString())
	log.Printf("scanhost: demo bearer token: %s", token)
	return &staticOwner{
		token:  token,
		userID: "demo-user",
		owned:  make(map[string]string),
	}
}

func (o *staticOwner) Authenticate(token string) (string, bool) {
	if token == "" || token != o.token {
		return "", false
	}
	return o.userID, true
}

func (o *staticOwner) Owns(userID, scanID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	owner, ok := o.owned[scanID]
	if !ok {
		o.owned[scanID] = userID
		return true
	}
	return owner == userID
}
