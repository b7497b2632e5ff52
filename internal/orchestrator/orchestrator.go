// Package orchestrator implementa el Orchestrator (§4.8): la máquina
// de estados de un scan, dueña del bus de eventos, el logger, la
// gate, ambos ejecutores de herramientas, y el registro de procesos
// activos. Las fases avanzan en una única tarea por scan; un mutex
// protege el registro de procesos, los flags de pausa/stop y el estado
// de fases, porque Pause/Resume/Stop y Track/Untrack llegan desde
// otras goroutines, y phases.State trae su propio lock para las
// sub-fases con pruebas concurrentes por endpoint.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/BetterCallFirewall/Hackerecon/internal/eventbus"
	"github.com/BetterCallFirewall/Hackerecon/internal/gate"
	"github.com/BetterCallFirewall/Hackerecon/internal/logx"
	"github.com/BetterCallFirewall/Hackerecon/internal/model"
	"github.com/BetterCallFirewall/Hackerecon/internal/phases"
)

const waitForProcessesCap = 60 * time.Second

// Orchestrator conduce un scan de principio a fin.
type Orchestrator struct {
	ScanID string
	Config *model.ScanConfig
	Bus    *eventbus.Bus
	Logger *logx.Logger
	Gate   *gate.Gate
	SQLi   phases.SQLiRunner
	XSS    phases.XSSRunner
	State  *phases.State

	mu              sync.Mutex
	activeProcesses map[string]*os.Process
	isPaused        bool
	isStopped       bool
	phaseInfos      []model.PhaseInfo
}

// New crea un Orchestrator para scanID con las dependencias dadas.
func New(scanID string, cfg *model.ScanConfig, bus *eventbus.Bus, logger *logx.Logger, g *gate.Gate, sqli phases.SQLiRunner, xss phases.XSSRunner) *Orchestrator {
	return &Orchestrator{
		ScanID:          scanID,
		Config:          cfg,
		Bus:             bus,
		Logger:          logger,
		Gate:            g,
		SQLi:            sqli,
		XSS:             xss,
		State:           phases.NewState(),
		activeProcesses: make(map[string]*os.Process),
	}
}

// Track registra un proceso hijo activo; satisface procreg.Registry
// para que sqlitool/xsstool puedan registrarse sin depender de este
// paquete.
func (o *Orchestrator) Track(name string, proc *os.Process) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activeProcesses[name] = proc
}

// Untrack elimina un proceso hijo del registro.
func (o *Orchestrator) Untrack(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeProcesses, name)
}

func (o *Orchestrator) stopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.isStopped
}

// Pause pausa el scan en el siguiente punto de suspensión (§4.8,§5).
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	if o.isStopped || o.isPaused {
		o.mu.Unlock()
		return
	}
	o.isPaused = true
	o.mu.Unlock()

	o.Gate.Pause()
	o.Bus.Publish(eventbus.Event{Topic: eventbus.TopicScanPaused, ScanID: o.ScanID})
}

// Resume reanuda un scan pausado, despertando exactamente una vez al
// waiter pendiente (§4.8).
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	if o.isStopped || !o.isPaused {
		o.mu.Unlock()
		return
	}
	o.isPaused = false
	o.mu.Unlock()

	o.Gate.Resume()
	o.Bus.Publish(eventbus.Event{Topic: eventbus.TopicScanResumed, ScanID: o.ScanID})
}

// Stop detiene el scan: marca isStopped, despausa, despierta cualquier
// waiter pendiente, mata todo proceso rastreado (SIGTERM), y vacía el
// registro de procesos (§4.8). Idempotente.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.isStopped {
		o.mu.Unlock()
		return
	}
	o.isStopped = true
	o.isPaused = false
	procs := make([]*os.Process, 0, len(o.activeProcesses))
	for _, p := range o.activeProcesses {
		procs = append(procs, p)
	}
	o.activeProcesses = make(map[string]*os.Process)
	o.mu.Unlock()

	o.Gate.ForceWake()
	terminateAll(procs)
	o.Bus.Publish(eventbus.Event{Topic: eventbus.TopicScanStopped, ScanID: o.ScanID})
}

func (o *Orchestrator) killAll() {
	o.mu.Lock()
	procs := make([]*os.Process, 0, len(o.activeProcesses))
	for _, p := range o.activeProcesses {
		procs = append(procs, p)
	}
	o.activeProcesses = make(map[string]*os.Process)
	o.mu.Unlock()

	terminateAll(procs)
}

// terminateAll envía SIGTERM a cada proceso y escala a Kill tras un
// período de gracia (§4.8, §5: "SIGTERM, then SIGKILL after a short
// grace period (~300ms)"), igual que gracefulStop en sqlitool/xsstool.
func terminateAll(procs []*os.Process) {
	for _, p := range procs {
		_ = p.Signal(syscall.SIGTERM)
		p := p
		time.AfterFunc(300*time.Millisecond, func() {
			_ = p.Kill()
		})
	}
}

func (o *Orchestrator) beginPhase(name string) {
	o.mu.Lock()
	o.phaseInfos = append(o.phaseInfos, model.PhaseInfo{Name: name, Status: model.PhaseRunning})
	o.mu.Unlock()
	o.Logger.SetPhase(name)
	o.Bus.Publish(eventbus.Event{Topic: eventbus.TopicPhaseStarted, ScanID: o.ScanID, Payload: model.PhaseInfo{Name: name, Status: model.PhaseRunning}})
}

func (o *Orchestrator) completePhase(name string) {
	o.setPhaseStatus(name, model.PhaseCompleted)
	o.Bus.Publish(eventbus.Event{Topic: eventbus.TopicPhaseCompleted, ScanID: o.ScanID, Payload: model.PhaseInfo{Name: name, Status: model.PhaseCompleted}})
}

func (o *Orchestrator) failPhase(name string) {
	o.setPhaseStatus(name, model.PhaseError)
}

func (o *Orchestrator) setPhaseStatus(name string, status model.PhaseStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.phaseInfos {
		if o.phaseInfos[i].Name == name {
			o.phaseInfos[i].Status = status
			return
		}
	}
}

func (o *Orchestrator) beginSubphase(phaseName, subName string) {
	o.mu.Lock()
	for i := range o.phaseInfos {
		if o.phaseInfos[i].Name == phaseName {
			o.phaseInfos[i].SubPhases = append(o.phaseInfos[i].SubPhases, model.SubPhase{Name: subName, Status: model.PhaseRunning})
			break
		}
	}
	o.mu.Unlock()
	o.Bus.Publish(eventbus.Event{Topic: eventbus.TopicSubphaseStarted, ScanID: o.ScanID, Payload: subName})
}

func (o *Orchestrator) completeSubphase(phaseName, subName string) {
	o.mu.Lock()
	for i := range o.phaseInfos {
		if o.phaseInfos[i].Name != phaseName {
			continue
		}
		for j := range o.phaseInfos[i].SubPhases {
			if o.phaseInfos[i].SubPhases[j].Name == subName {
				o.phaseInfos[i].SubPhases[j].Status = model.PhaseCompleted
			}
		}
	}
	o.mu.Unlock()
	o.Bus.Publish(eventbus.Event{Topic: eventbus.TopicSubphaseDone, ScanID: o.ScanID, Payload: subName})
}

// Start conduce el scan completo: Init -> Discovery -> SQLi? -> XSS? ->
// waitForAllProcesses (acotado a 60s) -> Report (§4.8).
func (o *Orchestrator) Start(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("orchestrator: panic: %v", r)
		}
		if err != nil && !o.stopped() {
			o.killAll()
			o.Bus.Publish(eventbus.Event{Topic: eventbus.TopicScanError, ScanID: o.ScanID, Payload: err.Error()})
		}
	}()

	o.Bus.Publish(eventbus.Event{Topic: eventbus.TopicScanStarted, ScanID: o.ScanID, Payload: *o.Config})

	o.beginPhase("init")
	o.completePhase("init")
	if o.stopped() {
		return nil
	}

	o.beginPhase("discovery")
	if _, derr := phases.RunDiscovery(ctx, o.State, o.Gate, o.SQLi, o.Bus, o.ScanID, o.Logger, o.Config); derr != nil {
		o.failPhase("discovery")
		return fmt.Errorf("discovery: %w", derr)
	}
	o.completePhase("discovery")
	if o.stopped() {
		return nil
	}

	if o.Config.SQLi {
		if err := o.runSQLiPhase(ctx); err != nil {
			return err
		}
		if o.stopped() {
			return nil
		}
	}

	if o.Config.XSS {
		if err := o.runXSSPhase(ctx); err != nil {
			return err
		}
		if o.stopped() {
			return nil
		}
	}

	o.waitForAllProcesses()
	if o.stopped() {
		return nil
	}

	o.Bus.Publish(eventbus.Event{Topic: eventbus.TopicScanCompleted, ScanID: o.ScanID, Payload: o.GetStatus()})
	return nil
}

func (o *Orchestrator) runSQLiPhase(ctx context.Context) error {
	const phaseName = "sqli"
	o.beginPhase(phaseName)

	o.beginSubphase(phaseName, "detection")
	if err := phases.RunSQLiDetection(ctx, o.State, o.Gate, o.SQLi, o.Bus, o.ScanID, o.Logger, o.Config); err != nil {
		o.failPhase(phaseName)
		o.killAll()
		return fmt.Errorf("sqli detection: %w", err)
	}
	o.completeSubphase(phaseName, "detection")
	if o.stopped() {
		return nil
	}

	o.beginSubphase(phaseName, "fingerprint")
	if err := phases.RunSQLiFingerprint(ctx, o.State, o.Gate, o.SQLi, o.Bus, o.ScanID, o.Logger); err != nil {
		o.failPhase(phaseName)
		o.killAll()
		return fmt.Errorf("sqli fingerprint: %w", err)
	}
	o.completeSubphase(phaseName, "fingerprint")
	if o.stopped() {
		return nil
	}

	o.beginSubphase(phaseName, "technique")
	if _, err := phases.RunSQLiTechnique(ctx, o.State, o.Gate, o.Bus, o.ScanID, o.Logger); err != nil {
		o.failPhase(phaseName)
		return fmt.Errorf("sqli technique: %w", err)
	}
	o.completeSubphase(phaseName, "technique")
	if o.stopped() {
		return nil
	}

	o.beginSubphase(phaseName, "exploit")
	if err := phases.RunSQLiExploit(ctx, o.State, o.Gate, o.SQLi, o.Bus, o.ScanID, o.Logger, o.Config); err != nil {
		o.failPhase(phaseName)
		o.killAll()
		return fmt.Errorf("sqli exploit: %w", err)
	}
	o.completeSubphase(phaseName, "exploit")

	o.completePhase(phaseName)
	return nil
}

func (o *Orchestrator) runXSSPhase(ctx context.Context) error {
	const phaseName = "xss"
	o.beginPhase(phaseName)

	o.beginSubphase(phaseName, "context")
	phases.RunXSSContext(ctx, o.Gate, o.Logger)
	o.completeSubphase(phaseName, "context")
	if o.stopped() {
		return nil
	}

	o.beginSubphase(phaseName, "payload")
	phases.RunXSSPayload(o.Logger)
	o.completeSubphase(phaseName, "payload")
	if o.stopped() {
		return nil
	}

	o.beginSubphase(phaseName, "fuzzing")
	if err := phases.RunXSSFuzzing(ctx, o.State, o.Gate, o.XSS, o.Bus, o.ScanID, o.Logger, o.Config); err != nil {
		o.failPhase(phaseName)
		o.killAll()
		return fmt.Errorf("xss fuzzing: %w", err)
	}
	o.completeSubphase(phaseName, "fuzzing")

	o.completePhase(phaseName)
	return nil
}

// waitForAllProcesses espera a que el registro de procesos activos se
// vacíe, con un tope global de 60s; los rezagados quedan registrados
// con warning y a cargo del sistema operativo (§5).
func (o *Orchestrator) waitForAllProcesses() {
	deadline := time.Now().Add(waitForProcessesCap)
	for time.Now().Before(deadline) {
		o.mu.Lock()
		remaining := len(o.activeProcesses)
		o.mu.Unlock()
		if remaining == 0 {
			return
		}
		if o.stopped() {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}

	o.mu.Lock()
	remaining := len(o.activeProcesses)
	o.mu.Unlock()
	if remaining > 0 {
		o.Logger.Warnf("waitForAllProcesses: %d process(es) still active after %s, leaving for OS reap", remaining, waitForProcessesCap)
	}
}

// GetStatus devuelve un snapshot del estado del scan (§3, §4.8).
func (o *Orchestrator) GetStatus() model.ScanStatus {
	o.mu.Lock()
	paused := o.isPaused
	stopped := o.isStopped
	phaseInfos := append([]model.PhaseInfo(nil), o.phaseInfos...)
	o.mu.Unlock()

	endpoints := o.State.Endpoints()
	endpointVals := make([]model.Endpoint, 0, len(endpoints))
	for _, e := range endpoints {
		endpointVals = append(endpointVals, *e)
	}
	vulns := o.State.Vulnerabilities()
	params := o.State.Parameters()

	return model.ScanStatus{
		ScanID:              o.ScanID,
		CurrentPhase:        currentPhaseName(phaseInfos),
		IsPaused:            paused,
		IsStopped:           stopped,
		Phases:              phaseInfos,
		DiscoveredEndpoints: endpointVals,
		Vulnerabilities:     vulns,
		Stats: model.ScanStats{
			VulnerabilitiesFound: len(vulns),
			EndpointsDiscovered:  len(endpointVals),
			ParametersFound:      len(params),
		},
		Logs: o.Logger.Recent(50),
	}
}

func currentPhaseName(phaseInfos []model.PhaseInfo) string {
	for i := len(phaseInfos) - 1; i >= 0; i-- {
		if phaseInfos[i].Status == model.PhaseRunning {
			return phaseInfos[i].Name
		}
	}
	if len(phaseInfos) == 0 {
		return ""
	}
	return phaseInfos[len(phaseInfos)-1].Name
}
