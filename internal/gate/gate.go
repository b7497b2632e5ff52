// Package gate implementa la Question Gate (§4.4): la primitiva de
// pausa/pregunta que bloquea el avance de una fase hasta que llega una
// respuesta correcta. El diseño reutiliza el idioma de
// internal/driven.SiteContextManager.Stop (canal cerrado para
// despertar una goroutine en espera) del profesor, aplicado a un
// único "waiter" por pregunta en vez de un ticker de limpieza.
package gate

import (
	"context"
	"math/rand"
	"sync"

	"github.com/BetterCallFirewall/Hackerecon/internal/eventbus"
	"github.com/BetterCallFirewall/Hackerecon/internal/model"
)

// PromptSource es el colaborador de solo lectura que resuelve
// preguntas por fase (el banco de preguntas, §4.4).
type PromptSource interface {
	PromptsForPhase(phaseTag string) []model.QuestionPrompt
}

// Gate coordina pausa/pregunta/respuesta para un scan.
type Gate struct {
	bus    *eventbus.Bus
	scanID string
	source PromptSource
	rng    *rand.Rand

	mu        sync.Mutex
	isPaused  bool
	pauseCh   chan struct{} // cerrado cuando se debe reanudar; recreado en cada pausa
	answers   chan int      // respuestas entrantes para la pregunta pendiente actual
	asking    bool
}

// New crea una Gate para un scan concreto.
func New(bus *eventbus.Bus, scanID string, source PromptSource) *Gate {
	return &Gate{
		bus:     bus,
		scanID:  scanID,
		source:  source,
		rng:     rand.New(rand.NewSource(1)),
		pauseCh: closedChan(),
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// IsPaused indica si la gate está actualmente pausada.
func (g *Gate) IsPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isPaused
}

// WaitIfPaused es el punto de suspensión cooperativo (§4.4, §5): si no
// hay pausa retorna inmediatamente, si la hay bloquea hasta Resume().
// ctx cancelado también libera la espera.
func (g *Gate) WaitIfPaused(ctx context.Context) {
	g.mu.Lock()
	ch := g.pauseCh
	paused := g.isPaused
	g.mu.Unlock()

	if !paused {
		return
	}

	select {
	case <-ch:
	case <-ctx.Done():
	}
}

// Pause fuerza el estado de pausa sin necesidad de una pregunta
// pendiente (§4.8 orchestrator.pause()). Si ya hay una pregunta en
// curso, no reemplaza su canal de reanudación.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.isPaused {
		return
	}
	g.isPaused = true
	g.pauseCh = make(chan struct{})
}

// Resume libera exactamente una vez al waiter pendiente, si lo hay
// (§4.8 orchestrator.resume()). No requiere que haya una pregunta en
// curso: también despausa tras un Pause() plano.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.isPaused {
		return
	}
	g.isPaused = false
	g.asking = false
	close(g.pauseCh)
}

// ForceWake despausa incondicionalmente y abandona cualquier pregunta
// en curso sin resolverla (§4.8 orchestrator.stop(): "wakes any
// waiter"). A diferencia de Resume, no requiere respuesta correcta.
func (g *Gate) ForceWake() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.isPaused {
		close(g.pauseCh)
	}
	g.isPaused = false
	g.asking = false
}

// Answer empuja una respuesta entrante hacia la pregunta pendiente; no
// hace nada si no hay ninguna pregunta en curso.
func (g *Gate) Answer(selected int) {
	g.mu.Lock()
	ch := g.answers
	asking := g.asking
	g.mu.Unlock()

	if !asking || ch == nil {
		return
	}

	select {
	case ch <- selected:
	default:
	}
}

// pickPrompt resuelve un prompt por phaseTag, con fallback a la familia
// genérica ("sqli-*" -> "sqli", "xss-*" -> "xss") cuando el conjunto
// específico está vacío, y baraja sus opciones.
func (g *Gate) pickPrompt(phaseTag string) *model.QuestionPrompt {
	pool := g.source.PromptsForPhase(phaseTag)
	if len(pool) == 0 {
		if generic, ok := genericFamily(phaseTag); ok {
			pool = g.source.PromptsForPhase(generic)
		}
	}
	if len(pool) == 0 {
		return nil
	}

	chosen := pool[g.rng.Intn(len(pool))]
	return shuffleOptions(chosen, g.rng)
}

func genericFamily(phaseTag string) (string, bool) {
	switch {
	case len(phaseTag) > 5 && phaseTag[:5] == "sqli-":
		return "sqli", true
	case len(phaseTag) > 4 && phaseTag[:4] == "xss-":
		return "xss", true
	default:
		return "", false
	}
}

func shuffleOptions(p model.QuestionPrompt, rng *rand.Rand) *model.QuestionPrompt {
	n := len(p.Options)
	options := make([]string, n)
	answerIDs := make([]string, n)
	copy(options, p.Options)
	if len(p.AnswerIDs) == n {
		copy(answerIDs, p.AnswerIDs)
	}

	correctOption := ""
	if p.CorrectIndex >= 0 && p.CorrectIndex < n {
		correctOption = options[p.CorrectIndex]
	}

	perm := rng.Perm(n)
	shuffled := make([]string, n)
	shuffledIDs := make([]string, n)
	newCorrect := 0
	for newIdx, oldIdx := range perm {
		shuffled[newIdx] = options[oldIdx]
		if len(answerIDs) == n {
			shuffledIDs[newIdx] = answerIDs[oldIdx]
		}
		if options[oldIdx] == correctOption {
			newCorrect = newIdx
		}
	}

	out := p
	out.Options = shuffled
	out.AnswerIDs = shuffledIDs
	out.CorrectIndex = newCorrect
	return &out
}

// Ask pausa la fase, emite question:asked, y espera respuestas hasta
// que llegue la correcta (§4.4: una pregunta siempre se resuelve con
// la respuesta correcta, no hay salida de fallo). Retorna nil si el
// pool de preguntas está vacío — el caller debe continuar sin gating.
func (g *Gate) Ask(ctx context.Context, phaseTag string) *model.QuestionResult {
	prompt := g.pickPrompt(phaseTag)
	if prompt == nil {
		return nil
	}

	g.mu.Lock()
	g.isPaused = true
	g.pauseCh = make(chan struct{})
	g.answers = make(chan int, 8)
	g.asking = true
	resumeCh := g.pauseCh
	answers := g.answers
	g.mu.Unlock()

	g.bus.Publish(eventbus.Event{Topic: eventbus.TopicQuestionAsked, ScanID: g.scanID, Payload: *prompt})

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-resumeCh:
			// Resume o ForceWake liberaron la pausa sin respuesta correcta.
			return nil
		case selected := <-answers:
			correct := selected == prompt.CorrectIndex
			result := model.QuestionResult{
				QuestionPrompt: *prompt,
				UserAnswer:     selected,
				Correct:        correct,
			}
			if correct {
				result.PointsEarned = prompt.Points
			}
			g.bus.Publish(eventbus.Event{Topic: eventbus.TopicQuestionResult, ScanID: g.scanID, Payload: result})

			if correct {
				g.mu.Lock()
				if g.asking && g.pauseCh == resumeCh {
					g.isPaused = false
					g.asking = false
					close(resumeCh)
				}
				g.mu.Unlock()
				return &result
			}
		}
	}
}
