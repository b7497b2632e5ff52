// Package eventbus implementa el bus de eventos tipado (§4.3): pub/sub
// dentro del proceso, con despacho single-threaded cooperativo — cada
// handler corre hasta completarse antes de despachar el siguiente
// evento, igual que el bucle select de internal/websocket.Hub del
// profesor, generalizado de un único cliente a N suscriptores por
// tópico.
package eventbus

import "sync"

// Topic identifica el tipo de un evento.
type Topic string

const (
	TopicScanStarted     Topic = "scan:started"
	TopicScanCompleted   Topic = "scan:completed"
	TopicScanError       Topic = "scan:error"
	TopicScanPaused      Topic = "scan:paused"
	TopicScanResumed     Topic = "scan:resumed"
	TopicScanStopped     Topic = "scan:stopped"
	TopicPhaseStarted    Topic = "phase:started"
	TopicPhaseCompleted  Topic = "phase:completed"
	TopicSubphaseStarted Topic = "subphase:started"
	TopicSubphaseDone    Topic = "subphase:completed"
	TopicLogAdded        Topic = "log:added"
	TopicEndpointFound   Topic = "endpoint:discovered"
	TopicParamFound      Topic = "parameter:discovered"
	TopicVulnFound       Topic = "vulnerability:found"
	TopicQuestionAsked   Topic = "question:asked"
	TopicQuestionAnswered Topic = "question:answered"
	TopicQuestionResult  Topic = "question:result"
	TopicCrawlerFinished Topic = "crawler:finished"
	TopicCrawlerFailed   Topic = "crawler:failed"
)

// Event es el sobre genérico de todo evento publicado. ScanID siempre
// está presente (§4.3); Payload lleva los datos propios del tópico.
type Event struct {
	Topic   Topic
	ScanID  string
	Payload interface{}
}

// Handler procesa un evento. Debe retornar antes de que el siguiente
// evento sea despachado (modelo cooperativo, §5).
type Handler func(Event)

// Bus es un pub/sub en memoria con despacho en orden de registro.
type Bus struct {
	mu          sync.Mutex
	subscribers map[Topic][]Handler
	closed      bool
}

// New crea un Bus vacío.
func New() *Bus {
	return &Bus{subscribers: make(map[Topic][]Handler)}
}

// Subscribe registra handler para topic. Los handlers se despachan en
// el orden en que fueron registrados.
func (b *Bus) Subscribe(topic Topic, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], handler)
}

// Publish despacha event a todos los suscriptores de su tópico, en
// orden de registro, secuencialmente en la goroutine del llamador. Un
// bus cerrado descarta silenciosamente la publicación.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	handlers := append([]Handler(nil), b.subscribers[event.Topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

// Close descarta todos los suscriptores; publicaciones posteriores son
// no-ops. No espera a handlers en curso ni despacha eventos pendientes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscribers = make(map[Topic][]Handler)
}
