// Package wsbridge implementa el transporte de socket bidireccional de
// §6: un puente entre el Event Bus (§4.3) de cada scan y conexiones
// WebSocket, con autenticación por bearer token y verificación de
// propiedad de scanId. Adaptado de internal/websocket.Hub del
// profesor: el alta/baja de clientes se hace sobre un mapa protegido
// por mutex en lugar de canales register/unregister, con goroutines
// readPump/writePump por cliente, generalizado de "un único cliente
// global" a "N clientes suscritos cada uno a un scanId", y de
// broadcast de un Message{Type,Data,Timestamp} anónimo a los eventos
// tipados de eventbus.Topic.
package wsbridge

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BetterCallFirewall/Hackerecon/internal/config"
	"github.com/BetterCallFirewall/Hackerecon/internal/eventbus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// OutboundMessage es el sobre enviado al cliente para cada evento del
// bus, análogo a websocket.Message del profesor pero con ScanID y
// Topic explícitos en vez de un Type de cadena libre.
type OutboundMessage struct {
	Topic     eventbus.Topic `json:"topic"`
	ScanID    string         `json:"scanId"`
	Payload   interface{}    `json:"payload"`
	Timestamp int64          `json:"timestamp"`
}

// InboundMessage es el sobre que el cliente envía, según la gramática
// de §6: scan:join, scan:start, scan:pause, scan:resume, scan:stop,
// question:answer.
type InboundMessage struct {
	Type           string              `json:"type"`
	ScanID         string              `json:"scanId"`
	Config         config.RawScanConfig `json:"config"`
	SelectedAnswer int                 `json:"selectedAnswer"`
}

// ScanHandle es lo que el Orchestrator expone al puente; evita que
// wsbridge dependa directamente del paquete orchestrator para poder
// probarse con dobles.
type ScanHandle interface {
	Pause()
	Resume()
	Stop()
}

// AnswerGate es la parte de gate.Gate que el puente necesita para
// reenviar question:answer.
type AnswerGate interface {
	Answer(selected int)
}

// ScanOwner resuelve el dueño de un scanId y valida tokens portador.
// Implementado por el colaborador externo que crea scans (fuera de
// alcance de este paquete, §6: "persisted state schema owned by the
// external collaborator").
type ScanOwner interface {
	// Authenticate valida un bearer token y devuelve el identificador de
	// usuario al que pertenece, o ok=false si el token es inválido.
	Authenticate(token string) (userID string, ok bool)
	// Owns indica si userID es dueño de scanID.
	Owns(userID, scanID string) bool
}

// ScanStarter arranca un scan nuevo a partir de una configuración cruda
// ya recibida por scan:start. Implementado por cmd/*, que sabe cómo
// construir Orchestrator+Gate+ejecutores.
type ScanStarter interface {
	StartScan(scanID string, raw config.RawScanConfig) (ScanHandle, AnswerGate, *eventbus.Bus, error)
}

// Bridge administra las conexiones activas, cada una suscrita a lo
// sumo a un scanId a la vez. A diferencia del Hub del profesor (un
// único client package-global), aquí cada *client vive en su propia
// entrada del mapa clients, protegida por mutex.
type Bridge struct {
	owner   ScanOwner
	starter ScanStarter

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// New crea un Bridge. owner autentica y autoriza; starter resuelve
// scan:start contra el resto de la aplicación.
func New(owner ScanOwner, starter ScanStarter) *Bridge {
	return &Bridge{
		owner:   owner,
		starter: starter,
		clients: make(map[*client]struct{}),
	}
}

type client struct {
	bridge *Bridge
	conn   *websocket.Conn
	send   chan []byte
	userID string

	mu          sync.Mutex
	scanID      string
	unsubscribe func()
	gate        AnswerGate
	handle      ScanHandle
}

// ServeWS atiende el handshake. El token portador se espera como
// "Authorization: Bearer <token>" o en el parámetro de consulta
// "token", para acomodar clientes de navegador que no pueden fijar
// cabeceras en la llamada de upgrade de WebSocket.
func (b *Bridge) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	userID, ok := b.owner.Authenticate(token)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wsbridge: upgrade failed: %v", err)
		return
	}

	c := &client{
		bridge: b,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
	}

	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	return r.URL.Query().Get("token")
}

func (b *Bridge) drop(c *client) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()

	c.mu.Lock()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.mu.Unlock()
	close(c.send)
}

func (c *client) readPump() {
	defer func() {
		c.bridge.drop(c)
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("wsbridge: readPump error: %v", err)
			}
			return
		}

		var msg InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("wsbridge: malformed inbound message: %v", err)
			continue
		}
		c.handleInbound(msg)
	}
}

func (c *client) handleInbound(msg InboundMessage) {
	if msg.ScanID == "" {
		return
	}
	if !c.bridge.owner.Owns(c.userID, msg.ScanID) {
		log.Printf("wsbridge: user %s is not the owner of scan %s, dropping %s", c.userID, msg.ScanID, msg.Type)
		return
	}

	switch msg.Type {
	case "scan:join":
		c.join(msg.ScanID)
	case "scan:start":
		c.start(msg.ScanID, msg.Config)
	case "scan:pause":
		if h := c.currentHandle(msg.ScanID); h != nil {
			h.Pause()
		}
	case "scan:resume":
		if h := c.currentHandle(msg.ScanID); h != nil {
			h.Resume()
		}
	case "scan:stop":
		if h := c.currentHandle(msg.ScanID); h != nil {
			h.Stop()
		}
	case "question:answer":
		if g := c.currentGate(msg.ScanID); g != nil {
			g.Answer(msg.SelectedAnswer)
		}
	default:
		log.Printf("wsbridge: unknown inbound message type %q", msg.Type)
	}
}

func (c *client) currentHandle(scanID string) ScanHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scanID != scanID {
		return nil
	}
	return c.handle
}

func (c *client) currentGate(scanID string) AnswerGate {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scanID != scanID {
		return nil
	}
	return c.gate
}

// join suscribe este cliente a todos los tópicos del bus de un scan ya
// existente. Como el Bridge no posee el registro de scans en curso
// (eso es internal/orchestrator.Registry, fuera de esta capa), join
// sólo tiene efecto tras un scan:start anterior en esta misma
// conexión; unirse a un scan arrancado por otra conexión se resuelve a
// través de ScanStarter.StartScan devolviendo el mismo *eventbus.Bus
// ya en marcha si scanID ya existe (decisión del caller de
// ScanStarter, no de este paquete).
func (c *client) join(scanID string) {
	c.mu.Lock()
	already := c.scanID == scanID
	c.mu.Unlock()
	if already {
		return
	}
	log.Printf("wsbridge: scan:join for %s requires a prior scan:start on this connection", scanID)
}

func (c *client) start(scanID string, raw config.RawScanConfig) {
	handle, g, bus, err := c.bridge.starter.StartScan(scanID, raw)
	if err != nil {
		c.sendError(scanID, err)
		return
	}

	unsubscribe := c.subscribeAll(bus, scanID)

	c.mu.Lock()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.scanID = scanID
	c.unsubscribe = unsubscribe
	c.gate = g
	c.handle = handle
	c.mu.Unlock()
}

var allTopics = []eventbus.Topic{
	eventbus.TopicScanStarted,
	eventbus.TopicScanCompleted,
	eventbus.TopicScanError,
	eventbus.TopicScanPaused,
	eventbus.TopicScanResumed,
	eventbus.TopicScanStopped,
	eventbus.TopicPhaseStarted,
	eventbus.TopicPhaseCompleted,
	eventbus.TopicSubphaseStarted,
	eventbus.TopicSubphaseDone,
	eventbus.TopicLogAdded,
	eventbus.TopicEndpointFound,
	eventbus.TopicParamFound,
	eventbus.TopicVulnFound,
	eventbus.TopicQuestionAsked,
	eventbus.TopicQuestionAnswered,
	eventbus.TopicQuestionResult,
	eventbus.TopicCrawlerFinished,
	eventbus.TopicCrawlerFailed,
}

// subscribeAll suscribe c a todos los tópicos de bus y devuelve una
// función para deshacer la suscripción. eventbus.Bus no ofrece
// Unsubscribe, así que el handler comprueba un flag "vivo" protegido
// por mutex antes de escribir en send, en vez de cancelar el registro.
func (c *client) subscribeAll(bus *eventbus.Bus, scanID string) func() {
	var mu sync.Mutex
	alive := true

	handler := func(ev eventbus.Event) {
		mu.Lock()
		stillAlive := alive
		mu.Unlock()
		if !stillAlive {
			return
		}
		c.emit(ev)
	}

	for _, topic := range allTopics {
		bus.Subscribe(topic, handler)
	}

	return func() {
		mu.Lock()
		alive = false
		mu.Unlock()
	}
}

func (c *client) emit(ev eventbus.Event) {
	out := OutboundMessage{
		Topic:     ev.Topic,
		ScanID:    ev.ScanID,
		Payload:   ev.Payload,
		Timestamp: time.Now().Unix(),
	}
	raw, err := json.Marshal(out)
	if err != nil {
		log.Printf("wsbridge: failed to marshal outbound message: %v", err)
		return
	}

	select {
	case c.send <- raw:
	default:
		log.Printf("wsbridge: client send buffer full, dropping message for scan %s", ev.ScanID)
	}
}

func (c *client) sendError(scanID string, err error) {
	out := OutboundMessage{
		Topic:     eventbus.TopicScanError,
		ScanID:    scanID,
		Payload:   map[string]string{"error": err.Error()},
		Timestamp: time.Now().Unix(),
	}
	raw, merr := json.Marshal(out)
	if merr != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
	}
	log.Printf("wsbridge: scan:start failed for %s: %v", scanID, err)
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
