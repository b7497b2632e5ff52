// Package phases implementa los corredores de fase (§4.7): Discovery,
// SQLi y XSS, cada uno orquestando al gate y a los ejecutores de
// herramientas sobre el estado acumulado de un scan.
package phases

import (
	"sort"
	"sync"

	"github.com/BetterCallFirewall/Hackerecon/internal/model"
)

// State acumula los hallazgos de un scan a través de las fases. Es
// seguro para uso concurrente: las sub-fases prueban endpoints en
// paralelo (acotado por semáforo) y reportan hallazgos desde
// goroutines distintas.
type State struct {
	mu          sync.Mutex
	endpoints   map[string]*model.Endpoint
	endpointOrd []string
	parameters  map[string]model.Parameter
	paramOrd    []string
	vulns       map[string]model.Vulnerability
	vulnOrd     []string
}

// NewState crea un State vacío.
func NewState() *State {
	return &State{
		endpoints:  make(map[string]*model.Endpoint),
		parameters: make(map[string]model.Parameter),
		vulns:      make(map[string]model.Vulnerability),
	}
}

// AddEndpoint registra ep si su clave de identidad es nueva; de lo
// contrario fusiona sus parámetros en el existente. Devuelve true si
// era nuevo.
func (s *State) AddEndpoint(ep *model.Endpoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ep.Key()
	if existing, ok := s.endpoints[key]; ok {
		existing.MergeParams(ep.SortedParams()...)
		return false
	}
	s.endpoints[key] = ep
	s.endpointOrd = append(s.endpointOrd, key)
	return true
}

// AddParameter registra param si su clave de identidad es nueva.
func (s *State) AddParameter(param model.Parameter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := param.Key()
	if _, ok := s.parameters[key]; ok {
		return false
	}
	s.parameters[key] = param
	s.paramOrd = append(s.paramOrd, key)
	return true
}

// AddVulnerability registra v si su clave de deduplicación
// (type, endpoint, parameter) es nueva. Devuelve true si era nueva.
func (s *State) AddVulnerability(v model.Vulnerability) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := v.Key()
	if _, ok := s.vulns[key]; ok {
		return false
	}
	s.vulns[key] = v
	s.vulnOrd = append(s.vulnOrd, key)
	return true
}

// Endpoints devuelve los endpoints descubiertos en orden de primer
// descubrimiento.
func (s *State) Endpoints() []*model.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Endpoint, 0, len(s.endpointOrd))
	for _, k := range s.endpointOrd {
		out = append(out, s.endpoints[k])
	}
	return out
}

// Parameters devuelve los parámetros descubiertos en orden de primer
// descubrimiento.
func (s *State) Parameters() []model.Parameter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Parameter, 0, len(s.paramOrd))
	for _, k := range s.paramOrd {
		out = append(out, s.parameters[k])
	}
	return out
}

// Vulnerabilities devuelve las vulnerabilidades registradas en orden
// de hallazgo.
func (s *State) Vulnerabilities() []model.Vulnerability {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Vulnerability, 0, len(s.vulnOrd))
	for _, k := range s.vulnOrd {
		out = append(out, s.vulns[k])
	}
	return out
}

// FirstVulnerableParameter busca, entre los parámetros conocidos, el
// primero (en orden de descubrimiento) que coincide con una
// vulnerabilidad ya registrada del tipo dado (§4.7: fingerprint/exploit
// operan sobre "el primer parámetro vulnerable").
func (s *State) FirstVulnerableParameter(vulnType model.VulnType) (model.Parameter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, vk := range s.vulnOrd {
		v := s.vulns[vk]
		if v.Type != vulnType {
			continue
		}
		for _, pk := range s.paramOrd {
			p := s.parameters[pk]
			if p.Endpoint.Key() == v.Endpoint.Key() && p.Name == v.Parameter {
				return p, true
			}
		}
	}
	return model.Parameter{}, false
}

// EndpointsByParameterNames agrupa los parámetros conocidos por su
// endpoint, devolviendo los nombres de parámetro ordenados por
// endpoint (§4.7 detection: "group parameters by endpoint").
func (s *State) EndpointsByParameterNames() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	grouped := make(map[string][]string)
	endpointByKey := make(map[string]*model.Endpoint)
	for _, k := range s.endpointOrd {
		endpointByKey[k] = s.endpoints[k]
	}
	for _, pk := range s.paramOrd {
		p := s.parameters[pk]
		grouped[p.Endpoint.Key()] = append(grouped[p.Endpoint.Key()], p.Name)
	}
	for k := range grouped {
		sort.Strings(grouped[k])
	}
	return grouped
}
