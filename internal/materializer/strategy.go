package materializer

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Candidate is a bus or crew member eligible for a trip
type Candidate struct {
	ID   string
	Uses int // trips assigned over the recent window, filled for usage-aware selectors
}

// Selector decides the order in which candidates are tried. The first
// candidate the store accepts wins.
type Selector interface {
	Name() string
	Order(candidates []Candidate) []Candidate
}

// UsageAware selectors need recent assignment counts on every candidate
type UsageAware interface {
	UsesHistory() bool
}

// RandomSelector shuffles candidates, spreading wear across the fleet
type RandomSelector struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandomSelector(seed int64) *RandomSelector {
	return &RandomSelector{rnd: rand.New(rand.NewSource(seed))}
}

func (s *RandomSelector) Name() string {
	return "random"
}

func (s *RandomSelector) Order(c []Candidate) []Candidate {
	out := append([]Candidate(nil), c...)
	s.mu.Lock()
	s.rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	s.mu.Unlock()
	return out
}

// FirstSelector tries candidates in ID order. Deterministic, used in tests.
type FirstSelector struct{}

func (s *FirstSelector) Name() string {
	return "first"
}

func (s *FirstSelector) Order(c []Candidate) []Candidate {
	out := append([]Candidate(nil), c...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LeastUsedSelector prefers the candidates with the fewest recent trips
type LeastUsedSelector struct{}

func (s *LeastUsedSelector) Name() string {
	return "least_used"
}

func (s *LeastUsedSelector) UsesHistory() bool { return true }

func (s *LeastUsedSelector) Order(c []Candidate) []Candidate {
	out := append([]Candidate(nil), c...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Uses != out[j].Uses {
			return out[i].Uses < out[j].Uses
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetStrategy returns a selector by name
func GetStrategy(name string) Selector {
	switch name {
	case "first":
		return &FirstSelector{}
	case "least_used":
		return &LeastUsedSelector{}
	case "random":
		return NewRandomSelector(time.Now().UnixNano())
	default:
		return NewRandomSelector(time.Now().UnixNano())
	}
}
