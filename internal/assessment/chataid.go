package assessment

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

var chataIDPattern = regexp.MustCompile(`^[A-Z]{3}-[A-Z]{3}-[0-9]{3}$`)

// ErrIDSpaceExhausted is returned when every numeric suffix for a prefix is taken.
var ErrIDSpaceExhausted = errors.New("no unused CHATA-ID left for prefix")

// ValidChataID reports whether id has the XXX-XXX-NNN shape.
func ValidChataID(id string) bool {
	return chataIDPattern.MatchString(id)
}

// Initials returns three uppercase letters for a name: first letters of each
// word, padded with X or truncated.
func Initials(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		for _, r := range word {
			if r <= unicode.MaxASCII && unicode.IsLetter(r) {
				b.WriteRune(unicode.ToUpper(r))
				break
			}
		}
		if b.Len() == 3 {
			break
		}
	}
	s := b.String()
	for len(s) < 3 {
		s += "X"
	}
	return s
}

// IDGenerator issues CHATA-IDs that are unique against its used set.
type IDGenerator struct {
	mu   sync.Mutex
	used map[string]bool
	rng  *rand.Rand
}

// NewIDGenerator creates a generator seeded with already-issued IDs. A nil
// rng uses a randomly seeded source.
func NewIDGenerator(used []string, rng *rand.Rand) *IDGenerator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	g := &IDGenerator{
		used: make(map[string]bool, len(used)),
		rng:  rng,
	}
	for _, id := range used {
		g.used[id] = true
	}
	return g
}

// Generate returns a fresh ID for the clinician/child pair and marks it used.
func (g *IDGenerator) Generate(clinicianName, childName string) (string, error) {
	prefix := Initials(clinicianName) + "-" + Initials(childName) + "-"

	g.mu.Lock()
	defer g.mu.Unlock()

	// Random probing first, then a sweep so a nearly full prefix still resolves.
	for range 50 {
		id := fmt.Sprintf("%s%03d", prefix, g.rng.IntN(1000))
		if !g.used[id] {
			g.used[id] = true
			return id, nil
		}
	}
	start := g.rng.IntN(1000)
	for i := range 1000 {
		id := fmt.Sprintf("%s%03d", prefix, (start+i)%1000)
		if !g.used[id] {
			g.used[id] = true
			return id, nil
		}
	}
	return "", fmt.Errorf("%w %s", ErrIDSpaceExhausted, strings.TrimSuffix(prefix, "-"))
}

// Used reports whether id has been issued.
func (g *IDGenerator) Used(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.used[id]
}

// UsedIDs returns a snapshot of the used set.
func (g *IDGenerator) UsedIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.used))
	for id := range g.used {
		out = append(out, id)
	}
	return out
}
