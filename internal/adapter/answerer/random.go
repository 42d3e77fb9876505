package answerer

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math"
	mrand "math/rand/v2"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"metasearch/internal/domain"
)

const randomChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Random answers "random <type>" with a fresh random value.
type Random struct {
	generators map[string]func() string
}

// NewRandom creates the random value answerer.
func NewRandom() *Random {
	return &Random{generators: map[string]func() string{
		"string": randomString,
		"int":    func() string { return strconv.FormatInt(mrand.Int64N(math.MaxInt64), 10) },
		"float":  func() string { return strconv.FormatFloat(mrand.Float64(), 'f', -1, 64) },
		"sha256": randomSHA256,
		"uuid":   uuid.NewString,
	}}
}

func (r *Random) Keywords() []string { return []string{"random"} }

func (r *Random) Answer(query string) []domain.Answer {
	parts := strings.Fields(query)
	if len(parts) != 2 {
		return nil
	}
	gen, ok := r.generators[strings.ToLower(parts[1])]
	if !ok {
		return nil
	}
	return []domain.Answer{{Answer: gen()}}
}

func (r *Random) Info() Info {
	return Info{
		Name:        "random",
		Description: "Generate a random value",
		Examples:    []string{"random string", "random int", "random float", "random sha256", "random uuid"},
	}
}

func randomString() string {
	n := 8 + mrand.IntN(9)
	var sb strings.Builder
	sb.Grow(n)
	for range n {
		sb.WriteByte(randomChars[mrand.IntN(len(randomChars))])
	}
	return sb.String()
}

func randomSHA256() string {
	var seed [64]byte
	_, _ = rand.Read(seed[:])
	sum := sha256.Sum256(seed[:])
	return hex.EncodeToString(sum[:])
}
