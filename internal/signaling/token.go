package signaling

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
)

const MaxRoomTokenLength = 64

var roomTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidRoomToken reports whether id can name a room at the relay.
func ValidRoomToken(id string) bool {
	return len(id) > 0 && len(id) <= MaxRoomTokenLength && roomTokenPattern.MatchString(id)
}

// NewRoomToken returns a memorable room token of four words drawn from four
// different lists, e.g. "kitten-waffle-stardust-happy".
func NewRoomToken() string {
	pools := [][]string{animals, dishes, names, randomWords, adjectives, extras}

	// Partial Fisher-Yates over the pool indices picks 4 distinct lists.
	order := []int{0, 1, 2, 3, 4, 5}
	words := make([]string, 4)
	for i := range words {
		j := i + randomIndex(len(order)-i)
		order[i], order[j] = order[j], order[i]
		pool := pools[order[i]]
		words[i] = pool[randomIndex(len(pool))]
	}
	return strings.Join(words, "-")
}

// randomIndex returns a cryptographically secure index in [0, n).
func randomIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return int(v.Int64())
}
