package game

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Assignment is one player's role and alignment, set exactly once at
// startGame and never mutated afterward.
type Assignment struct {
	PlayerID  string
	RoleID    string
	Alignment Alignment
}

// AssignRoles computes a cryptographically-shuffled role assignment for
// the given seated player ids, following ComputeDistribution's counts.
func AssignRoles(playerIDs []string) ([]Assignment, error) {
	n := len(playerIDs)
	if n < 3 {
		return nil, fmt.Errorf("need at least 3 players to assign roles, got %d", n)
	}
	roleList := ComputeDistribution(n).RoleList()
	shuffled, err := shuffleStrings(roleList)
	if err != nil {
		return nil, err
	}
	assignments := make([]Assignment, n)
	for i, pid := range playerIDs {
		role := shuffled[i]
		r, _ := GetRole(role)
		assignments[i] = Assignment{PlayerID: pid, RoleID: role, Alignment: r.Alignment}
	}
	return assignments, nil
}

func shuffleStrings(items []string) ([]string, error) {
	shuffled := make([]string, len(items))
	copy(shuffled, items)
	for i := len(shuffled) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return nil, err
		}
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled, nil
}

// RandIndex returns a cryptographically random int in [0, n), for callers
// outside this package that need the same CSPRNG source (e.g. room code
// generation).
func RandIndex(n int) (int, error) { return randInt(n) }

// randInt returns a cryptographically random int in [0, n).
func randInt(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	nBig, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(nBig.Int64()), nil
}
