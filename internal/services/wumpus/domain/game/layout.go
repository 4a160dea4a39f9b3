package game

import "fmt"

// Rand is the randomness the game consumes. *math/rand.Rand satisfies it;
// tests supply scripted sequences.
type Rand interface {
	// Intn returns a value in [0, n).
	Intn(n int) int
}

// Layout places the player and every hazard in the cave.
type Layout struct {
	Player int
	Wumpus int
	Pit1   int
	Pit2   int
	Bat1   int
	Bat2   int
}

// RandomLayout samples six distinct rooms uniformly at random.
func RandomLayout(rng Rand) Layout {
	rooms := make([]int, RoomCount)
	for i := range rooms {
		rooms[i] = i + 1
	}
	// Partial Fisher-Yates: the first six slots become the sample.
	for i := 0; i < 6; i++ {
		j := i + rng.Intn(RoomCount-i)
		rooms[i], rooms[j] = rooms[j], rooms[i]
	}
	return Layout{
		Player: rooms[0],
		Wumpus: rooms[1],
		Pit1:   rooms[2],
		Pit2:   rooms[3],
		Bat1:   rooms[4],
		Bat2:   rooms[5],
	}
}

func (l Layout) isPit(room int) bool { return room == l.Pit1 || room == l.Pit2 }

func (l Layout) isBat(room int) bool { return room == l.Bat1 || room == l.Bat2 }

func (l Layout) String() string {
	return fmt.Sprintf("player=%d, wumpus=%d, pits=(%s), bats=(%s)",
		l.Player, l.Wumpus, pair(l.Pit1, l.Pit2), pair(l.Bat1, l.Bat2))
}

func pair(a, b int) string {
	switch {
	case a == b:
		return fmt.Sprint(a)
	case a > b:
		a, b = b, a
	}
	return fmt.Sprintf("%d,%d", a, b)
}
