package pong

// Snapshot is the observable state sent to players and spectators every tick.
type Snapshot struct {
	Tick    uint64       `json:"tick"`
	Players [2]Paddle    `json:"players"`
	Ball    BallPosition `json:"ball"`
}

// BallPosition omits velocity; clients only render the position.
type BallPosition struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
}

func (g *Game) Snapshot() Snapshot {
	return Snapshot{
		Tick:    g.Tick,
		Players: g.Paddles,
		Ball: BallPosition{
			X:      g.Ball.X,
			Y:      g.Ball.Y,
			Radius: g.Ball.Radius,
		},
	}
}

func (s Snapshot) Scores() [2]int {
	return [2]int{s.Players[0].Score, s.Players[1].Score}
}
