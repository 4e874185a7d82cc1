package pong

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

const (
	FieldWidth  = 800.0
	FieldHeight = 500.0

	PaddleWidth  = 10.0
	PaddleHeight = 60.0
	PaddleStep   = 10.0
	PaddleStartY = 200.0

	BallRadius = 10.0
	// BaseSpeed is the ball displacement per tick at speed multiplier 1.
	BaseSpeed = 5.0

	DefaultScoreLimit = 5
)

// paddleX holds the left edge of each slot's paddle.
var paddleX = [2]float64{90, 690}

const (
	maxBounceAngle = math.Pi / 4
	maxServeAngle  = math.Pi / 6
)

var ErrSpeedLocked = errors.New("speed is fixed once the game has started")

type Direction int8

const (
	None Direction = 0
	Up   Direction = -1
	Down Direction = 1
)

func ParseDirection(s string) (Direction, error) {
	switch s {
	case "up":
		return Up, nil
	case "down":
		return Down, nil
	}
	return None, fmt.Errorf("unknown direction %q", s)
}

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	}
	return "none"
}

type Paddle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Score  int     `json:"score"`
}

func (p Paddle) Center() float64 { return p.Y + p.Height/2 }

type Ball struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
	DX     float64 `json:"dx"`
	DY     float64 `json:"dy"`
}

// Game is one authoritative match. It is not safe for concurrent use; the
// owning room serializes every call.
type Game struct {
	Paddles    [2]Paddle
	Ball       Ball
	ScoreLimit int
	Tick       uint64

	speed  float64
	winner int
	rng    *rand.Rand
}

type Option func(*Game)

func WithScoreLimit(limit int) Option {
	return func(g *Game) {
		if limit > 0 {
			g.ScoreLimit = limit
		}
	}
}

func WithSpeed(multiplier float64) Option {
	return func(g *Game) {
		if multiplier > 0 {
			g.speed = multiplier
		}
	}
}

// WithRand fixes the serve randomness, mostly for tests.
func WithRand(r *rand.Rand) Option {
	return func(g *Game) {
		g.rng = r
	}
}

func NewGame(opts ...Option) *Game {
	g := &Game{
		ScoreLimit: DefaultScoreLimit,
		speed:      1,
		winner:     -1,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		g.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	for slot := range g.Paddles {
		g.Paddles[slot] = Paddle{
			X:      paddleX[slot],
			Y:      PaddleStartY,
			Width:  PaddleWidth,
			Height: PaddleHeight,
		}
	}
	g.serve()

	return g
}

// SetSpeed changes the ball speed multiplier. Only allowed before the first tick.
func (g *Game) SetSpeed(multiplier float64) error {
	if g.Tick > 0 {
		return ErrSpeedLocked
	}
	if multiplier <= 0 || math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		return fmt.Errorf("invalid speed multiplier %v", multiplier)
	}
	g.speed = multiplier
	g.serve()
	return nil
}

func (g *Game) Speed() float64 { return g.speed }

// Winner returns the winning slot, or -1 while the game is in play.
func (g *Game) Winner() int { return g.winner }

func (g *Game) Over() bool { return g.winner >= 0 }

func (g *Game) Scores() [2]int {
	return [2]int{g.Paddles[0].Score, g.Paddles[1].Score}
}

type StepResult struct {
	Scorer int // slot that scored during the tick, -1 if none
	Winner int // slot that reached the score limit during the tick, -1 if none
}

// Step advances the game by one tick using at most one command per slot.
func (g *Game) Step(dirs [2]Direction) StepResult {
	res := StepResult{Scorer: -1, Winner: -1}
	if g.Over() {
		return res
	}
	g.Tick++

	for slot, dir := range dirs {
		g.movePaddle(slot, dir)
	}

	g.Ball.X += g.Ball.DX
	g.Ball.Y += g.Ball.DY

	g.bounceWalls()
	g.bouncePaddles()

	scorer := g.crossedGoal()
	if scorer < 0 {
		return res
	}

	res.Scorer = scorer
	g.Paddles[scorer].Score++
	g.serve()

	if g.Paddles[scorer].Score >= g.ScoreLimit {
		g.winner = scorer
		res.Winner = scorer
	}
	return res
}

func (g *Game) serve() {
	angle := (g.rng.Float64()*2 - 1) * maxServeAngle
	dir := 1.0
	if g.rng.IntN(2) == 0 {
		dir = -1
	}
	speed := g.ballSpeed()

	g.Ball = Ball{
		X:      FieldWidth / 2,
		Y:      FieldHeight / 2,
		Radius: BallRadius,
		DX:     dir * speed * math.Cos(angle),
		DY:     speed * math.Sin(angle),
	}
}

func (g *Game) ballSpeed() float64 {
	return BaseSpeed * g.speed
}
