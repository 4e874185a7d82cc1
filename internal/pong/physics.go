package pong

import "math"

func (g *Game) movePaddle(slot int, dir Direction) {
	if dir == None {
		return
	}
	p := &g.Paddles[slot]
	p.Y = clamp(p.Y+float64(dir)*PaddleStep, 0, FieldHeight-p.Height)
}

func (g *Game) bounceWalls() {
	b := &g.Ball
	if b.Y-b.Radius < 0 {
		b.Y = b.Radius
		b.DY = math.Abs(b.DY)
	} else if b.Y+b.Radius > FieldHeight {
		b.Y = FieldHeight - b.Radius
		b.DY = -math.Abs(b.DY)
	}
}

// bouncePaddles reflects the ball off the first paddle it overlaps. The
// outgoing angle depends on where the ball met the paddle relative to its
// center; the speed magnitude is preserved.
func (g *Game) bouncePaddles() {
	b := &g.Ball
	for slot, p := range g.Paddles {
		if !b.hits(p) || !b.approaching(slot, p) {
			continue
		}

		offset := clamp((b.Y-p.Center())/(p.Height/2), -1, 1)
		angle := offset * maxBounceAngle
		speed := g.ballSpeed()

		if slot == 0 {
			b.DX = speed * math.Cos(angle)
			b.X = p.X + p.Width + b.Radius
		} else {
			b.DX = -speed * math.Cos(angle)
			b.X = p.X - b.Radius
		}
		b.DY = speed * math.Sin(angle)
		return
	}
}

// crossedGoal returns the slot credited with a point, or -1.
func (g *Game) crossedGoal() int {
	b := g.Ball
	switch {
	case b.X-b.Radius < 0:
		return 1
	case b.X+b.Radius > FieldWidth:
		return 0
	}
	return -1
}

func (b Ball) hits(p Paddle) bool {
	nx := clamp(b.X, p.X, p.X+p.Width)
	ny := clamp(b.Y, p.Y, p.Y+p.Height)
	dx, dy := b.X-nx, b.Y-ny
	return dx*dx+dy*dy <= b.Radius*b.Radius
}

// approaching reports whether the ball travels toward the paddle's field-facing
// side and has not already passed behind it.
func (b Ball) approaching(slot int, p Paddle) bool {
	if slot == 0 {
		return b.DX < 0 && b.X >= p.X
	}
	return b.DX > 0 && b.X <= p.X+p.Width
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
