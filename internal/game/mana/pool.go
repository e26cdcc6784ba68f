package mana

import "sort"

// Color is a mana color. Cards have one color, and arenas may align to one.
type Color string

const (
	ColorRed   Color = "red"
	ColorBlue  Color = "blue"
	ColorGreen Color = "green"
	ColorWhite Color = "white"
	ColorBlack Color = "black"
)

// Colors lists every color in canonical order.
var Colors = []Color{ColorRed, ColorBlue, ColorGreen, ColorWhite, ColorBlack}

// Valid reports whether c is a known color.
func (c Color) Valid() bool {
	for _, known := range Colors {
		if c == known {
			return true
		}
	}
	return false
}

// Pool holds a combatant's mana by color. It is owned by a single match
// goroutine and is not safe for concurrent use.
type Pool struct {
	amounts map[Color]int
	max     int
}

// NewPool creates an empty pool. max caps every color; zero means uncapped.
func NewPool(max int) *Pool {
	return &Pool{amounts: make(map[Color]int, len(Colors)), max: max}
}

// Add adds mana of one color and returns the amount actually added.
func (p *Pool) Add(color Color, amount int) int {
	if amount <= 0 || !color.Valid() {
		return 0
	}
	current := p.amounts[color]
	next := current + amount
	if p.max > 0 && next > p.max {
		next = p.max
	}
	p.amounts[color] = next
	return next - current
}

// Get returns the amount of one color.
func (p *Pool) Get(color Color) int {
	return p.amounts[color]
}

// Spend removes mana of one color. It returns false and leaves the pool
// unchanged when there is not enough.
func (p *Pool) Spend(color Color, amount int) bool {
	if amount < 0 {
		return false
	}
	if p.amounts[color] < amount {
		return false
	}
	p.amounts[color] -= amount
	return true
}

// CanPay reports whether every color of cost is covered.
func (p *Pool) CanPay(cost Cost) bool {
	for color, amount := range cost {
		if amount < 0 || p.amounts[color] < amount {
			return false
		}
	}
	return true
}

// Pay removes cost from the pool, all or nothing.
func (p *Pool) Pay(cost Cost) bool {
	if !p.CanPay(cost) {
		return false
	}
	for color, amount := range cost {
		p.amounts[color] -= amount
	}
	return true
}

// Total returns the sum over all colors.
func (p *Pool) Total() int {
	total := 0
	for _, amount := range p.amounts {
		total += amount
	}
	return total
}

// Amounts returns a copy of the non-zero balances.
func (p *Pool) Amounts() map[Color]int {
	out := make(map[Color]int, len(p.amounts))
	for color, amount := range p.amounts {
		if amount != 0 {
			out[color] = amount
		}
	}
	return out
}

// Copy returns an independent copy of the pool.
func (p *Pool) Copy() *Pool {
	cp := NewPool(p.max)
	for color, amount := range p.amounts {
		cp.amounts[color] = amount
	}
	return cp
}

// Cost is a mana cost by color.
type Cost map[Color]int

// Total returns the converted cost.
func (c Cost) Total() int {
	total := 0
	for _, amount := range c {
		total += amount
	}
	return total
}

// SortedColors returns the colors of c in canonical order.
func (c Cost) SortedColors() []Color {
	colors := make([]Color, 0, len(c))
	for color := range c {
		colors = append(colors, color)
	}
	sort.Slice(colors, func(i, j int) bool { return colorIndex(colors[i]) < colorIndex(colors[j]) })
	return colors
}

func colorIndex(c Color) int {
	for i, known := range Colors {
		if c == known {
			return i
		}
	}
	return len(Colors)
}
