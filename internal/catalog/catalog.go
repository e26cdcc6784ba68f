package catalog

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// Catalog is the read-only set of card and arena definitions shared by every
// match. It is immutable after New returns and safe for concurrent reads.
type Catalog struct {
	cards  map[string]*CardDefinition
	arenas map[string]*ArenaDefinition
}

// New validates the definitions and builds a catalog. Every problem found is
// reported, not just the first.
func New(cards []CardDefinition, arenas []ArenaDefinition) (*Catalog, error) {
	c := &Catalog{
		cards:  make(map[string]*CardDefinition, len(cards)),
		arenas: make(map[string]*ArenaDefinition, len(arenas)),
	}

	var errs error
	for i := range cards {
		card := cards[i]
		if err := validateCard(&card); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if _, dup := c.cards[card.ID]; dup {
			errs = multierr.Append(errs, fmt.Errorf("card %s: duplicate id", card.ID))
			continue
		}
		c.cards[card.ID] = &card
	}
	for i := range arenas {
		arena := arenas[i]
		if err := validateArena(&arena); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if _, dup := c.arenas[arena.ID]; dup {
			errs = multierr.Append(errs, fmt.Errorf("arena %s: duplicate id", arena.ID))
			continue
		}
		c.arenas[arena.ID] = &arena
	}
	if len(c.arenas) == 0 && errs == nil {
		errs = fmt.Errorf("catalog has no arenas")
	}
	if errs != nil {
		return nil, &InvalidError{Problems: multierr.Errors(errs)}
	}
	return c, nil
}

// Card returns a card definition.
func (c *Catalog) Card(id string) (*CardDefinition, bool) {
	card, ok := c.cards[id]
	return card, ok
}

// Arena returns an arena definition.
func (c *Catalog) Arena(id string) (*ArenaDefinition, bool) {
	arena, ok := c.arenas[id]
	return arena, ok
}

// CardIDs returns all card ids sorted.
func (c *Catalog) CardIDs() []string {
	ids := make([]string, 0, len(c.cards))
	for id := range c.cards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ArenaIDs returns all arena ids sorted.
func (c *Catalog) ArenaIDs() []string {
	ids := make([]string, 0, len(c.arenas))
	for id := range c.arenas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// InvalidError lists every problem found while validating catalog data.
type InvalidError struct {
	Problems []error
}

func (e *InvalidError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.Error()
	}
	return fmt.Sprintf("invalid catalog (%d problems): %s", len(e.Problems), strings.Join(parts, "; "))
}

func (e *InvalidError) Unwrap() []error {
	return e.Problems
}
