package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cardarena/arena-server-go/internal/game/mana"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" database/sql driver
)

// Schema creates the catalog tables. It is valid for both SQLite and Postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS cards (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	kind        TEXT NOT NULL,
	color       TEXT NOT NULL,
	speed       TEXT NOT NULL DEFAULT 'normal',
	energy_cost INTEGER NOT NULL DEFAULT 0,
	mana_cost   TEXT NOT NULL DEFAULT '{}',
	attack      INTEGER NOT NULL DEFAULT 0,
	health      INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS abilities (
	card_id     TEXT NOT NULL,
	slot        TEXT NOT NULL DEFAULT 'ability',
	position    INTEGER NOT NULL DEFAULT 0,
	id          TEXT NOT NULL,
	kind        TEXT NOT NULL,
	damage_type TEXT NOT NULL DEFAULT '',
	magnitude   INTEGER NOT NULL DEFAULT 0,
	duration    INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT '',
	stat        TEXT NOT NULL DEFAULT '',
	color       TEXT NOT NULL DEFAULT '',
	target_side  TEXT NOT NULL DEFAULT 'none',
	target_scope TEXT NOT NULL DEFAULT 'combatant',
	energy_cost INTEGER NOT NULL DEFAULT 0,
	mana_cost   TEXT NOT NULL DEFAULT '{}',
	charge_cost INTEGER NOT NULL DEFAULT 0,
	cooldown    INTEGER NOT NULL DEFAULT 0,
	hidden      BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (card_id, slot, position)
);
CREATE TABLE IF NOT EXISTS arenas (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	affinity  TEXT NOT NULL DEFAULT '',
	modifiers TEXT NOT NULL DEFAULT '[]'
);
`

// File is the JSON layout read by LoadFile.
type File struct {
	Cards  []CardDefinition  `json:"cards"`
	Arenas []ArenaDefinition `json:"arenas"`
}

// LoadFile reads a JSON catalog file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", path, err)
	}
	return New(f.Cards, f.Arenas)
}

// Open connects to a catalog database. driver is "sqlite3" or "pgx".
func Open(driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case "sqlite3", "pgx":
	default:
		return nil, fmt.Errorf("unsupported catalog driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping catalog database: %w", err)
	}
	return db, nil
}

type cardRow struct {
	ID         string `db:"id"`
	Name       string `db:"name"`
	Kind       string `db:"kind"`
	Color      string `db:"color"`
	Speed      string `db:"speed"`
	EnergyCost int    `db:"energy_cost"`
	ManaCost   string `db:"mana_cost"`
	Attack     int    `db:"attack"`
	Health     int    `db:"health"`
}

type abilityRow struct {
	CardID      string `db:"card_id"`
	Slot        string `db:"slot"`
	Position    int    `db:"position"`
	ID          string `db:"id"`
	Kind        string `db:"kind"`
	DamageType  string `db:"damage_type"`
	Magnitude   int    `db:"magnitude"`
	Duration    int    `db:"duration"`
	Status      string `db:"status"`
	Stat        string `db:"stat"`
	Color       string `db:"color"`
	TargetSide  string `db:"target_side"`
	TargetScope string `db:"target_scope"`
	EnergyCost  int    `db:"energy_cost"`
	ManaCost    string `db:"mana_cost"`
	ChargeCost  int    `db:"charge_cost"`
	Cooldown    int    `db:"cooldown"`
	Hidden      bool   `db:"hidden"`
}

type arenaRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	Affinity  string `db:"affinity"`
	Modifiers string `db:"modifiers"`
}

// LoadSQL reads the catalog tables and validates the result.
func LoadSQL(ctx context.Context, db *sqlx.DB) (*Catalog, error) {
	var cardRows []cardRow
	if err := db.SelectContext(ctx, &cardRows, `SELECT id, name, kind, color, speed, energy_cost, mana_cost, attack, health FROM cards ORDER BY id`); err != nil {
		return nil, fmt.Errorf("select cards: %w", err)
	}
	var abilityRows []abilityRow
	if err := db.SelectContext(ctx, &abilityRows, `SELECT card_id, slot, position, id, kind, damage_type, magnitude, duration, status, stat, color,
		target_side, target_scope, energy_cost, mana_cost, charge_cost, cooldown, hidden
		FROM abilities ORDER BY card_id, slot, position`); err != nil {
		return nil, fmt.Errorf("select abilities: %w", err)
	}
	var arenaRows []arenaRow
	if err := db.SelectContext(ctx, &arenaRows, `SELECT id, name, affinity, modifiers FROM arenas ORDER BY id`); err != nil {
		return nil, fmt.Errorf("select arenas: %w", err)
	}

	cards := make([]CardDefinition, 0, len(cardRows))
	index := make(map[string]int, len(cardRows))
	for _, row := range cardRows {
		cost, err := parseCost(row.ManaCost)
		if err != nil {
			return nil, fmt.Errorf("card %s: %w", row.ID, err)
		}
		index[row.ID] = len(cards)
		cards = append(cards, CardDefinition{
			ID:         row.ID,
			Name:       row.Name,
			Kind:       CardKind(row.Kind),
			Color:      mana.Color(row.Color),
			Speed:      Speed(row.Speed),
			EnergyCost: row.EnergyCost,
			ManaCost:   cost,
			Attack:     row.Attack,
			Health:     row.Health,
		})
	}

	for _, row := range abilityRows {
		i, ok := index[row.CardID]
		if !ok {
			return nil, fmt.Errorf("ability %s references unknown card %s", row.ID, row.CardID)
		}
		cost, err := parseCost(row.ManaCost)
		if err != nil {
			return nil, fmt.Errorf("ability %s: %w", row.ID, err)
		}
		ability := AbilityDefinition{
			ID:         row.ID,
			Kind:       AbilityKind(row.Kind),
			DamageType: DamageType(row.DamageType),
			Magnitude:  row.Magnitude,
			Duration:   row.Duration,
			Status:     StatusKind(row.Status),
			Stat:       Stat(row.Stat),
			Color:      mana.Color(row.Color),
			Target:     TargetRule{Side: TargetSide(row.TargetSide), Scope: TargetScope(row.TargetScope)},
			EnergyCost: row.EnergyCost,
			ManaCost:   cost,
			ChargeCost: row.ChargeCost,
			Cooldown:   row.Cooldown,
			Hidden:     row.Hidden,
		}
		switch row.Slot {
		case "ability":
			cards[i].Abilities = append(cards[i].Abilities, ability)
		case "ultimate":
			cards[i].Ultimate = &ability
		default:
			return nil, fmt.Errorf("ability %s: unknown slot %q", row.ID, row.Slot)
		}
	}

	arenas := make([]ArenaDefinition, 0, len(arenaRows))
	for _, row := range arenaRows {
		var mods []ArenaModifier
		if row.Modifiers != "" {
			if err := json.Unmarshal([]byte(row.Modifiers), &mods); err != nil {
				return nil, fmt.Errorf("arena %s: parse modifiers: %w", row.ID, err)
			}
		}
		arenas = append(arenas, ArenaDefinition{
			ID:        row.ID,
			Name:      row.Name,
			Affinity:  mana.Color(row.Affinity),
			Modifiers: mods,
		})
	}

	return New(cards, arenas)
}

func parseCost(raw string) (mana.Cost, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var cost mana.Cost
	if err := json.Unmarshal([]byte(raw), &cost); err != nil {
		return nil, fmt.Errorf("parse mana cost: %w", err)
	}
	return cost, nil
}
