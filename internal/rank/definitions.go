// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package rank

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// allPermissions is the wildcard accepted in a permission list.
const allPermissions = "*"

// Definitions is the declarative form of a rank set, highest rank first.
type Definitions struct {
	Default string       `yaml:"default,omitempty"`
	Ranks   []Definition `yaml:"ranks"`
	// Legacy maps ids of deleted ranks to the name of their replacement.
	Legacy map[string]string `yaml:"legacy,omitempty"`
}

// Definition describes a single rank. Limits map a permission name to the
// name of the highest rank it may target.
type Definition struct {
	Name        string            `yaml:"name"`
	ID          string            `yaml:"id,omitempty"`
	Prefix      string            `yaml:"prefix,omitempty"`
	Color       string            `yaml:"color,omitempty"`
	LegacyLevel int               `yaml:"legacy_level"`
	Permissions []string          `yaml:"permissions,omitempty"`
	Limits      map[string]string `yaml:"limits,omitempty"`

	DrawLimit        int           `yaml:"draw_limit,omitempty"`
	FillLimit        int           `yaml:"fill_limit,omitempty"`
	CopySlots        int           `yaml:"copy_slots,omitempty"`
	AntiGriefBlocks  int           `yaml:"anti_grief_blocks,omitempty"`
	AntiGriefSeconds int           `yaml:"anti_grief_seconds,omitempty"`
	IdleKickTimeout  time.Duration `yaml:"idle_kick_timeout,omitempty"`

	ReservedSlot               bool `yaml:"reserved_slot,omitempty"`
	AllowSecurityCircumvention bool `yaml:"allow_security_circumvention,omitempty"`
}

// ParseDefinitions decodes a YAML rank definitions document.
func ParseDefinitions(data []byte) (*Definitions, error) {
	if len(data) == 0 {
		return nil, oops.In("rank").Code(CodeInvalidDefinitions).Errorf("rank definitions are empty")
	}
	var d Definitions
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, oops.In("rank").Code(CodeInvalidDefinitions).Wrapf(err, "invalid YAML")
	}
	return &d, nil
}

// LoadDefinitions reads a rank definitions file.
func LoadDefinitions(path string) (*Definitions, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, oops.In("rank").With("path", path).Wrapf(err, "read rank definitions")
	}
	d, err := ParseDefinitions(data)
	if err != nil {
		return nil, oops.In("rank").With("path", path).Wrap(err)
	}
	return d, nil
}

// Save writes the definitions to path, replacing any existing file only
// after the new content is fully written.
func (d *Definitions) Save(path string) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return oops.In("rank").Wrapf(err, "encode rank definitions")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return oops.In("rank").With("path", path).Wrapf(err, "create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // already renamed on success

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return oops.In("rank").With("path", path).Wrapf(err, "write rank definitions")
	}
	if err := tmp.Close(); err != nil {
		return oops.In("rank").With("path", path).Wrapf(err, "close rank definitions")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return oops.In("rank").With("path", path).Wrapf(err, "replace rank definitions")
	}
	return nil
}

// Build assembles a Model. Every problem found is reported in one error.
// Definitions without an id are given a fresh one, written back to d so the
// caller can persist it.
func (d *Definitions) Build() (*Model, error) {
	if len(d.Ranks) == 0 {
		return nil, oops.In("rank").Code(CodeInvalidDefinitions).Errorf("at least one rank must be defined")
	}

	var problems []string
	m := NewModel()
	built := make([]*Rank, len(d.Ranks))
	for i := range d.Ranks {
		def := &d.Ranks[i]
		if def.ID == "" {
			def.ID = NewID()
		}
		r := New(def.Name, def.ID)
		r.Prefix = def.Prefix
		r.Color = def.Color
		r.LegacyLevel = def.LegacyLevel
		r.DrawLimit = def.DrawLimit
		r.FillLimit = def.FillLimit
		r.CopySlots = def.CopySlots
		r.AntiGriefBlocks = def.AntiGriefBlocks
		r.AntiGriefSeconds = def.AntiGriefSeconds
		r.IdleKickTimeout = def.IdleKickTimeout
		r.ReservedSlot = def.ReservedSlot
		r.AllowSecurityCircumvention = def.AllowSecurityCircumvention

		if def.LegacyLevel < 0 || def.LegacyLevel > 255 {
			problems = append(problems, "rank "+def.Name+": legacy_level must be between 0 and 255")
		}
		for _, name := range def.Permissions {
			if name == allPermissions {
				r.Grant(AllPermissions()...)
				continue
			}
			p, ok := ParsePermission(name)
			if !ok {
				problems = append(problems, "rank "+def.Name+": unknown permission "+name)
				continue
			}
			r.Grant(p)
		}
		if err := m.AddRank(r); err != nil {
			problems = append(problems, err.Error())
			continue
		}
		built[i] = r
	}

	for i, def := range d.Ranks {
		r := built[i]
		if r == nil {
			continue
		}
		for permName, limitName := range def.Limits {
			p, ok := ParsePermission(permName)
			if !ok || !p.Limitable() {
				problems = append(problems, "rank "+def.Name+": permission "+permName+" cannot be limited")
				continue
			}
			limit := m.FindRankByID(limitName)
			if limit == nil {
				limit = m.byNameExact(limitName)
			}
			if limit == nil {
				problems = append(problems, "rank "+def.Name+": limit for "+permName+" names unknown rank "+limitName)
				continue
			}
			r.SetLimit(p, limit)
		}
	}

	for oldID, name := range d.Legacy {
		if err := m.AddLegacyMapping(oldID, m.byNameExact(name)); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if d.Default != "" {
		if err := m.SetDefaultRank(m.byNameExact(d.Default)); err != nil {
			problems = append(problems, "default rank "+d.Default+" is not defined")
		}
	}

	if len(problems) > 0 {
		return nil, oops.In("rank").
			Code(CodeInvalidDefinitions).
			With("problems", problems).
			Errorf("invalid rank definitions: %s", strings.Join(problems, "; "))
	}
	return m, nil
}

func (m *Model) byNameExact(name string) *Rank {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byName[foldName(name)]
}

// DefinitionsFromModel captures the current state of m.
func DefinitionsFromModel(m *Model) *Definitions {
	ranks := m.Ranks()
	d := &Definitions{Ranks: make([]Definition, 0, len(ranks))}
	if def := m.DefaultRank(); def != nil {
		d.Default = def.Name()
	}
	for _, r := range ranks {
		def := Definition{
			Name:                       r.name,
			ID:                         r.id,
			Prefix:                     r.Prefix,
			Color:                      r.Color,
			LegacyLevel:                r.LegacyLevel,
			DrawLimit:                  r.DrawLimit,
			FillLimit:                  r.FillLimit,
			CopySlots:                  r.CopySlots,
			AntiGriefBlocks:            r.AntiGriefBlocks,
			AntiGriefSeconds:           r.AntiGriefSeconds,
			IdleKickTimeout:            r.IdleKickTimeout,
			ReservedSlot:               r.ReservedSlot,
			AllowSecurityCircumvention: r.AllowSecurityCircumvention,
		}
		for _, p := range r.Permissions() {
			def.Permissions = append(def.Permissions, p.String())
		}
		for p := range r.limits {
			limit := m.Limit(r, p)
			if def.Limits == nil {
				def.Limits = make(map[string]string)
			}
			def.Limits[p.String()] = limit.name
		}
		d.Ranks = append(d.Ranks, def)
	}
	for oldID, newID := range m.LegacyMapping() {
		if r := m.FindRankByID(newID); r != nil {
			if d.Legacy == nil {
				d.Legacy = make(map[string]string)
			}
			d.Legacy[oldID] = r.name
		}
	}
	return d
}

// DefaultDefinitions returns the five-tier rank set used when no rank
// definitions have been configured. Its ids are fixed so records saved
// against the built-in set resolve on every start.
func DefaultDefinitions() *Definitions {
	return &Definitions{
		Default: "guest",
		Ranks: []Definition{
			{
				Name:                       "owner",
				ID:                         "builtin-owner",
				Prefix:                     "+",
				Color:                      "&c",
				LegacyLevel:                100,
				Permissions:                []string{allPermissions},
				CopySlots:                  5,
				ReservedSlot:               true,
				AllowSecurityCircumvention: true,
			},
			{
				Name:        "op",
				ID:          "builtin-op",
				Prefix:      "-",
				Color:       "&9",
				LegacyLevel: 80,
				Permissions: []string{
					"chat", "build", "delete", "draw", "copy_and_paste", "say",
					"use_color_codes", "read_staff_chat", "kick", "ban", "ban_ip",
					"promote", "demote", "freeze", "mute", "hide", "spectate",
					"teleport", "bring", "patrol", "bypass_anti_grief",
				},
				Limits: map[string]string{
					"promote": "builder",
					"demote":  "builder",
					"ban":     "builder",
					"ban_ip":  "builder",
				},
				CopySlots:       3,
				IdleKickTimeout: 2 * time.Hour,
				ReservedSlot:    true,
			},
			{
				Name:             "builder",
				ID:               "builtin-builder",
				Color:            "&2",
				LegacyLevel:      30,
				Permissions:      []string{"chat", "build", "delete", "draw", "copy_and_paste", "teleport"},
				DrawLimit:        16384,
				FillLimit:        4096,
				CopySlots:        2,
				AntiGriefBlocks:  70,
				AntiGriefSeconds: 6,
				IdleKickTimeout:  time.Hour,
			},
			{
				Name:             "regular",
				ID:               "builtin-regular",
				Color:            "&f",
				LegacyLevel:      15,
				Permissions:      []string{"chat", "build", "delete", "draw"},
				DrawLimit:        4096,
				FillLimit:        1024,
				CopySlots:        1,
				AntiGriefBlocks:  47,
				AntiGriefSeconds: 6,
				IdleKickTimeout:  30 * time.Minute,
			},
			{
				Name:             "guest",
				ID:               "builtin-guest",
				Color:            "&7",
				LegacyLevel:      0,
				Permissions:      []string{"chat", "build", "delete"},
				AntiGriefBlocks:  37,
				AntiGriefSeconds: 5,
				IdleKickTimeout:  20 * time.Minute,
			},
		},
	}
}
