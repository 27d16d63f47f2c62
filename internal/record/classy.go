// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package record

import "strings"

// Marker colours appended to classy names.
const (
	ColorRed  = "&c"
	ColorBlue = "&9"
)

// NameStyle controls rank decoration in classy names.
type NameStyle struct {
	RankColors   bool
	RankPrefixes bool
}

// DefaultNameStyle shows rank colours but not prefixes.
var DefaultNameStyle = NameStyle{RankColors: true}

// ClassyName is the decorated display form of the player's name: rank
// colour, then either the display name or the rank prefix and name, then a
// red marker when banned and a blue one when frozen.
func (r *Record) ClassyName(style NameStyle) string {
	r.mu.RLock()
	d := &r.data
	var sb strings.Builder
	if style.RankColors && d.Rank != nil {
		sb.WriteString(d.Rank.Color)
	}
	if d.DisplayName != "" {
		sb.WriteString(d.DisplayName)
	} else {
		if style.RankPrefixes && d.Rank != nil {
			sb.WriteString(d.Rank.Prefix)
		}
		sb.WriteString(d.Name)
	}
	banned, frozen := d.BanStatus == Banned, d.IsFrozen
	r.mu.RUnlock()

	if banned {
		sb.WriteString(ColorRed + "*")
	}
	if frozen {
		sb.WriteString(ColorBlue + "*")
	}
	return sb.String()
}
