// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package rank

import "strings"

// Permission is a capability a rank may hold.
type Permission uint8

// Capabilities known to the server. The numeric values are not persisted;
// rank definitions refer to permissions by name.
const (
	PermChat Permission = iota
	PermBuild
	PermDelete
	PermDraw
	PermCopyAndPaste
	PermSay
	PermUseColorCodes
	PermReadStaffChat
	PermKick
	PermBan
	PermBanIP
	PermPromote
	PermDemote
	PermFreeze
	PermMute
	PermHide
	PermSpectate
	PermTeleport
	PermBring
	PermPatrol
	PermEditPlayerDB
	PermManageWorlds
	PermShutdown
	PermBypassAntiGrief

	permissionCount
)

var permissionNames = [permissionCount]string{
	PermChat:            "chat",
	PermBuild:           "build",
	PermDelete:          "delete",
	PermDraw:            "draw",
	PermCopyAndPaste:    "copy_and_paste",
	PermSay:             "say",
	PermUseColorCodes:   "use_color_codes",
	PermReadStaffChat:   "read_staff_chat",
	PermKick:            "kick",
	PermBan:             "ban",
	PermBanIP:           "ban_ip",
	PermPromote:         "promote",
	PermDemote:          "demote",
	PermFreeze:          "freeze",
	PermMute:            "mute",
	PermHide:            "hide",
	PermSpectate:        "spectate",
	PermTeleport:        "teleport",
	PermBring:           "bring",
	PermPatrol:          "patrol",
	PermEditPlayerDB:    "edit_player_db",
	PermManageWorlds:    "manage_worlds",
	PermShutdown:        "shutdown",
	PermBypassAntiGrief: "bypass_anti_grief",
}

// limitable lists the permissions that act on another player and can
// therefore carry a per-rank ceiling.
var limitable = [permissionCount]bool{
	PermKick:     true,
	PermBan:      true,
	PermBanIP:    true,
	PermPromote:  true,
	PermDemote:   true,
	PermFreeze:   true,
	PermMute:     true,
	PermHide:     true,
	PermSpectate: true,
	PermTeleport: true,
	PermBring:    true,
}

func (p Permission) String() string {
	if p >= permissionCount {
		return "unknown"
	}
	return permissionNames[p]
}

// Limitable reports whether p accepts a permission-limit.
func (p Permission) Limitable() bool {
	return p < permissionCount && limitable[p]
}

// ParsePermission resolves a permission by its case-insensitive name.
func ParsePermission(name string) (Permission, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range permissionNames {
		if n == name {
			return Permission(i), true
		}
	}
	return 0, false
}

// AllPermissions returns every known permission in declaration order.
func AllPermissions() []Permission {
	out := make([]Permission, permissionCount)
	for i := range out {
		out[i] = Permission(i)
	}
	return out
}

// permissionSet is a bitset over Permission.
type permissionSet uint64

func (s permissionSet) has(p Permission) bool {
	return p < permissionCount && s&(1<<p) != 0
}

func (s *permissionSet) add(p Permission) {
	if p < permissionCount {
		*s |= 1 << p
	}
}

func (s *permissionSet) remove(p Permission) {
	*s &^= 1 << p
}
