package commands

import (
	"strings"

	"github.com/sipeed/godcmd/pkg/config"
)

// HelpText renders the command tables for a caller. Group chats get
// nothing; admins get the admin table after the user table.
func (r *Registry) HelpText(isAdmin, isGroup bool) string {
	if isGroup {
		return ""
	}
	var b strings.Builder
	b.WriteString("User commands:\n")
	writeTable(&b, r.ForTier(TierUser))
	if isAdmin {
		b.WriteString("\nAdmin commands:\n")
		writeTable(&b, r.ForTier(TierAdmin))
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeTable(b *strings.Builder, defs []Definition) {
	for _, d := range defs {
		if d.Hidden || len(d.Aliases) == 0 {
			continue
		}
		b.WriteString(config.CommandPrefix)
		b.WriteString(d.Aliases[0])
		if len(d.Args) > 0 {
			b.WriteByte(' ')
			b.WriteString(strings.Join(d.Args, " "))
		}
		b.WriteString(": ")
		b.WriteString(d.Desc)
		b.WriteByte('\n')
	}
}
