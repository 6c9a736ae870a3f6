package db

import "strings"

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern returns a LIKE/ILIKE pattern matching s literally anywhere
// in the column. Postgres uses backslash as the default escape character.
func ContainsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
