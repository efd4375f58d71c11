package repository

import (
	"errors"
	"strings"
)

var ErrNotFound = errors.New("not found")

// likeEscaper экранирует спецсимволы LIKE, чтобы поиск шёл по подстроке буквально.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func containsPattern(fragment string) string {
	return "%" + likeEscaper.Replace(fragment) + "%"
}
