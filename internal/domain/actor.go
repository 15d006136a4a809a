package domain

import "strings"

// ActorRole различает роли бэк-офиса, работающие со счетами.
type ActorRole string

const (
	ActorRoleWorker    ActorRole = "worker"
	ActorRoleTechnical ActorRole = "technical"
	ActorRoleAdmin     ActorRole = "admin"
	ActorRoleSystem    ActorRole = "system"
)

// Actor описывает вызывающего, от имени которого выполняется операция. Всегда передаётся явно.
type Actor struct {
	ID   string
	Role ActorRole
}

// SystemActor используется фоновым восстановлением.
var SystemActor = Actor{ID: "system", Role: ActorRoleSystem}

// Authenticated сообщает, есть ли у actor идентификатор.
func (a Actor) Authenticated() bool {
	return strings.TrimSpace(a.ID) != ""
}
