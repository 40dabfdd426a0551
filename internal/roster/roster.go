// Package roster keeps the durable admin/moderator rosters and answers
// role checks for the dialog dispatch.
package roster

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"amnezia-bot/internal/domain"
	"amnezia-bot/internal/store"
)

type Role uint8

const (
	RoleUser Role = iota
	RoleModerator
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleModerator:
		return "moderator"
	default:
		return "user"
	}
}

type entry struct {
	Role string `json:"role"`
}

type Roster struct {
	doc *store.Collection[entry]
}

// New opens the roster document and seeds the bootstrap admins when the
// roster is still empty, so a fresh install is immediately manageable.
func New(st *store.Store, bootstrap []int64) (*Roster, error) {
	r := &Roster{doc: store.NewCollection[entry](st, "roster")}
	if len(bootstrap) == 0 {
		return r, nil
	}
	err := r.doc.Update(func(m map[string]entry) error {
		if len(m) > 0 {
			return nil
		}
		for _, id := range bootstrap {
			m[key(id)] = entry{Role: RoleAdmin.String()}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to seed roster")
	}
	return r, nil
}

func key(id int64) string { return strconv.FormatInt(id, 10) }

// RoleOf resolves the role of a Telegram user id.
func (r *Roster) RoleOf(id int64) (Role, error) {
	e, ok, err := r.doc.Get(key(id))
	if err != nil {
		return RoleUser, err
	}
	if !ok {
		return RoleUser, nil
	}
	switch e.Role {
	case RoleAdmin.String():
		return RoleAdmin, nil
	case RoleModerator.String():
		return RoleModerator, nil
	}
	return RoleUser, nil
}

func (r *Roster) AddAdmin(id int64) error {
	return r.doc.Update(func(m map[string]entry) error {
		if e, ok := m[key(id)]; ok && e.Role == RoleAdmin.String() {
			return domain.Conflict("Пользователь %d уже администратор.", id)
		}
		m[key(id)] = entry{Role: RoleAdmin.String()}
		return nil
	})
}

// RemoveAdmin rejects removing the last remaining admin: the roster
// must never become empty once it is non-empty.
func (r *Roster) RemoveAdmin(id int64) error {
	return r.doc.Update(func(m map[string]entry) error {
		e, ok := m[key(id)]
		if !ok || e.Role != RoleAdmin.String() {
			return domain.NotFound("Администратор %d не найден.", id)
		}
		admins := 0
		for _, v := range m {
			if v.Role == RoleAdmin.String() {
				admins++
			}
		}
		if admins <= 1 {
			return domain.Conflict("Нельзя удалить последнего администратора.")
		}
		delete(m, key(id))
		return nil
	})
}

func (r *Roster) AddModerator(id int64) error {
	return r.doc.Update(func(m map[string]entry) error {
		if e, ok := m[key(id)]; ok {
			if e.Role == RoleAdmin.String() {
				return domain.Conflict("Пользователь %d уже администратор.", id)
			}
			return domain.Conflict("Пользователь %d уже модератор.", id)
		}
		m[key(id)] = entry{Role: RoleModerator.String()}
		return nil
	})
}

func (r *Roster) RemoveModerator(id int64) error {
	return r.doc.Update(func(m map[string]entry) error {
		e, ok := m[key(id)]
		if !ok || e.Role != RoleModerator.String() {
			return domain.NotFound("Модератор %d не найден.", id)
		}
		delete(m, key(id))
		return nil
	})
}

// Admins lists admin ids, sorted for stable notification order.
func (r *Roster) Admins() ([]int64, error) {
	m, err := r.doc.Load()
	if err != nil {
		return nil, err
	}
	var ids []int64
	for k, v := range m {
		if v.Role != RoleAdmin.String() {
			continue
		}
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
