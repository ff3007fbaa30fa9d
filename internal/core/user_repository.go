package core

import (
	"sync"

	"github.com/jmoiron/sqlx"
)

// UsersRepository is the Postgres-backed directory used when the relay
// runs against the suite's database.
type UsersRepository struct {
	db *sqlx.DB
}

func NewUsersRepository(db *sqlx.DB) *UsersRepository {
	return &UsersRepository{
		db: db,
	}
}

func (r *UsersRepository) Find(id UserID) (*User, error) {
	user := &User{}

	err := r.db.Get(user, `SELECT id, name, avatar_url, created_at FROM users WHERE id = $1 LIMIT 1`, string(id))
	if err != nil {
		return nil, err
	}

	return user, nil
}

// MemoryDirectory is the in-memory directory used by standalone relays
// and by tests. Unknown users resolve to a bare entry so that an
// incoming call from an unsynced user still renders.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[UserID]*User
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users: make(map[UserID]*User),
	}
}

func (d *MemoryDirectory) Put(user *User) {
	d.mu.Lock()
	d.users[user.ID] = user
	d.mu.Unlock()
}

func (d *MemoryDirectory) Find(id UserID) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if user, ok := d.users[id]; ok {
		return user, nil
	}

	return &User{ID: id, Name: string(id)}, nil
}
