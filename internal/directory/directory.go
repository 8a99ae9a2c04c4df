// Package directory keeps the in-memory registry of users addressed by
// numeric id for the HTTP registration and login routes.
package directory

import (
	"slices"
	"sync"
)

// User is a registered user.
type User struct {
	ID        int    `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Directory stores users in memory. Ids are assigned sequentially from 1.
// A Directory is safe for concurrent use.
type Directory struct {
	mu     sync.RWMutex
	users  map[int]User
	nextID int
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{users: make(map[int]User)}
}

// Add registers a user and returns it with its assigned id. Names are not
// required to be unique.
func (d *Directory) Add(firstName, lastName string) User {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	u := User{ID: d.nextID, FirstName: firstName, LastName: lastName}
	d.users[u.ID] = u
	return u
}

// Get looks a user up by id.
func (d *Directory) Get(id int) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	return u, ok
}

// Login returns the lowest-id user whose names match exactly.
func (d *Directory) Login(firstName, lastName string) (User, bool) {
	for _, u := range d.All() {
		if u.FirstName == firstName && u.LastName == lastName {
			return u, true
		}
	}
	return User{}, false
}

// All returns every user ordered by id.
func (d *Directory) All() []User {
	d.mu.RLock()
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b User) int { return a.ID - b.ID })
	return out
}

// Len returns the number of registered users.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}
