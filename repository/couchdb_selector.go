package repository

import "github.com/keymail/go-keymail-server/types"

const (
	Challenge    = "challenges"
	User         = "users"
	Mapping      = "email_mapping"
	RefreshToken = "refresh_tokens"
	KeyBackup    = "key_backups"
	WebAuthnUser = "webauthn_users"
)

type DBSelector interface {
	AddDB(db Repository)
	ChooseDB(dbName string) (Repository, error)
}

type CouchDBSelector struct {
	dbs []Repository
}

func NewCouchDBSelector() *CouchDBSelector {
	return &CouchDBSelector{}
}

// adds a database to the database selector
func (c *CouchDBSelector) AddDB(db Repository) {
	c.dbs = append(c.dbs, db)
}

// returns the required database
func (c *CouchDBSelector) ChooseDB(dbName string) (Repository, error) {
	if len(c.dbs) == 0 {
		return nil, types.ErrNotFound
	}
	for i, r := range c.dbs {
		if r.GetDBName() == dbName {
			return c.dbs[i], nil
		}
	}
	return nil, types.ErrNotFound
}
