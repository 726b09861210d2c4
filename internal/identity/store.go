package identity

import (
	"context"
	"fmt"

	"github.com/cgduncan7/autobaan/internal/db"
)

// Identity is one member account on the booking site.
type Identity struct {
	OwnerID  string
	Username string
	Password string
}

type Store struct {
	db     *db.DB
	cipher *Cipher
}

func NewStore(d *db.DB, c *Cipher) *Store { return &Store{db: d, cipher: c} }

func (s *Store) Put(ctx context.Context, id Identity) error {
	if id.OwnerID == "" || id.Username == "" || id.Password == "" {
		return fmt.Errorf("owner id, username and password required")
	}
	enc, err := s.cipher.EncryptToString(id.Password)
	if err != nil {
		return err
	}
	return s.db.Exec(ctx, `
INSERT INTO identities (owner_id, username, password_enc) VALUES ($1,$2,$3)
ON CONFLICT (owner_id) DO UPDATE SET username=EXCLUDED.username, password_enc=EXCLUDED.password_enc, updated_at=now()`,
		id.OwnerID, id.Username, enc)
}

// Lookup returns the decrypted credentials for ownerID.
func (s *Store) Lookup(ctx context.Context, ownerID string) (Identity, error) {
	var id Identity
	var enc string
	err := s.db.QueryRow(ctx, `SELECT owner_id, username, password_enc FROM identities WHERE owner_id=$1`, ownerID).
		Scan(&id.OwnerID, &id.Username, &enc)
	if err != nil {
		return Identity{}, db.WrapNotFound(err)
	}
	id.Password, err = s.cipher.DecryptString(enc)
	if err != nil {
		return Identity{}, fmt.Errorf("decrypt password for %s: %w", ownerID, err)
	}
	return id, nil
}

func (s *Store) Exists(ctx context.Context, ownerID string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM identities WHERE owner_id=$1)`, ownerID).Scan(&ok)
	return ok, err
}
