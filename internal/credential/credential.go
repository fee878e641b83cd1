// Package credential keeps the mailbox secret in the OS keyring.
package credential

import (
	"errors"
	"fmt"
	"github.com/zalando/go-keyring"
)

const Service = "mailcmd"

var ErrNotFound = errors.New("no secret stored")

type Store struct {
	service string
}

func NewStore() *Store {
	return &Store{service: Service}
}

// Lookup returns the stored secret for user.
func (s *Store) Lookup(user string) (string, error) {
	secret, err := keyring.Get(s.service, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w for %s", ErrNotFound, user)
	}
	if err != nil {
		return "", fmt.Errorf("could not read keyring: %w", err)
	}
	return secret, nil
}

func (s *Store) Save(user, secret string) error {
	if err := keyring.Set(s.service, user, secret); err != nil {
		return fmt.Errorf("could not write keyring: %w", err)
	}
	return nil
}

func (s *Store) Delete(user string) error {
	err := keyring.Delete(s.service, user)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("could not delete from keyring: %w", err)
	}
	return nil
}
