package identity

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"cercasp-go/internal/cercasp"
)

// Account is one entry in the accounts file.
type Account struct {
	ID           string       `toml:"id"`
	Email        string       `toml:"email"`
	DisplayName  string       `toml:"display_name"`
	Role         cercasp.Role `toml:"role"`
	PasswordHash string       `toml:"password_hash"`
	Disabled     bool         `toml:"disabled,omitempty"`
}

func (a *Account) identity() cercasp.Identity {
	return cercasp.Identity{
		ID:          a.ID,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		Role:        a.Role,
	}
}

type accountsFile struct {
	Accounts []Account `toml:"account"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func readAccounts(r io.Reader) ([]Account, error) {
	var f accountsFile
	if _, err := toml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode accounts: %w", err)
	}
	for i, a := range f.Accounts {
		if !a.Role.Valid() {
			return nil, fmt.Errorf("account %s has unknown role %q", a.Email, a.Role)
		}
		f.Accounts[i].Email = normalizeEmail(a.Email)
	}
	return f.Accounts, nil
}

// loadAccountsFile reads path. A missing file is an empty account list.
func loadAccountsFile(path string) ([]Account, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open accounts file: %w", err)
	}
	defer f.Close()

	accounts, err := readAccounts(f)
	if err != nil {
		return nil, fmt.Errorf("reading accounts from %s: %w", path, err)
	}
	return accounts, nil
}

// saveAccountsFile replaces path atomically with mode 0600.
func saveAccountsFile(path string, accounts []Account) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create accounts directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".accounts-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set accounts file mode: %w", err)
	}
	if err := toml.NewEncoder(tmp).Encode(accountsFile{Accounts: accounts}); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode accounts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace accounts file: %w", err)
	}
	return nil
}

func sortAccounts(accounts []Account) {
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Email < accounts[j].Email })
}
