package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"mailtally/internal/model"
)

// readCredential loads the token file. A missing file returns (nil, nil).
func readCredential(path string) (*model.Credential, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var cred model.Credential
	if err := json.NewDecoder(f).Decode(&cred); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &cred, nil
}

// saveCredential writes the token file via tmp + rename. The file gets the
// process's default permissions.
func saveCredential(path string, cred model.Credential) error {
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cred); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
