// Package secrets loads the passphrases kept in the user's secrets file. They are used
// to encrypt job definitions stored in S3 and as SSH passwords referenced by id from a
// job.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type ErrNoSecretsFile struct {
	file string
}

func (e *ErrNoSecretsFile) Error() string {
	return fmt.Sprintf("secrets file not found: %s", e.file)
}

type ErrPermissionsTooOpen struct {
	msg string
}

func (e *ErrPermissionsTooOpen) Error() string {
	return e.msg
}

type ErrNoSecretsFound struct {
	file string
}

func (e *ErrNoSecretsFound) Error() string {
	return fmt.Sprintf("no secrets found in '%s'", e.file)
}

type ErrNoSuchSecret struct {
	id string
}

func (e *ErrNoSuchSecret) Error() string {
	return fmt.Sprintf("no secret with id '%s'", e.id)
}

// Secrets holds passphrases by id, in the order they appear in the file.
type Secrets struct {
	ids         []string
	passphrases map[string]string
}

// DefaultFile is ~/.sshsync/secrets.yml.
func DefaultFile() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return filepath.Join(u.HomeDir, ".sshsync", "secrets.yml"), nil
}

// Load reads a secrets file; "default" selects DefaultFile. The file is refused if it is
// accessible by group or other.
func Load(secretsFile string) (*Secrets, error) {
	if secretsFile == "default" {
		var err error
		secretsFile, err = DefaultFile()
		if err != nil {
			return nil, err
		}
	}

	// check the file permissions
	info, err := os.Stat(secretsFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ErrNoSecretsFile{file: secretsFile}
		}
		return nil, err
	}
	perms := info.Mode().Perm()
	if perms&0077 != 0 {
		return nil, &ErrPermissionsTooOpen{
			msg: fmt.Sprintf("permissions on secrets file are too open: %#o", perms),
		}
	}

	data, err := os.ReadFile(secretsFile)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Id         string
		Passphrase string
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", secretsFile, err)
	}

	if len(raw) == 0 {
		return nil, &ErrNoSecretsFound{file: secretsFile}
	}

	sec := Secrets{
		passphrases: make(map[string]string),
	}
	for _, entry := range raw {
		if _, ok := sec.passphrases[entry.Id]; !ok {
			sec.ids = append(sec.ids, entry.Id)
		}
		sec.passphrases[entry.Id] = entry.Passphrase
	}

	return &sec, nil
}

// Latest returns the last secret in the file; new encryptions use it.
func (s *Secrets) Latest() (string, string, bool) {
	if s == nil || len(s.ids) == 0 {
		return "", "", false
	}
	id := s.ids[len(s.ids)-1]
	return id, s.passphrases[id], true
}

func (s *Secrets) Passphrase(id string) (string, error) {
	if s != nil {
		if passphrase, ok := s.passphrases[id]; ok {
			return passphrase, nil
		}
	}
	return "", &ErrNoSuchSecret{id: id}
}
