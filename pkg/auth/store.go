package auth

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// StaticStore is an immutable in-memory credential store.
type StaticStore struct {
	users map[string]Credential
}

// NewStaticStore validates and copies users into a new store.
func NewStaticStore(users map[string]Credential) (*StaticStore, error) {
	copied := make(map[string]Credential, len(users))
	for name, cred := range users {
		if name == "" {
			return nil, fmt.Errorf("%w: empty username", ErrInvalidCredential)
		}
		if err := cred.Validate(); err != nil {
			return nil, fmt.Errorf("user %q: %w", name, err)
		}
		copied[name] = cred
	}
	return &StaticStore{users: copied}, nil
}

// Lookup implements CredentialStore.
func (s *StaticStore) Lookup(username string) (Credential, error) {
	cred, ok := s.users[username]
	if !ok {
		return Credential{}, ErrUnknownUser
	}
	return cred, nil
}

// Usernames returns the known usernames in sorted order.
func (s *StaticStore) Usernames() []string {
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of users.
func (s *StaticStore) Len() int {
	return len(s.users)
}

// Merge returns a new store holding the users of s and other. Users in other
// win on conflict.
func (s *StaticStore) Merge(other *StaticStore) *StaticStore {
	merged := make(map[string]Credential, s.Len()+other.Len())
	for name, cred := range s.users {
		merged[name] = cred
	}
	for name, cred := range other.users {
		merged[name] = cred
	}
	return &StaticStore{users: merged}
}

// credentialFile is the on-disk layout of a credentials file:
//
//	users:
//	  alice:
//	    sha256: 2bb80d53...
//	  bob:
//	    bcrypt: $2a$10$...
//	  carol: 5e884898...   # bare string is a sha256 digest
type credentialFile struct {
	Users map[string]Credential `yaml:"users"`
}

// UnmarshalYAML accepts either a mapping or a bare sha256 hex string.
func (c *Credential) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.SHA256 = node.Value
		return nil
	}

	type plain Credential
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = Credential(p)
	return nil
}

// LoadFile reads a YAML credentials file.
func LoadFile(path string) (*StaticStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}

	var f credentialFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse credentials file %s: %w", path, err)
	}

	store, err := NewStaticStore(f.Users)
	if err != nil {
		return nil, fmt.Errorf("credentials file %s: %w", path, err)
	}
	return store, nil
}

// WriteFile writes users to path in the format LoadFile reads.
func WriteFile(path string, users map[string]Credential) error {
	data, err := yaml.Marshal(credentialFile{Users: users})
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write credentials file: %w", err)
	}
	return nil
}
