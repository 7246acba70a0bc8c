package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Key is the record name inside the store namespace.
const Key = "credentials"

// plainRecord is the alternative record layout holding the pair unencoded.
type plainRecord struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
}

// Store persists a single credential record under a namespace of a YAML
// key/value file. Other namespaces and keys in the file are preserved.
type Store struct {
	path      string
	namespace string
	mu        sync.Mutex
}

// NewStore returns a store for the given file and namespace.
func NewStore(path, namespace string) *Store {
	return &Store{path: path, namespace: namespace}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored credentials. A missing file or key yields empty
// (unprovisioned) credentials and no error; a malformed record is an error.
func (s *Store) Load() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return Credentials{}, err
	}
	node := doc[s.namespace][Key]
	if node == nil {
		return Credentials{}, nil
	}

	var c Credentials
	switch node.Kind {
	case yaml.ScalarNode:
		var blob string
		if err := node.Decode(&blob); err != nil {
			return Credentials{}, fmt.Errorf("decode %s/%s: %w", s.namespace, Key, err)
		}
		c, err = Decode(blob)
		if err != nil {
			return Credentials{}, fmt.Errorf("decode %s/%s: %w", s.namespace, Key, err)
		}
	case yaml.MappingNode:
		var rec plainRecord
		if err := node.Decode(&rec); err != nil {
			return Credentials{}, fmt.Errorf("decode %s/%s: %w", s.namespace, Key, err)
		}
		c = Credentials{SSID: rec.SSID, Password: rec.Password}
		if err := c.Validate(); err != nil {
			return Credentials{}, fmt.Errorf("decode %s/%s: %w", s.namespace, Key, err)
		}
	default:
		return Credentials{}, fmt.Errorf("decode %s/%s: %w: unexpected yaml node kind %d", s.namespace, Key, ErrMalformedBlob, node.Kind)
	}
	return c, nil
}

// Save validates c and writes it as a pairing blob. The file is replaced
// atomically, so a failed write leaves the previous record intact.
func (s *Store) Save(c Credentials) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if doc[s.namespace] == nil {
		doc[s.namespace] = map[string]*yaml.Node{}
	}
	doc[s.namespace][Key] = &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!str",
		Value: Encode(c),
		Style: yaml.DoubleQuotedStyle,
	}
	return s.write(doc)
}

// Erase removes the credential record.
func (s *Store) Erase() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := doc[s.namespace][Key]; !ok {
		return nil
	}
	delete(doc[s.namespace], Key)
	if len(doc[s.namespace]) == 0 {
		delete(doc, s.namespace)
	}
	return s.write(doc)
}

func (s *Store) read() (map[string]map[string]*yaml.Node, error) {
	doc := map[string]map[string]*yaml.Node{}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential store: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse credential store %s: %w", s.path, err)
	}
	if doc == nil {
		doc = map[string]map[string]*yaml.Node{}
	}
	return doc, nil
}

func (s *Store) write(doc map[string]map[string]*yaml.Node) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode credential store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace credential store: %w", err)
	}
	return nil
}
