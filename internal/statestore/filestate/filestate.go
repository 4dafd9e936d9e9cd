// Package filestate stores the dedup state as a JSON file under the XDG state
// directory. This is the default backend: no daemon to reach, survives
// reboots, and the file itself is readable as a log of last-seen dates.
package filestate

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

const stateFileName = "onex-track.json"

type Store struct {
	path string
}

func New(path string) *Store {
	if path == "" {
		path = DefaultPath()
	}
	return &Store{path: path}
}

// DefaultPath resolves the state file location: $XDG_STATE_HOME, falling back
// to ~/.local/state.
func DefaultPath() string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, stateFileName)
}

func (s *Store) Path() string { return s.path }

func (s *Store) Load(ctx context.Context) (map[string]string, error) {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read state file")
	}

	var state map[string]string
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, errors.Wrapf(err, "parse state file %s", s.path)
	}
	if state == nil {
		state = map[string]string{}
	}
	return state, nil
}

func (s *Store) Save(ctx context.Context, state map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "create state dir")
	}
	if err := os.WriteFile(s.path, encodeState(state), 0o644); err != nil {
		return errors.Wrap(err, "write state file")
	}
	return nil
}

// encodeState renders the map as an indented JSON object with entries ordered
// by date value, so the file reads as a timeline.
func encodeState(state map[string]string) []byte {
	type entry struct{ k, v string }
	entries := make([]entry, 0, len(state))
	for k, v := range state {
		entries = append(entries, entry{k, v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].v != entries[j].v {
			return entries[i].v < entries[j].v
		}
		return entries[i].k < entries[j].k
	})

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString("\n  ")
		k, _ := json.Marshal(e.k)
		v, _ := json.Marshal(e.v)
		buf.Write(k)
		buf.WriteString(": ")
		buf.Write(v)
	}
	if len(entries) > 0 {
		buf.WriteByte('\n')
	}
	buf.WriteByte('}')
	return buf.Bytes()
}
