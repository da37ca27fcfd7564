// Package secrets resolves the secret values that a workflow declares, and
// keeps them out of anything the runner prints.
package secrets

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// Resolve assembles the run environment from the process environment 'base'
// (as returned by os.Environ), then any dotenv files, then explicit KEY=VAL
// overrides.  Later sources win.
func Resolve(base []string, files []string, overrides []string) (map[string]string, error) {
	env := make(map[string]string, len(base))
	for _, kv := range base {
		key, val, _ := strings.Cut(kv, "=")
		env[key] = val
	}
	if len(files) > 0 {
		fileEnv, err := godotenv.Read(files...)
		if err != nil {
			return nil, err
		}
		for key, val := range fileEnv {
			env[key] = val
		}
	}
	for _, kv := range overrides {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid environment override %q (expected KEY=VAL)", kv)
		}
		env[key] = val
	}
	return env, nil
}

// Store holds the resolved values of a workflow's declared secrets.
type Store struct {
	values map[string]string
}

// FromEnv selects the named secrets from the environment, failing if any are
// absent or empty.  A nil Store is valid and holds no secrets.
func FromEnv(env map[string]string, names []string) (*Store, error) {
	var missing []string
	values := make(map[string]string, len(names))
	for _, name := range names {
		val := env[name]
		if val == "" {
			missing = append(missing, name)
			continue
		}
		values[name] = val
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing secrets: %s (set them in the environment or an --env-file)",
			strings.Join(missing, ", "))
	}
	return &Store{values: values}, nil
}

// Get returns the value of a named secret.
func (s *Store) Get(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	val, ok := s.values[name]
	return val, ok
}

// Names returns the sorted names of the secrets in the store.
func (s *Store) Names() []string {
	if s == nil {
		return nil
	}
	ret := make([]string, 0, len(s.values))
	for name := range s.values {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

func (s *Store) valueList() []string {
	if s == nil {
		return nil
	}
	ret := make([]string, 0, len(s.values))
	for _, val := range s.values {
		ret = append(ret, val)
	}
	return ret
}

// Redact replaces every secret value occurring in 'str' with the mask.
func (s *Store) Redact(str string) string {
	for _, val := range s.valueList() {
		str = strings.ReplaceAll(str, val, mask)
	}
	return str
}
