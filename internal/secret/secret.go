// Package secret resolves secret references from a stack spec into
// values injected as environment variables at replica start. Values
// never land in the spec, the event log, or API responses.
package secret

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/matgreaves/gantry/spec"
)

// Store resolves one secret reference to its value.
type Store interface {
	Resolve(ctx context.Context, ref spec.SecretRef) (string, error)
}

// NotFoundError reports a reference with no value in the store.
type NotFoundError struct {
	Ref spec.SecretRef
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("secret %q key %q not found", e.Ref.Name, e.Ref.Key)
}

// Env resolves references from the daemon's own environment. The
// variable name is NAME_KEY with both parts upper-cased and runs of
// non-alphanumerics collapsed to underscores, so {"agent-app", "hf_token"}
// reads AGENT_APP_HF_TOKEN.
type Env struct{}

func (Env) Resolve(_ context.Context, ref spec.SecretRef) (string, error) {
	name := envName(ref)
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", &NotFoundError{Ref: ref}
	}
	return v, nil
}

func envName(ref spec.SecretRef) string {
	return mangle(ref.Name) + "_" + mangle(ref.Key)
}

func mangle(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToUpper(s) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// Dir resolves references from a directory tree: root/<name>/<key> holds
// the value, trailing newline stripped. Suited to secrets mounted or
// written out-of-band.
type Dir struct {
	Root string
}

func (d Dir) Resolve(_ context.Context, ref spec.SecretRef) (string, error) {
	if strings.Contains(ref.Name, "..") || strings.Contains(ref.Key, "..") ||
		strings.ContainsRune(ref.Name, filepath.Separator) || strings.ContainsRune(ref.Key, filepath.Separator) {
		return "", fmt.Errorf("secret %q key %q: invalid reference", ref.Name, ref.Key)
	}
	data, err := os.ReadFile(filepath.Join(d.Root, ref.Name, ref.Key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", &NotFoundError{Ref: ref}
		}
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// Static is a fixed in-memory store keyed by name/key.
type Static map[string]map[string]string

func (s Static) Resolve(_ context.Context, ref spec.SecretRef) (string, error) {
	if keys, ok := s[ref.Name]; ok {
		if v, ok := keys[ref.Key]; ok {
			return v, nil
		}
	}
	return "", &NotFoundError{Ref: ref}
}

// ResolveAll maps every secret reference of a service to its value,
// keyed by the target environment variable. Resolution is all-or-nothing
// so a replica never starts with a partial secret set.
func ResolveAll(ctx context.Context, store Store, refs map[string]spec.SecretRef) (map[string]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(refs))
	for env, ref := range refs {
		v, err := store.Resolve(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", env, err)
		}
		out[env] = v
	}
	return out, nil
}
