package env

import (
	"os"
	"sort"
	"strings"
)

// Var maps variable names to values.
type Var map[string]string

// Env composes the environment handed to every service: the OS environment
// (optional), then supervisor-wide overrides, then per-service overrides.
type Env struct {
	global Var
	base   Var
}

// New returns an Env whose base is the current OS environment when useOS is
// true, or empty otherwise. kvs are supervisor-wide "KEY=VALUE" overrides.
func New(useOS bool, kvs []string) *Env {
	e := &Env{global: make(Var), base: make(Var)}
	if useOS {
		apply(e.base, os.Environ())
	}
	apply(e.global, kvs)
	return e
}

// Merge returns the final environment list for a service with perService
// applied last. ${VAR} references are expanded once against the composed map.
func (e *Env) Merge(perService []string) []string {
	m := make(Var, len(e.base)+len(e.global)+len(perService))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.global {
		m[k] = v
	}
	apply(m, perService)

	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func apply(dst Var, kvs []string) {
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		dst[k] = v
	}
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(k string) string {
		if v, ok := m[k]; ok {
			return v
		}
		return "${" + k + "}"
	})
}
