// Package subst builds the substitution context of a specification snippet
// and the environment overlay that hands it to conversion procedures.
//
// Procedures cannot receive structured data, so every substitution travels as
// an environment variable. The procedure side maps such variables back to
// configuration keys by turning "__" into "-" and "_" into ".", which is why
// substitution keys must not contain underscores: a key like "bids_run" would
// come back as "bids.run" and silently overwrite an unrelated setting.
package subst

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/psychoinformatics-de/hirni/internal/types"
)

// Well-known substitution keys
const (
	KeySubject     = "subject"
	KeyAnonSubject = "anon-subject"
	KeyBIDSSubject = "bids-subject"
	KeySpecPath    = "specpath"
	KeyAnonymize   = "anonymize"
)

// EnvPrefix is prepended to every substitution in the environment overlay.
const EnvPrefix = "DATALAD_RUN_SUBSTITUTIONS_"

// ErrInvalidKey is returned for substitution keys that cannot travel through
// the environment without colliding with configuration keys.
var ErrInvalidKey = errors.New("invalid substitution key")

var validKey = regexp.MustCompile(`^[A-Za-z0-9]+(-[A-Za-z0-9]+)*$`)

// Context is the flattened view of a snippet used for substitutions.
// Keys keep the order in which they appear in the snippet.
type Context struct {
	keys   []string
	values map[string]string
}

// Build flattens a snippet into its substitution context.
//
// relSpecPath is the path of the specification file relative to the dataset
// root; locations are rewritten to be relative to the dataset root as well,
// since that is where procedures run. With anonymize set, bids-subject is
// taken from anon-subject, otherwise from subject; if that source is missing,
// no bids-subject is produced.
func Build(snippet *types.Snippet, relSpecPath string, anonymize bool) (*Context, error) {
	c := &Context{values: make(map[string]string)}

	for _, f := range snippet.Fields {
		switch f.Key {
		case KeySubject:
			if !anonymize {
				c.set(KeyBIDSSubject, f.Value.String())
			}
		case KeyAnonSubject:
			if anonymize {
				c.set(KeyBIDSSubject, f.Value.String())
			}
		default:
			if err := CheckKey(f.Key); err != nil {
				return nil, err
			}
			c.set(f.Key, f.Value.String())
		}
	}

	if snippet.HasLocation() {
		loc := toSlash(snippet.Location.String())
		if !path.IsAbs(loc) {
			loc = path.Join(path.Dir(toSlash(relSpecPath)), loc)
		}
		c.set(types.KeyLocation, loc)
	}
	if v, ok := snippet.Value(types.KeyType); ok {
		c.set(types.KeyType, v.String())
	}
	return c, nil
}

// CheckKey validates a substitution key name. Keys are made of letters and
// digits, optionally joined by single hyphens.
func CheckKey(key string) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("%w %q: only letters, digits and single hyphens are allowed", ErrInvalidKey, key)
	}
	return nil
}

func (c *Context) set(key, value string) {
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
}

// Get returns the value of a substitution.
func (c *Context) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Keys returns the substitution keys in snippet order.
func (c *Context) Keys() []string {
	return append([]string(nil), c.keys...)
}

// Overlay derives the environment overlay for a snippet: one variable per
// substitution plus the specification path and the anonymize flag.
func (c *Context) Overlay(relSpecPath string, anonymize bool) Env {
	env := make(Env, len(c.values)+2)
	for k, v := range c.values {
		env[EnvKey(k)] = v
	}
	env[EnvKey(KeySpecPath)] = relSpecPath
	env[EnvKey(KeyAnonymize)] = types.FormatBool(anonymize)
	return env
}

// EnvKey returns the environment variable name carrying substitution key.
func EnvKey(key string) string {
	return EnvPrefix + strings.ReplaceAll(strings.ToUpper(key), "-", "__")
}

// CallFormatKey returns the overlay key that overrides the configured call
// format of a procedure.
func CallFormatKey(procedure string) string {
	return "DATALAD.PROCEDURES." + procedure + ".CALL-FORMAT"
}

// Env is an environment overlay. Values are only ever applied to a copy of a
// base environment; nothing here touches the process environment.
type Env map[string]string

// With returns a copy of the overlay with key set to value.
func (e Env) With(key, value string) Env {
	out := make(Env, len(e)+1)
	for k, v := range e {
		out[k] = v
	}
	out[key] = value
	return out
}

// WithCallFormat returns a copy of the overlay that overrides the call
// format of procedure for a single invocation.
func (e Env) WithCallFormat(procedure, call string) Env {
	return e.With(CallFormatKey(procedure), call)
}

// Keys returns the overlay keys in sorted order.
func (e Env) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Environ applies the overlay on top of base (in os.Environ form) and returns
// a new slice. Overlay entries replace base entries of the same name.
func (e Env) Environ(base []string) []string {
	out := make([]string, 0, len(base)+len(e))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, ok := e[name]; ok {
			continue
		}
		out = append(out, kv)
	}
	for _, k := range e.Keys() {
		out = append(out, k+"="+e[k])
	}
	return out
}

// Substitutions recovers the substitution values carried by an overlay,
// keyed by their lower-case, hyphenated names.
func (e Env) Substitutions() map[string]string {
	out := make(map[string]string)
	for k, v := range e {
		name, ok := strings.CutPrefix(k, EnvPrefix)
		if !ok {
			continue
		}
		out[strings.ToLower(strings.ReplaceAll(name, "__", "-"))] = v
	}
	return out
}

// CallFormat returns the call format override for procedure carried by the overlay.
func (e Env) CallFormat(procedure string) (string, bool) {
	v, ok := e[CallFormatKey(procedure)]
	return v, ok
}

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9-]+)\}`)

// Expand replaces {key} placeholders in format with values. Unknown
// placeholders are left untouched.
func Expand(format string, values map[string]string) string {
	return placeholder.ReplaceAllStringFunc(format, func(m string) string {
		if v, ok := values[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
