// Package projcfg writes the dependent project's build configuration
// override so its linker searches the staging prefix.
package projcfg

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rotisserie/eris"
)

// DefaultFile is the cargo override file, relative to the project dir.
const DefaultFile = ".cargo/config"

// LinkFlags returns the rustflags that add dir to the native search path.
func LinkFlags(dir string) []string {
	return []string{"-L", dir}
}

// Write points the [build] rustflags of a cargo config file at libDir.
// Other keys and unrelated flags are kept, including "-L" flags for other
// directories; an earlier "-L" for libDir is replaced, so writing twice
// gives the same file. A string-valued rustflags is split on whitespace.
func Write(file, libDir string) error {
	doc := map[string]interface{}{}
	if _, err := toml.DecodeFile(file, &doc); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "failed to parse %s", file)
	}

	build, _ := doc["build"].(map[string]interface{})
	if build == nil {
		build = map[string]interface{}{}
	}
	var old []string
	switch v := build["rustflags"].(type) {
	case nil:
	case string:
		old = strings.Fields(v)
	case []interface{}:
		for _, f := range v {
			s, ok := f.(string)
			if !ok {
				return eris.Errorf("%s: build.rustflags holds a non-string %v", file, f)
			}
			old = append(old, s)
		}
	default:
		return eris.Errorf("%s: build.rustflags is a %T, want a string or an array", file, v)
	}
	var flags []string
	for i := 0; i < len(old); i++ {
		switch {
		case old[i] == "-L" && i+1 < len(old):
			if searchDir(old[i+1]) == filepath.Clean(libDir) {
				i++
				continue
			}
			flags = append(flags, old[i], old[i+1])
			i++
			continue
		case strings.HasPrefix(old[i], "-L") && searchDir(old[i][2:]) == filepath.Clean(libDir):
			continue
		}
		flags = append(flags, old[i])
	}
	build["rustflags"] = append(flags, LinkFlags(libDir)...)
	doc["build"] = build

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return eris.Wrapf(err, "failed to encode %s", file)
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(file))
	}
	if err := os.WriteFile(file, buf.Bytes(), 0o644); err != nil {
		return eris.Wrapf(err, "failed to write %s", file)
	}
	return nil
}

// searchDir returns the directory of a "-L" value, which may carry a
// "kind=" prefix.
func searchDir(v string) string {
	for _, kind := range []string{"dependency=", "crate=", "native=", "framework=", "all="} {
		if strings.HasPrefix(v, kind) {
			v = v[len(kind):]
			break
		}
	}
	return filepath.Clean(v)
}

// Config is the part of a cargo config this package manages.
type Config struct {
	Build struct {
		Rustflags []string `toml:"rustflags"`
	} `toml:"build"`
}

// Read decodes the managed part of a cargo config file.
func Read(file string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(file, &cfg); err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", file)
	}
	return &cfg, nil
}
