package bootstrap

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"mvdan.cc/sh/v3/interp"

	"github.com/sfml-ci/sfboot/internal/fetch"
	"github.com/sfml-ci/sfboot/internal/publish"
)

// mockFetcher serves generated zip archives. Every archive holds one
// top-level dir, tops[file] or the name derived from the file.
type mockFetcher struct {
	dir  string
	tops map[string]string
	err  error
	reqs []fetch.Request
}

func newMockFetcher(t *testing.T) *mockFetcher {
	return &mockFetcher{dir: t.TempDir(), tops: map[string]string{}}
}

func (m *mockFetcher) Fetch(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return fetch.Result{}, m.err
	}
	top, ok := m.tops[req.File]
	if !ok {
		top = strings.TrimSuffix(req.File, "-sources.zip")
	}
	file := filepath.Join(m.dir, req.File)
	if err := writeSourceZip(file, top); err != nil {
		return fetch.Result{}, err
	}
	sum, err := fetch.FileSum(file)
	if err != nil {
		return fetch.Result{}, err
	}
	return fetch.Result{Path: file, Sha256: sum}, nil
}

func writeSourceZip(file, top string) error {
	f, err := os.Create(file)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	for _, name := range []string{top + "/CMakeLists.txt", top + "/src/main.cpp"} {
		w, err := zw.Create(name)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := w.Write([]byte("// " + name + "\n")); err != nil {
			f.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// installs lists what the fake cmake installs per source dir, relative to
// the prefix.
var installs = map[string][]string{
	"SFML-2.4.2": {
		"include/SFML/System.hpp",
		"lib/libsfml-system.so.2.4.2",
		"share/SFML/cmake/Modules/FindSFML.cmake",
	},
	"CSFML-2.4": {
		"include/SFML/System.h",
		"lib/libcsfml-system.so.2.4",
	},
}

type cmakeCall struct {
	args    []string
	destDir string
}

// fakeCMake stands in for the cmake binary.
type fakeCMake struct {
	mu    sync.Mutex
	calls []cmakeCall
	// skipFindModule leaves FindSFML.cmake out of the SFML install.
	skipFindModule bool
	// fail makes every invocation whose args contain it fail.
	fail string
	// failCode, when set, makes a failing invocation exit with this status
	// from a real child process instead of not starting.
	failCode int
}

func lookupEnv(environ []string, key string) string {
	val := ""
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			val = v
		}
	}
	return val
}

func (f *fakeCMake) run(ctx context.Context, cmd *exec.Cmd) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := cmakeCall{args: append([]string(nil), cmd.Args...), destDir: lookupEnv(cmd.Env, "DESTDIR")}
	f.calls = append(f.calls, call)
	line := strings.Join(cmd.Args, " ")
	if f.fail != "" && strings.Contains(line, f.fail) {
		if f.failCode != 0 {
			return exec.CommandContext(ctx, "sh", "-c", fmt.Sprintf("exit %d", f.failCode)).Run()
		}
		return exec.ErrNotFound
	}
	if len(cmd.Args) < 3 || cmd.Args[1] != "--install" {
		return nil
	}

	// cmake --install <source>/build
	src := filepath.Base(filepath.Dir(cmd.Args[2]))
	prefix := filepath.Join(call.destDir, "usr", "local")
	for _, rel := range installs[src] {
		if f.skipFindModule && strings.HasSuffix(rel, "FindSFML.cmake") {
			continue
		}
		file := filepath.Join(prefix, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(file, []byte(rel), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeCMake) find(sub string) []cmakeCall {
	var out []cmakeCall
	for _, c := range f.calls {
		if strings.Contains(strings.Join(c.args, " "), sub) {
			out = append(out, c)
		}
	}
	return out
}

type shellCall struct {
	args []string
	dir  string
	lib  string
}

// fakeShell stands in for the programs run by project steps.
type fakeShell struct {
	calls []shellCall
	fail  map[string]uint8
}

func (f *fakeShell) exec(ctx context.Context, args []string) error {
	hc := interp.HandlerCtx(ctx)
	f.calls = append(f.calls, shellCall{
		args: append([]string(nil), args...),
		dir:  hc.Dir,
		lib:  hc.Env.Get("LIBRARY_PATH").String(),
	})
	line := strings.Join(args, " ")
	for prefix, code := range f.fail {
		if strings.HasPrefix(line, prefix) {
			return interp.NewExitStatus(code)
		}
	}
	return nil
}

type mockPublisher struct {
	staging string
	runID   string
	err     error
}

func (m *mockPublisher) Publish(ctx context.Context, stagingDir, runID string) (publish.Object, error) {
	m.staging, m.runID = stagingDir, runID
	if m.err != nil {
		return publish.Object{}, m.err
	}
	return publish.Object{Bucket: "ci", Key: "sfboot/" + runID + "/staging.tar.gz"}, nil
}
