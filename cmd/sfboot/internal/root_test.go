package internal

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sfml-ci/sfboot/internal/build"
	"github.com/sfml-ci/sfboot/internal/plan"
)

// resetFlags undoes the flag state a previous execution left behind.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

type dirs struct {
	work, staging, project string
}

func newDirs(t *testing.T) dirs {
	return dirs{
		work:    filepath.Join(t.TempDir(), "work"),
		staging: filepath.Join(t.TempDir(), "staging"),
		project: t.TempDir(),
	}
}

func (d dirs) args(args ...string) []string {
	return append(args, "--workdir", d.work, "--staging", d.staging, "--project", d.project, "--json")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPlanCommand(t *testing.T) {
	d := newDirs(t)
	out, err := execute(t, d.args("plan")...)
	if err != nil {
		t.Fatalf("plan failed: %v\n%s", err, out)
	}
	for _, want := range []string{
		"1. prepare-staging\n",
		"fetch:SFML",
		"prepare:CSFML",
		"cargo test --verbose -- --skip window --skip audio --skip render_window --skip render_texture",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("plan output lacks %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(d.staging); !os.IsNotExist(err) {
		t.Error("plan touched the staging dir")
	}
}

func TestPlanWrite(t *testing.T) {
	d := newDirs(t)
	file := filepath.Join(t.TempDir(), "plan.yml")
	if out, err := execute(t, d.args("plan", "--write", file)...); err != nil {
		t.Fatalf("plan --write failed: %v\n%s", err, out)
	}
	got, err := os.ReadFile(file)
	if err != nil || !bytes.Equal(got, plan.DefaultBytes()) {
		t.Errorf("written plan differs from the embedded one: %v", err)
	}
	if _, err := execute(t, d.args("plan", "--write", file)...); err == nil {
		t.Error("existing plan file overwritten")
	}
}

func TestEnvCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("library search vars differ on windows")
	}
	d := newDirs(t)
	out, err := execute(t, d.args("env")...)
	if err != nil {
		t.Fatalf("env failed: %v", err)
	}
	want := "export LIBRARY_PATH=" + filepath.Join(d.staging, "usr", "local", "lib")
	if !strings.Contains(out, want) {
		t.Errorf("env output lacks %q:\n%s", want, out)
	}
}

func TestConfigFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("library search vars differ on windows")
	}
	d := newDirs(t)
	staging := filepath.Join(t.TempDir(), "from-file")
	file := filepath.Join(t.TempDir(), "sfboot.toml")
	content := "workdir = \"" + d.work + "\"\nstaging = \"" + staging + "\"\n"
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "env", "--config", file, "--project", d.project)
	if err != nil {
		t.Fatalf("env failed: %v", err)
	}
	if !strings.Contains(out, filepath.Join(staging, "usr", "local", "lib")) {
		t.Errorf("staging from the config file not used:\n%s", out)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	d := newDirs(t)
	if _, err := execute(t, d.args("plan", "--log-level", "loud")...); err == nil {
		t.Error("invalid log level accepted")
	}
}

func TestVerifyCommandEmptyStaging(t *testing.T) {
	d := newDirs(t)
	if err := os.MkdirAll(d.staging, 0o755); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, d.args("verify")...)
	if err == nil {
		t.Fatalf("verify passed on an empty staging dir:\n%s", out)
	}
	if !strings.Contains(err.Error(), "no dynamic library") {
		t.Errorf("err = %v", err)
	}
}

func TestCleanCommand(t *testing.T) {
	d := newDirs(t)
	for _, dir := range []string{filepath.Join(d.work, "downloads"), d.staging} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if out, err := execute(t, d.args("clean")...); err != nil {
		t.Fatalf("clean failed: %v\n%s", err, out)
	}
	for _, dir := range []string{d.work, d.staging} {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Errorf("%s still exists", dir)
		}
	}
}

func TestCleanRefusesForeignStaging(t *testing.T) {
	d := newDirs(t)
	keep := filepath.Join(d.staging, "keep.txt")
	if err := os.MkdirAll(d.staging, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keep, []byte("mine"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, d.args("clean")...); err == nil {
		t.Error("clean removed a dir it did not create")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("foreign file removed: %v", err)
	}
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestFetchUpdate(t *testing.T) {
	bodies := map[string][]byte{
		"/files/SFML-2.4.2-sources.zip": []byte("sfml sources"),
		"/files/CSFML-2.4-sources.zip":  []byte("csfml sources"),
	}
	var mu sync.Mutex
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		body, ok := bodies[r.URL.Path]
		mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()
	bundle := filepath.Join(t.TempDir(), "ca.pem")
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	if err := os.WriteFile(bundle, block, 0o644); err != nil {
		t.Fatal(err)
	}

	planFile := filepath.Join(t.TempDir(), "plan.yml")
	data := strings.ReplaceAll(string(plan.DefaultBytes()), "https://www.sfml-dev.org/files", srv.URL+"/files")
	if err := os.WriteFile(planFile, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	d := newDirs(t)
	args := d.args("fetch", "--plan", planFile, "--cabundle", bundle)
	if out, err := execute(t, append(args, "--update")...); err != nil {
		t.Fatalf("fetch --update failed: %v\n%s", err, out)
	}
	p, err := plan.Load(planFile)
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range p.Archives {
		want := digest(bodies["/files/"+a.FileName()])
		if a.Sha256 != want {
			t.Errorf("%s pinned to %q, want %q", a.Name, a.Sha256, want)
		}
	}

	if out, err := execute(t, args...); err != nil {
		t.Errorf("fetch against the pinned plan failed: %v\n%s", err, out)
	}
	mu.Lock()
	bodies["/files/CSFML-2.4-sources.zip"] = []byte("tampered")
	mu.Unlock()
	os.RemoveAll(filepath.Join(d.work, "downloads"))
	if _, err := execute(t, args...); err == nil {
		t.Error("changed archive passed the pinned digest")
	}
}

func TestFetchLocksWorkDir(t *testing.T) {
	d := newDirs(t)
	unlock, err := build.Lock(d.work)
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()
	before, _ := os.ReadFile(filepath.Join(d.work, ".cache.json"))
	_, err = execute(t, d.args("fetch")...)
	if !eris.Is(err, build.ErrLocked) {
		t.Fatalf("fetch err = %v, want ErrLocked", err)
	}
	after, _ := os.ReadFile(filepath.Join(d.work, ".cache.json"))
	if string(before) != string(after) {
		t.Error("fetch rewrote the cache of a locked work dir")
	}
}

func TestFetchUpdateNeedsPlanFile(t *testing.T) {
	d := newDirs(t)
	if _, err := execute(t, d.args("fetch", "--update", "--plan=")...); err == nil {
		t.Error("--update without a plan file accepted")
	}
}

func TestSelectArchives(t *testing.T) {
	p, err := plan.Default()
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		args []string
		want string
		ok   bool
	}{
		{nil, "SFML,CSFML", true},
		{[]string{"CSFML"}, "CSFML", true},
		{[]string{"SFML@2.4.2", "CSFML@2.4"}, "SFML,CSFML", true},
		{[]string{"SFML@2.5.1"}, "", false},
		{[]string{"SDL2"}, "", false},
		{[]string{"SFML@"}, "", false},
	}
	for _, tt := range tests {
		got, err := selectArchives(p, tt.args)
		if (err == nil) != tt.ok {
			t.Errorf("selectArchives(%v) err = %v", tt.args, err)
			continue
		}
		names := make([]string, len(got))
		for i, a := range got {
			names[i] = a.Name
		}
		if tt.ok && strings.Join(names, ",") != tt.want {
			t.Errorf("selectArchives(%v) = %v, want %s", tt.args, names, tt.want)
		}
	}
}
