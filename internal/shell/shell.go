// Package shell runs the project's command lines through an embedded POSIX
// shell with errexit semantics.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/sfml-ci/sfboot/internal/logging"
)

// Runner executes command lines in a directory.
type Runner struct {
	Dir    string
	Env    map[string]string
	Stdout io.Writer
	Stderr io.Writer
	// Exec starts external programs. Nil uses the interpreter's default.
	Exec   func(ctx context.Context, args []string) error
	DryRun bool
}

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

// Command appends "--skip <group>" for every excluded test group to the
// "cargo test" call of line, after a "--" separator unless that call already
// has one. A line without such a call must be a single simple command, which
// then takes the exclusions. Comments and other commands of the line are
// kept in place.
func Command(line string, excludes []string) (string, error) {
	if len(excludes) == 0 {
		return line, nil
	}
	call, err := testCall(line)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	hasSep := false
	for _, w := range call.Args {
		if w.Lit() == "--" {
			hasSep = true
		}
	}
	if !hasSep {
		b.WriteString(" --")
	}
	for _, g := range excludes {
		q, err := syntax.Quote(g, syntax.LangPOSIX)
		if err != nil {
			return "", eris.Wrapf(err, "cannot quote test group %q", g)
		}
		b.WriteString(" --skip ")
		b.WriteString(q)
	}
	end := call.Args[len(call.Args)-1].End().Offset()
	return line[:end] + b.String() + line[end:], nil
}

// testCall finds the call that receives test exclusions.
func testCall(line string) (*syntax.CallExpr, error) {
	file, err := syntax.NewParser().Parse(strings.NewReader(line), "")
	if err != nil {
		return nil, eris.Wrapf(err, "cannot parse %q", line)
	}
	var calls []*syntax.CallExpr
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if ok && len(call.Args) >= 2 && call.Args[0].Lit() == "cargo" && call.Args[1].Lit() == "test" {
			calls = append(calls, call)
		}
		return true
	})
	switch len(calls) {
	case 1:
		return calls[0], nil
	case 0:
		if len(file.Stmts) == 1 {
			if call, ok := file.Stmts[0].Cmd.(*syntax.CallExpr); ok && len(call.Args) > 0 {
				return call, nil
			}
		}
		return nil, eris.Errorf("no command in %q takes test exclusions", line)
	default:
		return nil, eris.Errorf("%q runs cargo test more than once", line)
	}
}

// CheckCommand reports whether Command can place test exclusions in line.
func CheckCommand(line string) error {
	_, err := testCall(line)
	return err
}

func (r *Runner) environ() expand.Environ {
	vars := os.Environ()
	keys := make([]string, 0, len(r.Env))
	for k := range r.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vars = append(vars, k+"="+r.Env[k])
	}
	return expand.ListEnviron(vars...)
}

// Run parses and runs a command line. Statements are logged before they
// run; the first failing one stops the script.
func (r *Runner) Run(ctx context.Context, name, line string) error {
	file, err := syntax.NewParser().Parse(strings.NewReader(line), name)
	if err != nil {
		return eris.Wrapf(err, "failed to parse %q", line)
	}

	stdout, stderr := r.Stdout, r.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	execHandler := r.Exec
	if execHandler == nil {
		execHandler = defaultExecHandler
	}
	runner, err := interp.New(
		interp.Dir(r.Dir),
		interp.Env(r.environ()),
		interp.ExecHandler(execHandler),
		interp.StdIO(nil, stdout, stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "failed to initialize runner")
	}

	printer := syntax.NewPrinter(syntax.Minify(true))
	var buf strings.Builder
	for _, stmt := range file.Stmts {
		buf.Reset()
		printer.Print(&buf, stmt)
		logging.FromContext(ctx).Info().
			Str("step", name).
			Bool("command", true).
			Msg(buf.String())

		if r.DryRun {
			continue
		}
		if err := runner.Run(ctx, stmt); err != nil {
			return err
		}
		if runner.Exited() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// ExitCode maps an error from Run or a build driver to a process exit code:
// 0 for nil, the child's status when one exited, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if status, ok := interp.IsExitStatus(err); ok {
		return int(status)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		return exitErr.ExitCode()
	}
	return 1
}

// Format renders an argv as a shell command line.
func Format(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		q, err := syntax.Quote(a, syntax.LangPOSIX)
		if err != nil {
			q = fmt.Sprintf("%q", a)
		}
		quoted[i] = q
	}
	return strings.Join(quoted, " ")
}
