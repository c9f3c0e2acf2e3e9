package bootstrap

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sfml-ci/sfboot/internal/archive"
	"github.com/sfml-ci/sfboot/internal/build"
	"github.com/sfml-ci/sfboot/internal/fetch"
	"github.com/sfml-ci/sfboot/internal/hostcheck"
	"github.com/sfml-ci/sfboot/internal/logging"
	"github.com/sfml-ci/sfboot/internal/plan"
	"github.com/sfml-ci/sfboot/internal/projcfg"
	"github.com/sfml-ci/sfboot/internal/shell"
	"github.com/sfml-ci/sfboot/pkgs/buildsys"
	"github.com/sfml-ci/sfboot/pkgs/buildsys/autotools"
	"github.com/sfml-ci/sfboot/pkgs/buildsys/cmake"
)

// Fixed step names. Per-archive and project steps are "<kind>:<name>".
const (
	StepPrepareStaging   = "prepare-staging"
	StepConfigureProject = "configure-project"
	StepPublish          = "publish"
)

// Step is one unit of the run.
type Step struct {
	Name string
	// Commands describes what the step does, for printing.
	Commands []string
	run      func(ctx context.Context) error
}

// Steps returns the ordered steps of the plan.
func (r *Runner) Steps() []Step {
	steps := []Step{{
		Name: StepPrepareStaging,
		Commands: []string{
			shell.Format([]string{"rm", "-rf", r.layout.Root}),
			shell.Format([]string{"mkdir", "-p", r.layout.PrefixDir()}),
		},
		run: r.prepareStaging,
	}}

	for i := range r.plan.Archives {
		a := &r.plan.Archives[i]
		pin := a.Sha256
		if pin == "" {
			pin = "unpinned"
		}
		steps = append(steps, Step{
			Name:     "fetch:" + a.Name,
			Commands: []string{"GET " + a.URL, "sha256 " + pin},
			run:      func(ctx context.Context) error { return r.fetch(ctx, a) },
		})
		if len(findModules(a)) > 0 {
			steps = append(steps, Step{
				Name:     "prepare:" + a.Name,
				Commands: r.describePrepare(a),
				run:      func(ctx context.Context) error { return r.prepare(ctx, a) },
			})
		}
		steps = append(steps, Step{
			Name:     "build:" + a.Name,
			Commands: r.describeBuild(a),
			run:      func(ctx context.Context) error { return r.build(ctx, a) },
		}, Step{
			Name:     "install:" + a.Name,
			Commands: r.describeInstall(a),
			run:      func(ctx context.Context) error { return r.install(ctx, a) },
		})
	}

	steps = append(steps, Step{
		Name:     StepConfigureProject,
		Commands: r.describeProjectConfig(),
		run:      r.configureProject,
	})
	for i := range r.plan.Project.Steps {
		s := &r.plan.Project.Steps[i]
		line, err := r.projectCommand(s)
		if err != nil {
			line = s.Run
		}
		steps = append(steps, Step{
			Name:     "project:" + s.Name,
			Commands: []string{line},
			run:      func(ctx context.Context) error { return r.projectStep(ctx, s) },
		})
	}
	if r.opts.Publisher != nil {
		steps = append(steps, Step{
			Name:     StepPublish,
			Commands: []string{"tar -czf - " + r.layout.Root + " | upload"},
			run:      r.publish,
		})
	}
	return steps
}

type requiredModule struct {
	from  string
	toDir string
	by    string
}

func findModules(a *plan.Archive) []plan.Require {
	var reqs []plan.Require
	for _, req := range a.Requires {
		if req.FindModule != nil {
			reqs = append(reqs, req)
		}
	}
	return reqs
}

func (r *Runner) requiredModules(a *plan.Archive) []requiredModule {
	var mods []requiredModule
	for _, req := range findModules(a) {
		mods = append(mods, requiredModule{
			from:  filepath.Join(r.layout.PrefixDir(), filepath.FromSlash(req.FindModule.From)),
			toDir: filepath.Join(r.sourceRoot(a), filepath.FromSlash(req.FindModule.To)),
			by:    req.Name,
		})
	}
	return mods
}

// execFor returns the RunFunc build drivers use during a step: it logs the
// command and starts it unless this is a dry run.
func (r *Runner) execFor(step string) buildsys.RunFunc {
	return func(ctx context.Context, cmd *exec.Cmd) error {
		ev := logging.FromContext(ctx).Info().Str("step", step).Bool("command", true)
		if cmd.Dir != "" {
			ev = ev.Str("dir", cmd.Dir)
		}
		ev.Msg(shell.Format(cmd.Args))
		if r.opts.DryRun {
			return nil
		}
		return r.opts.Exec(ctx, cmd)
	}
}

func (r *Runner) logCommand(ctx context.Context, step, line string) {
	logging.FromContext(ctx).Info().Str("step", step).Bool("command", true).Msg(line)
}

func (r *Runner) prepareStaging(ctx context.Context) error {
	log := logging.FromContext(ctx)
	if r.opts.DryRun {
		r.logCommand(ctx, StepPrepareStaging, shell.Format([]string{"rm", "-rf", r.layout.Root}))
		return nil
	}

	unlock, err := build.Lock(r.opts.WorkDir)
	if err != nil {
		return err
	}
	r.unlock = unlock

	if err := resetStaging(r.layout.Root); err != nil {
		return err
	}
	if err := hostcheck.Staging(r.layout.Root); err != nil {
		return err
	}
	if err := os.MkdirAll(r.layout.PrefixDir(), 0o755); err != nil {
		return eris.Wrapf(err, "failed to create %s", r.layout.PrefixDir())
	}
	if hostcheck.Privileged() {
		log.Warn().Str("step", StepPrepareStaging).Msg("running with elevated privileges; installs still only go to the staging dir")
	}
	log.Info().Str("step", StepPrepareStaging).Str("path", r.layout.Root).Msg("staging dir ready")
	return nil
}

func (r *Runner) fetch(ctx context.Context, a *plan.Archive) error {
	step := "fetch:" + a.Name
	log := logging.FromContext(ctx)
	req := fetch.Request{URL: a.URL, File: a.FileName(), Sha256: a.Sha256}
	if e, ok := r.cache.Get(a.Module()); ok && e.URL == a.URL {
		req.Known = e.Sha256
	}
	if r.opts.DryRun {
		r.logCommand(ctx, step, "GET "+a.URL)
		return nil
	}

	res, err := r.opts.Fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	r.downloads[a.Name] = res.Path
	log.Info().
		Str("step", step).
		Str("sha256", res.Sha256).
		Bool("cached", res.Cached).
		Msg("fetched " + a.FileName())
	if a.Sha256 == "" {
		log.Warn().Str("step", step).Msg("archive is not pinned, run `sfboot fetch --update`")
	}

	e := r.entry(a)
	e.URL = a.URL
	e.Sha256 = res.Sha256
	return r.saveCache()
}

// extract unpacks an archive once per run and checks its top-level dir.
func (r *Runner) extract(ctx context.Context, step string, a *plan.Archive) (string, error) {
	if dir, ok := r.srcDirs[a.Name]; ok {
		return dir, nil
	}
	root := r.sourceRoot(a)
	dest := filepath.Dir(root)
	if r.opts.DryRun {
		r.logCommand(ctx, step, shell.Format([]string{"extract", a.FileName(), dest}))
		r.srcDirs[a.Name] = root
		return root, nil
	}

	file, ok := r.downloads[a.Name]
	if !ok {
		return "", eris.Errorf("%s was not fetched", a.Module())
	}
	if err := os.RemoveAll(dest); err != nil {
		return "", eris.Wrapf(err, "failed to clean %s", dest)
	}
	top, err := archive.Extract(file, dest)
	if err != nil {
		return "", err
	}
	if len(top) != 1 || top[0] != a.ExpectedDir() {
		return "", eris.Wrapf(ErrDirMismatch, "%s extracted to %v, want %s", a.FileName(), top, a.ExpectedDir())
	}
	logging.FromContext(ctx).Info().Str("step", step).Str("path", root).Msg("extracted " + a.FileName())

	r.entry(a).Dir = top[0]
	r.srcDirs[a.Name] = root
	return root, nil
}

func (r *Runner) prepare(ctx context.Context, a *plan.Archive) error {
	step := "prepare:" + a.Name
	if _, err := r.extract(ctx, step, a); err != nil {
		return err
	}
	for _, m := range r.requiredModules(a) {
		dest := filepath.Join(m.toDir, filepath.Base(m.from))
		if r.opts.DryRun {
			r.logCommand(ctx, step, shell.Format([]string{"cp", m.from, dest}))
			continue
		}
		if err := copyFile(m.from, dest); err != nil {
			if os.IsNotExist(err) {
				return eris.Wrapf(ErrFindModuleMissing, "%s (installed by %s)", m.from, m.by)
			}
			return err
		}
		logging.FromContext(ctx).Info().Str("step", step).Msg("copied " + filepath.Base(m.from) + " into " + m.toDir)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return eris.Wrapf(err, "failed to copy %s", src)
	}
	return out.Close()
}

// newDriver sets up the build system of an archive. Dependencies are
// added with Use right before configuring, once they are installed.
func (r *Runner) newDriver(a *plan.Archive) driver {
	root := r.sourceRoot(a)
	buildDir := filepath.Join(root, "build")
	var d driver
	switch a.BuildSystem() {
	case plan.Autotools:
		at := autotools.New(root, buildDir)
		for _, req := range a.Requires {
			if req.RootDefine != "" {
				at.Define(req.RootDefine, r.layout.PrefixDir())
			}
		}
		d = at
	default:
		c := cmake.New(root, buildDir)
		c.BuildType(a.BuildType)
		c.Jobs(r.opts.Jobs)
		for _, m := range r.requiredModules(a) {
			c.ModulePath(m.toDir)
		}
		for _, req := range a.Requires {
			if req.RootDefine != "" {
				c.DefinePath(req.RootDefine, r.layout.PrefixDir())
			}
		}
		d = c
	}
	d.Prefix(r.plan.Prefix)
	d.DestDir(r.layout.Root)
	keys := make([]string, 0, len(a.Defines))
	for k := range a.Defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d.Define(k, a.Defines[k])
	}
	d.Output(r.opts.Stdout, r.opts.Stderr)
	return d
}

func (r *Runner) build(ctx context.Context, a *plan.Archive) error {
	step := "build:" + a.Name
	if _, err := r.extract(ctx, step, a); err != nil {
		return err
	}
	if !r.opts.DryRun {
		for _, m := range r.requiredModules(a) {
			dest := filepath.Join(m.toDir, filepath.Base(m.from))
			if _, err := os.Stat(dest); err != nil {
				return eris.Wrapf(ErrFindModuleMissing, "%s (installed by %s)", dest, m.by)
			}
		}
	}

	d := r.newDriver(a)
	d.Exec(r.execFor(step))
	if len(a.Requires) > 0 {
		d.Use(r.layout.PrefixDir())
	}
	if err := d.Configure(ctx, a.Args...); err != nil {
		return eris.Wrapf(err, "configure %s", a.Module())
	}
	if err := d.Build(ctx); err != nil {
		return eris.Wrapf(err, "build %s", a.Module())
	}
	r.drivers[a.Name] = d
	return nil
}

func (r *Runner) install(ctx context.Context, a *plan.Archive) error {
	step := "install:" + a.Name
	log := logging.FromContext(ctx)
	d, ok := r.drivers[a.Name]
	if !ok {
		return eris.Errorf("%s was not built", a.Module())
	}
	d.Exec(r.execFor(step))
	if r.opts.DryRun {
		return d.Install(ctx)
	}

	before, err := build.Snapshot(r.layout.Root)
	if err != nil {
		return err
	}
	if err := d.Install(ctx); err != nil {
		return eris.Wrapf(err, "install %s", a.Module())
	}
	after, err := build.Snapshot(r.layout.Root)
	if err != nil {
		return err
	}
	added := build.Added(before, after)
	log.Info().Str("step", step).Int("files", len(added)).Str("path", d.OutputDir()).Msg("installed " + a.Module().String())

	if prev, ok := r.previous[a.Name]; ok {
		if missing, extra := build.Diff(prev, added); len(missing)+len(extra) > 0 {
			log.Warn().
				Str("step", step).
				Strs("missing", missing).
				Strs("extra", extra).
				Msg("installed files differ from the previous run")
		}
	}

	e := r.entry(a)
	e.Installed = added
	e.BuildTime = time.Now()
	return r.saveCache()
}

func (r *Runner) projectConfigFile() string {
	if r.plan.Project.Config == "" {
		return ""
	}
	return filepath.Join(r.opts.Project, filepath.FromSlash(r.plan.Project.Config))
}

func (r *Runner) configureProject(ctx context.Context) error {
	log := logging.FromContext(ctx)
	for k, v := range r.ProjectEnv() {
		r.env[k] = v
	}
	keys := make([]string, 0, len(r.env))
	for k := range r.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r.logCommand(ctx, StepConfigureProject, "export "+k+"="+shell.Format([]string{r.env[k]}))
	}

	file := r.projectConfigFile()
	if file == "" {
		return nil
	}
	if r.opts.DryRun {
		r.logCommand(ctx, StepConfigureProject, "write "+file)
		return nil
	}
	if err := projcfg.Write(file, r.layout.LibDir()); err != nil {
		return err
	}
	log.Info().Str("step", StepConfigureProject).Str("path", file).Msg("wrote build configuration override")
	return nil
}

func (r *Runner) projectCommand(s *plan.Step) (string, error) {
	if !s.Excludes {
		return s.Run, nil
	}
	return shell.Command(s.Run, r.plan.Project.Excludes)
}

func (r *Runner) projectStep(ctx context.Context, s *plan.Step) error {
	line, err := r.projectCommand(s)
	if err != nil {
		return err
	}
	sh := &shell.Runner{
		Dir:    r.opts.Project,
		Env:    r.env,
		Stdout: r.opts.Stdout,
		Stderr: r.opts.Stderr,
		Exec:   r.opts.ShellExec,
		DryRun: r.opts.DryRun,
	}
	return sh.Run(ctx, "project:"+s.Name, line)
}

func (r *Runner) publish(ctx context.Context) error {
	if r.opts.DryRun {
		r.logCommand(ctx, StepPublish, "upload "+r.layout.Root)
		return nil
	}
	obj, err := r.opts.Publisher.Publish(ctx, r.layout.Root, r.runID)
	if err != nil {
		return err
	}
	logging.FromContext(ctx).Info().
		Str("step", StepPublish).
		Str("bucket", obj.Bucket).
		Str("key", obj.Key).
		Str("sha256", obj.Sha256).
		Int64("size", obj.Size).
		Msg("published staging dir")
	return nil
}

func (r *Runner) describePrepare(a *plan.Archive) []string {
	var cmds []string
	for _, m := range r.requiredModules(a) {
		cmds = append(cmds, shell.Format([]string{"cp", m.from, filepath.Join(m.toDir, filepath.Base(m.from))}))
	}
	return cmds
}

func (r *Runner) describeBuild(a *plan.Archive) []string {
	cmds := []string{shell.Format([]string{"extract", a.FileName(), filepath.Dir(r.sourceRoot(a))})}
	buildDir := filepath.Join(r.sourceRoot(a), "build")
	switch d := r.newDriver(a).(type) {
	case *cmake.CMake:
		cmds = append(cmds,
			shell.Format(append([]string{"cmake"}, d.ConfigureArgs(a.Args...)...)),
			shell.Format([]string{"cmake", "--build", buildDir}),
		)
	case *autotools.AutoTools:
		bin, args := d.ConfigureArgs(a.Args...)
		cmds = append(cmds,
			shell.Format(append([]string{bin}, args...)),
			shell.Format([]string{"make", "-C", buildDir}),
		)
	}
	return cmds
}

func (r *Runner) describeInstall(a *plan.Archive) []string {
	buildDir := filepath.Join(r.sourceRoot(a), "build")
	if a.BuildSystem() == plan.Autotools {
		return []string{shell.Format([]string{"make", "-C", buildDir, "install", "DESTDIR=" + r.layout.Root})}
	}
	return []string{"DESTDIR=" + shell.Format([]string{r.layout.Root}) + " " + shell.Format([]string{"cmake", "--install", buildDir})}
}

func (r *Runner) describeProjectConfig() []string {
	var cmds []string
	env := r.ProjectEnv()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmds = append(cmds, "export "+k+"="+shell.Format([]string{env[k]}))
	}
	if file := r.projectConfigFile(); file != "" {
		cmds = append(cmds, "write "+file+" (rustflags: "+shell.Format(projcfg.LinkFlags(r.layout.LibDir()))+")")
	}
	return cmds
}
