package internal

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sfml-ci/sfboot/internal/build"
	"github.com/sfml-ci/sfboot/internal/fetch"
	"github.com/sfml-ci/sfboot/internal/logging"
	"github.com/sfml-ci/sfboot/internal/plan"
	"github.com/sfml-ci/sfboot/pkgs/mod/module"
)

var fetchUpdate bool

var fetchCmd = &cobra.Command{
	Use:   "fetch [name[@version]...]",
	Short: "Download the plan's archives",
	Long: `Fetch downloads the named archives, or every archive of the plan, into
the work dir and checks pinned digests. With --update the observed digests
are written into the plan file.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().BoolVarP(&fetchUpdate, "update", "u", false, "Pin the observed sha256 digests in the plan file")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logging.FromContext(ctx)
	if fetchUpdate && cfg.Plan == "" {
		return eris.New("--update needs a plan file, write one with `sfboot plan --write <file>`")
	}

	p, err := loadPlan()
	if err != nil {
		return err
	}
	fetcher, err := newFetcher(cmd)
	if err != nil {
		return err
	}
	if !cfg.DryRun {
		unlock, err := build.Lock(cfg.WorkDir)
		if err != nil {
			return err
		}
		defer unlock()
	}
	cache, err := build.Load(cfg.WorkDir)
	if err != nil {
		return err
	}

	archives, err := selectArchives(p, args)
	if err != nil {
		return err
	}
	digests := make(map[string]string)
	for _, a := range archives {
		req := fetch.Request{URL: a.URL, File: a.FileName(), Sha256: a.Sha256}
		// --update re-pins, so a stale pin must not fail the download
		if fetchUpdate {
			req.Sha256 = ""
		}
		e, ok := cache.Get(a.Module())
		if ok && e.URL == a.URL {
			req.Known = e.Sha256
		}
		if cfg.DryRun {
			log.Info().Str("step", "fetch:"+a.Name).Bool("command", true).Msg("GET " + a.URL)
			continue
		}
		res, err := fetcher.Fetch(ctx, req)
		if err != nil {
			return err
		}
		log.Info().
			Str("step", "fetch:"+a.Name).
			Str("sha256", res.Sha256).
			Bool("cached", res.Cached).
			Msg("fetched " + a.FileName())
		if !ok {
			e = &build.Entry{}
			cache.Set(a.Module(), e)
		}
		e.URL, e.Sha256 = a.URL, res.Sha256
		digests[a.Name] = res.Sha256
	}
	if cfg.DryRun {
		return nil
	}
	if err := cache.Save(); err != nil {
		return err
	}
	if !fetchUpdate {
		return nil
	}
	return pinPlan(cfg.Plan, digests)
}

// selectArchives returns the archives named by args, all of them when args
// is empty. An arg is "name" or "name@version".
func selectArchives(p *plan.Plan, args []string) ([]*plan.Archive, error) {
	if len(args) == 0 {
		all := make([]*plan.Archive, len(p.Archives))
		for i := range p.Archives {
			all[i] = &p.Archives[i]
		}
		return all, nil
	}
	var out []*plan.Archive
	for _, arg := range args {
		name, version := arg, ""
		if strings.Contains(arg, "@") {
			m, err := module.Parse(arg)
			if err != nil {
				return nil, err
			}
			name, version = m.Name, m.Version
		}
		a, ok := p.Archive(name)
		if !ok {
			return nil, eris.Errorf("archive %s is not in the plan", name)
		}
		if version != "" && version != a.Version {
			return nil, eris.Errorf("plan pins %s, not %s", a.Module(), arg)
		}
		out = append(out, a)
	}
	return out, nil
}

// pinPlan writes digests into the plan file, keeping its layout.
func pinPlan(file string, digests map[string]string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return eris.Wrapf(err, "read plan %s", file)
	}
	out, err := plan.Pin(data, digests)
	if err != nil {
		return err
	}
	if _, err := plan.Parse(out); err != nil {
		return eris.Wrapf(err, "pinned plan %s", file)
	}
	return os.WriteFile(file, out, 0o644)
}
