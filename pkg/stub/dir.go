package stub

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/sloppylopez/stablemock/pkg/detect"
	"github.com/sloppylopez/stablemock/pkg/util"
)

// MappingsGlob selects mapping files below a test directory.
const MappingsGlob = "mappings/**/*.json"

// LoadDir reads every mapping below dir/mappings, sorted by path. Files that
// are not mappings are reported as errors.
func LoadDir(dir string) ([]*Mapping, error) {
	paths, err := doublestar.FilepathGlob(filepath.Join(dir, MappingsGlob))
	if err != nil {
		return nil, fmt.Errorf("expanding mapping glob under %s: %w", dir, err)
	}
	sort.Strings(paths)
	out := make([]*Mapping, 0, len(paths))
	for _, p := range paths {
		m, err := ReadMapping(p)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// ApplyDir rewrites the mappings below dir in place. Files no rule touches are
// not written. A mapping that fails to parse or verify aborts the run without
// writing it; files already written stay rewritten.
func (r *Rewriter) ApplyDir(ctx context.Context, dir string, rules []detect.Rule) ([]Change, error) {
	paths, err := doublestar.FilepathGlob(filepath.Join(dir, MappingsGlob))
	if err != nil {
		return nil, fmt.Errorf("expanding mapping glob under %s: %w", dir, err)
	}
	sort.Strings(paths)
	if len(paths) == 0 || len(rules) == 0 {
		return nil, nil
	}

	changes := make([]Change, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			change, err := r.applyFile(p, rules)
			if err != nil {
				return err
			}
			changes[i] = change
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return changes, nil
}

func (r *Rewriter) applyFile(path string, rules []detect.Rule) (Change, error) {
	m, err := ReadMapping(path)
	if err != nil {
		return Change{Path: path}, err
	}
	out, change, err := r.Rewrite(m, rules)
	if err != nil {
		return change, err
	}
	if !change.Modified {
		return change, nil
	}
	perm := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	if err := util.WriteFileAtomic(path, out, perm); err != nil {
		return change, fmt.Errorf("failed to write mapping %s: %w", path, err)
	}
	r.log.Info("mapping rewritten", "file", path, "rules", len(change.Applied))
	return change, nil
}
