package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/yuya-takeyama/strict-object-store/internal/walker"
	"github.com/yuya-takeyama/strict-object-store/pkg/batch"
	"github.com/yuya-takeyama/strict-object-store/pkg/logger"
	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
	"github.com/yuya-takeyama/strict-object-store/pkg/planner"
)

func newLsCmd(a *app) *cobra.Command {
	var (
		delimiter bool
		excludes  []string
	)
	cmd := &cobra.Command{
		Use:   "ls [prefix]",
		Short: "List objects below a prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.runE(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			prefix := objpath.Root()
			if len(args) == 1 {
				p, err := objpath.Parse(args[0])
				if err != nil {
					return err
				}
				prefix = p
			}

			patterns := append(append([]string{}, a.cfg.Exclude...), excludes...)
			if err := planner.ValidatePatterns(patterns); err != nil {
				return err
			}

			if delimiter {
				res, err := a.store.ListWithDelimiter(ctx, prefix)
				if err != nil {
					return err
				}
				res.Objects = filterExcluded(res.Objects, patterns)
				if res.CommonPrefixes == nil {
					res.CommonPrefixes = []objpath.Path{}
				}
				return a.render(cmd.OutOrStdout(), res, func(w io.Writer) error {
					prefixes := make([]string, 0, len(res.CommonPrefixes))
					for _, p := range res.CommonPrefixes {
						prefixes = append(prefixes, p.String())
					}
					return writeMetaTable(w, res.Objects, prefixes)
				})
			}

			metas, err := a.store.List(ctx, prefix)
			if err != nil {
				return err
			}
			metas = filterExcluded(metas, patterns)
			return a.render(cmd.OutOrStdout(), metas, func(w io.Writer) error {
				return writeMetaTable(w, metas, nil)
			})
		}),
	}
	cmd.Flags().BoolVarP(&delimiter, "delimiter", "d", false, "List one level and group deeper objects into prefixes")
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "Exclude patterns (multiple allowed)")
	return cmd
}

func filterExcluded(metas []objectstore.ObjectMeta, patterns []string) []objectstore.ObjectMeta {
	out := make([]objectstore.ObjectMeta, 0, len(metas))
	for _, m := range metas {
		if !walker.Excluded(m.Location.String(), patterns) {
			out = append(out, m)
		}
	}
	return out
}

func newHeadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "head <path>",
		Short: "Show object metadata",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			meta, err := a.store.Head(ctx, objpath.Raw(args[0]))
			if err != nil {
				return err
			}
			return a.render(cmd.OutOrStdout(), meta, func(w io.Writer) error {
				return writeMeta(w, meta)
			})
		}),
	}
}

func newCatCmd(a *app) *cobra.Command {
	var offset uint64
	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Stream an object to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			st, err := a.store.Stream(ctx, objpath.Raw(args[0]), objectstore.WithOffset(offset))
			if err != nil {
				return err
			}
			_, err = st.WriteTo(cmd.OutOrStdout())
			return err
		}),
	}
	cmd.Flags().Uint64Var(&offset, "offset", 0, "Start streaming at this byte offset")
	return cmd
}

func newGetRangeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get-range <path> <start> <length>",
		Short: "Print length bytes of an object starting at start",
		Args:  cobra.ExactArgs(3),
		RunE: a.runE(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			start, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid start %q: %w", args[1], err)
			}
			length, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid length %q: %w", args[2], err)
			}

			data, err := a.store.GetRange(ctx, objpath.Raw(args[0]), start, length)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}),
	}
}

func newPutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put <path> [file|-]",
		Short: "Write a file or stdin to an object",
		Args:  cobra.RangeArgs(1, 2),
		RunE: a.runE(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			loc, err := objpath.Parse(args[0])
			if err != nil {
				return err
			}

			source := "-"
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 2 && args[1] != "-" {
				source = args[1]
				f, err := a.fs.Open(source)
				if err != nil {
					return fmt.Errorf("failed to open file: %w", err)
				}
				defer f.Close()
				r = f
			}

			log := a.syncLogger(cmd, false)
			log.Upload(source, a.target(loc))
			return a.store.PutReader(ctx, loc, r)
		}),
	}
}

func newRmCmd(a *app) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm <path>...",
		Short: "Delete objects",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.runE(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			var targets []objpath.Path
			for _, arg := range args {
				loc, err := objpath.Parse(arg)
				if err != nil {
					return err
				}
				if !recursive {
					targets = append(targets, loc)
					continue
				}

				metas, err := a.store.List(ctx, loc)
				if err != nil {
					return err
				}
				if !loc.IsRoot() {
					targets = append(targets, loc)
				}
				for _, m := range metas {
					targets = append(targets, m.Location)
				}
			}

			log := a.syncLogger(cmd, false)
			errs := batch.Each(ctx, a.limits(), targets, func(ctx context.Context, loc objpath.Path) error {
				log.Delete(a.target(loc))
				return a.store.Delete(ctx, loc)
			})
			return reportFailures(log, "delete", targets, errs)
		}),
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Also delete every object below each path")
	return cmd
}

type copyPair struct {
	src, dst objpath.Path
}

func newCpCmd(a *app) *cobra.Command {
	var (
		noClobber bool
		recursive bool
	)
	cmd := &cobra.Command{
		Use:   "cp <src> <dst>",
		Short: "Copy objects within the store",
		Args:  cobra.ExactArgs(2),
		RunE: a.runE(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			src, err := objpath.Parse(args[0])
			if err != nil {
				return err
			}
			dst, err := objpath.Parse(args[1])
			if err != nil {
				return err
			}

			pairs := []copyPair{{src, dst}}
			if recursive {
				if pairs, err = a.expand(ctx, src, dst); err != nil {
					return err
				}
			}

			copyFn := a.store.Copy
			if noClobber {
				copyFn = a.store.CopyIfNotExists
			}

			log := a.syncLogger(cmd, false)
			errs := batch.Each(ctx, a.limits(), pairs, func(ctx context.Context, p copyPair) error {
				log.Copy(a.target(p.src), a.target(p.dst))
				return copyFn(ctx, p.src, p.dst)
			})
			sources := make([]objpath.Path, len(pairs))
			for i, p := range pairs {
				sources[i] = p.src
			}
			return reportFailures(log, "copy", sources, errs)
		}),
	}
	cmd.Flags().BoolVar(&noClobber, "no-clobber", false, "Fail instead of replacing an existing destination")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Copy every object below src to the same relative path below dst")
	return cmd
}

// expand pairs every object below src with its counterpart below dst.
func (a *app) expand(ctx context.Context, src, dst objpath.Path) ([]copyPair, error) {
	metas, err := a.store.List(ctx, src)
	if err != nil {
		return nil, err
	}
	pairs := make([]copyPair, 0, len(metas))
	for _, m := range metas {
		rest, ok := m.Location.StripPrefix(src)
		if !ok {
			continue
		}
		tail, err := objpath.FromSegments(rest...)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, copyPair{m.Location, dst.Join(tail)})
	}
	return pairs, nil
}

func newMvCmd(a *app) *cobra.Command {
	var noClobber bool
	cmd := &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Rename an object",
		Args:  cobra.ExactArgs(2),
		RunE: a.runE(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			src, err := objpath.Parse(args[0])
			if err != nil {
				return err
			}
			dst, err := objpath.Parse(args[1])
			if err != nil {
				return err
			}

			log := a.syncLogger(cmd, false)
			log.Move(a.target(src), a.target(dst))
			if noClobber {
				return a.store.RenameIfNotExists(ctx, src, dst)
			}
			return a.store.Rename(ctx, src, dst)
		}),
	}
	cmd.Flags().BoolVar(&noClobber, "no-clobber", false, "Fail instead of replacing an existing destination")
	return cmd
}

func (a *app) limits() batch.Limits {
	return batch.NewLimits(a.cfg.Concurrency, a.cfg.RateLimit)
}

func reportFailures(log logger.Logger, operation string, locs []objpath.Path, errs []error) error {
	var failed int
	for i, err := range errs {
		if err != nil {
			failed++
			log.Error(operation, locs[i].String(), err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d operations failed", failed)
	}
	return nil
}
