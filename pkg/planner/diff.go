package planner

import (
	"path/filepath"
	"sort"

	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
)

// Compare walks both listings in Rel order and classifies each path. Inputs
// need not be sorted.
func Compare(local, stored []ItemMetadata, deleteEnabled bool) Diff {
	local = sortedByPath(local)
	stored = sortedByPath(stored)

	diff := Diff{
		Missing:   []Ref{},
		Orphaned:  []Ref{},
		Resized:   []Ref{},
		Unsure:    []Ref{},
		Identical: []Ref{},
	}
	i, j := 0, 0
	for i < len(local) || j < len(stored) {
		switch {
		case j == len(stored) || (i < len(local) && local[i].Path < stored[j].Path):
			diff.Missing = append(diff.Missing, Ref{Rel: local[i].Path, Size: local[i].Size})
			i++
		case i == len(local) || stored[j].Path < local[i].Path:
			if deleteEnabled {
				diff.Orphaned = append(diff.Orphaned, Ref{Rel: stored[j].Path, Size: stored[j].Size})
			}
			j++
		default:
			l, s := local[i], stored[j]
			ref := Ref{Rel: l.Path, Size: l.Size}
			switch {
			case l.Size != s.Size:
				diff.Resized = append(diff.Resized, ref)
			case l.Checksum != "" && l.Checksum == s.Checksum:
				diff.Identical = append(diff.Identical, ref)
			default:
				diff.Unsure = append(diff.Unsure, ref)
			}
			i++
			j++
		}
	}
	return diff
}

func sortedByPath(items []ItemMetadata) []ItemMetadata {
	out := append([]ItemMetadata(nil), items...)
	sort.Slice(out, func(a, b int) bool { return out[a].Path < out[b].Path })
	return out
}

// destination maps a relative path onto the store. Relative paths come from
// a directory walk or a store listing and always parse.
func destination(prefix objpath.Path, rel string) objpath.Path {
	return prefix.Join(objpath.MustParse(rel))
}

// BuildPlan turns a Diff and the digests of its Unsure paths into items,
// grouped by action and ordered by location within a group. Unsure paths without a
// digest are left alone.
func BuildPlan(diff Diff, digests []Digest, localBase string, prefix objpath.Path) []Item {
	upload := func(ref Ref, reason string) Item {
		return Item{
			Action:    ActionUpload,
			LocalPath: filepath.Join(localBase, filepath.FromSlash(ref.Rel)),
			Location:  destination(prefix, ref.Rel),
			Size:      ref.Size,
			Reason:    reason,
		}
	}

	items := []Item{}
	for _, ref := range diff.Missing {
		items = append(items, upload(ref, "new file"))
	}
	for _, ref := range diff.Resized {
		items = append(items, upload(ref, "size differs"))
	}
	for _, d := range digests {
		if d.Differs() {
			items = append(items, upload(d.Ref, "checksum differs"))
		}
	}
	for _, ref := range diff.Orphaned {
		items = append(items, Item{
			Action:   ActionDelete,
			Location: destination(prefix, ref.Rel),
			Size:     ref.Size,
			Reason:   "deleted locally",
		})
	}

	sort.SliceStable(items, func(a, b int) bool {
		if items[a].Action != items[b].Action {
			return items[a].Action < items[b].Action
		}
		return objpath.Compare(items[a].Location, items[b].Location) < 0
	})
	return items
}
