package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/yuya-takeyama/strict-object-store/pkg/batch"
	"github.com/yuya-takeyama/strict-object-store/pkg/objpath"
	"github.com/yuya-takeyama/strict-object-store/pkg/planner"
)

// PlanResult represents the planned operations before execution
type PlanResult struct {
	Files   []PlanFile  `json:"files"`
	Summary PlanSummary `json:"summary"`
}

type PlanFile struct {
	Action string `json:"action"` // "skip", "create", "update", "delete"
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
	Reason string `json:"reason"`
}

type PlanSummary struct {
	Skip   int `json:"skip"`
	Create int `json:"create"`
	Update int `json:"update"`
	Delete int `json:"delete"`
}

// SyncResult represents the actual execution results
type SyncResult struct {
	Files   []ResultFile  `json:"files"`
	Errors  []ErrorFile   `json:"errors"`
	Summary ResultSummary `json:"summary"`
}

type ResultFile struct {
	Action string `json:"action"` // "skipped", "created", "updated", "deleted"
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
}

type ErrorFile struct {
	Action string `json:"action"` // "create", "update", "delete"
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
	Error  string `json:"error"`
}

type ResultSummary struct {
	Skipped int `json:"skipped"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

type syncFlags struct {
	dryRun         bool
	deleteFlag     bool
	excludes       []string
	planJSONFile   string
	resultJSONFile string
}

func newSyncCmd(a *app) *cobra.Command {
	var f syncFlags
	cmd := &cobra.Command{
		Use:   "sync <LocalPath> [prefix]",
		Short: "Make a store prefix mirror a local directory",
		Long: `sync uploads new and changed files from LocalPath to prefix. Files of equal
size are compared by SHA-256, so unchanged files are never rewritten.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: a.runE(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			prefix := objpath.Root()
			if len(args) == 2 {
				p, err := objpath.Parse(args[1])
				if err != nil {
					return err
				}
				prefix = p
			}
			return a.runSync(ctx, cmd, args[0], prefix, f)
		}),
	}

	cmd.Flags().BoolVar(&f.dryRun, "dryrun", false, "Shows operations without executing")
	cmd.Flags().BoolVar(&f.deleteFlag, "delete", false, "Delete dest files not in source")
	cmd.Flags().StringSliceVar(&f.excludes, "exclude", nil, "Exclude patterns (multiple allowed)")
	cmd.Flags().StringVar(&f.planJSONFile, "plan-json-file", "", "Path to output plan as JSON file")
	cmd.Flags().StringVar(&f.resultJSONFile, "result-json-file", "", "Path to output result as JSON file")
	return cmd
}

func (a *app) runSync(ctx context.Context, cmd *cobra.Command, localPath string, prefix objpath.Path, f syncFlags) error {
	syncLogger := a.syncLogger(cmd, f.dryRun)

	plnr := planner.NewDirToStorePlanner(a.fs, a.store, syncLogger).WithWorkers(a.cfg.Concurrency)

	opts := planner.Options{
		DeleteEnabled: f.deleteFlag,
		Excludes:      append(append([]string{}, a.cfg.Exclude...), f.excludes...),
	}

	items, err := plnr.Plan(ctx, planner.Source{Path: localPath}, planner.Destination{Prefix: prefix}, opts)
	if err != nil {
		return fmt.Errorf("failed to generate plan: %w", err)
	}

	// Output plan if requested
	if f.planJSONFile != "" {
		if err := a.writePlanResult(f.planJSONFile, items); err != nil {
			return fmt.Errorf("failed to write plan JSON: %w", err)
		}
	}

	if len(items) == 0 {
		if f.resultJSONFile != "" && !f.dryRun {
			// Write empty result for actual execution
			result := SyncResult{
				Files:   []ResultFile{},
				Errors:  []ErrorFile{},
				Summary: ResultSummary{},
			}
			if err := a.writeSyncResult(f.resultJSONFile, result); err != nil {
				return fmt.Errorf("failed to write result JSON: %w", err)
			}
		}
		return nil
	}

	if f.dryRun {
		// In dry-run mode, just log the operations
		for _, item := range items {
			switch item.Action {
			case planner.ActionUpload:
				syncLogger.Upload(item.LocalPath, a.target(item.Location))
			case planner.ActionDelete:
				syncLogger.Delete(a.target(item.Location))
			}
		}
		return nil
	}

	// Execute the plan
	exec := batch.NewExecutor(a.store, a.fs, syncLogger, a.limits()).WithTargetFormat(a.target)
	results := exec.Execute(ctx, items)

	syncResult := a.summarize(results)

	if f.resultJSONFile != "" {
		if err := a.writeSyncResult(f.resultJSONFile, syncResult); err != nil {
			return fmt.Errorf("failed to write result JSON: %w", err)
		}
	}

	if syncResult.Summary.Failed > 0 {
		return fmt.Errorf("%d operations failed", syncResult.Summary.Failed)
	}

	return nil
}

func (a *app) summarize(results []batch.Result) SyncResult {
	syncResult := SyncResult{
		Files:  []ResultFile{},
		Errors: []ErrorFile{},
	}

	for _, result := range results {
		target := a.target(result.Item.Location)

		if result.Error != nil {
			action := getActionName(result.Item.Action)
			if result.Item.Action == planner.ActionUpload {
				action = getUploadActionName(result.Item.Reason)
			}

			errorFile := ErrorFile{
				Action: action,
				Target: target,
				Error:  result.Error.Error(),
			}
			if result.Item.Action == planner.ActionUpload {
				errorFile.Source = getAbsolutePath(result.Item.LocalPath)
			}
			syncResult.Errors = append(syncResult.Errors, errorFile)
			syncResult.Summary.Failed++
			continue
		}

		// Successful operations
		switch result.Item.Action {
		case planner.ActionUpload:
			actionPast := "updated"
			if getUploadActionName(result.Item.Reason) == "create" {
				actionPast = "created"
				syncResult.Summary.Created++
			} else {
				syncResult.Summary.Updated++
			}
			syncResult.Files = append(syncResult.Files, ResultFile{
				Action: actionPast,
				Source: getAbsolutePath(result.Item.LocalPath),
				Target: target,
			})
		case planner.ActionDelete:
			syncResult.Files = append(syncResult.Files, ResultFile{
				Action: "deleted",
				Target: target,
			})
			syncResult.Summary.Deleted++
		case planner.ActionSkip:
			syncResult.Files = append(syncResult.Files, ResultFile{
				Action: "skipped",
				Source: getAbsolutePath(result.Item.LocalPath),
				Target: target,
			})
			syncResult.Summary.Skipped++
		}
	}
	return syncResult
}

func (a *app) writePlanResult(path string, items []planner.Item) error {
	plan := PlanResult{Files: []PlanFile{}}

	for _, item := range items {
		var file PlanFile
		switch item.Action {
		case planner.ActionUpload:
			action := getUploadActionName(item.Reason)
			file = PlanFile{
				Action: action,
				Source: getAbsolutePath(item.LocalPath),
				Target: a.target(item.Location),
				Reason: item.Reason,
			}
			if action == "create" {
				plan.Summary.Create++
			} else {
				plan.Summary.Update++
			}
		case planner.ActionDelete:
			file = PlanFile{
				Action: "delete",
				Target: a.target(item.Location),
				Reason: item.Reason,
			}
			plan.Summary.Delete++
		case planner.ActionSkip:
			file = PlanFile{
				Action: "skip",
				Source: getAbsolutePath(item.LocalPath),
				Target: a.target(item.Location),
				Reason: item.Reason,
			}
			plan.Summary.Skip++
		}
		plan.Files = append(plan.Files, file)
	}

	return a.writeJSON(path, plan)
}

func (a *app) writeSyncResult(path string, result SyncResult) error {
	return a.writeJSON(path, result)
}

func (a *app) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := afero.WriteFile(a.fs, path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

func getActionName(action planner.Action) string {
	switch action {
	case planner.ActionUpload:
		return "create" // Use getUploadActionName for accurate create/update distinction
	case planner.ActionDelete:
		return "delete"
	case planner.ActionSkip:
		return "skip"
	default:
		return "unknown"
	}
}

func getUploadActionName(reason string) string {
	if reason == "new file" {
		return "create"
	}
	return "update"
}

func getAbsolutePath(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path // fallback to original path
	}
	return absPath
}
