package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/symptom-intake-server/internal/catalog"
	"github.com/symptom-intake-server/internal/model"
)

func newCompileCmd() *cobra.Command {
	var (
		outDir string
		kinds  []string
	)
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile artifacts from the catalog's disease profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load()
			if err != nil {
				return err
			}
			return compileArtifacts(cmd.OutOrStdout(), cat, outDir, kinds)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "models", "Directory to write artifacts into")
	cmd.Flags().StringSliceVar(&kinds, "kind", []string{string(model.KindForest), string(model.KindMargin)}, "Artifact kinds to compile")
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <artifact>...",
		Short: "Validate artifacts against the catalog and print their metadata",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load()
			if err != nil {
				return err
			}
			return inspectArtifacts(cmd.Context(), cmd.OutOrStdout(), cat, args)
		},
	}
}

func compileArtifacts(w io.Writer, cat *catalog.Catalog, outDir string, kinds []string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	for _, k := range kinds {
		kind := model.Kind(strings.ToLower(strings.TrimSpace(k)))
		a, err := model.Compile(kind, cat)
		if err != nil {
			return fmt.Errorf("compiling %s: %w", kind, err)
		}
		path := filepath.Join(outDir, string(kind)+".json")
		if err := a.Save(path); err != nil {
			return fmt.Errorf("saving %s: %w", kind, err)
		}
		fmt.Fprintf(w, "%s\t%s\taccuracy=%.3f\n", kind, path, a.ValidationAccuracy)
	}
	return nil
}

func inspectArtifacts(ctx context.Context, w io.Writer, cat *catalog.Catalog, paths []string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tKIND\tVERSION\tLABELS\tFEATURES\tDECLARED\tMEASURED")
	for _, path := range paths {
		a, err := model.LoadArtifact(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		c, err := model.New(a, cat)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		measured, err := model.Evaluate(ctx, c, cat)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.3f\t%.3f\n",
			path, a.Kind, a.Version, len(a.Labels), len(a.Features), a.ValidationAccuracy, measured)
	}
	return tw.Flush()
}
