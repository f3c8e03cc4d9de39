package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"cohortingest/internal/clinical"
	"cohortingest/internal/ingest"
	"cohortingest/pkg/domain"
)

// cli holds the state of one invocation. The app is opened by the
// persistent pre-run hook and closed by execute, also when a command fails.
type cli struct {
	opts   rootOptions
	app    *app
	stdout io.Writer
	stderr io.Writer
}

func (c *cli) current() *app { return c.app }

func (c *cli) close() {
	if c.app != nil {
		c.app.close()
		c.app = nil
	}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cohortingest",
		Short:        "Ingest cancer cohort expression matrices joined with clinical survival data",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), c.opts, c.stdout, c.stderr)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
	}
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)
	root.PersistentFlags().StringVar(&c.opts.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&c.opts.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&c.opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(
		newIngestCmd(c.current),
		newStageCmd(c.current),
		newRemergeCmd(c.current),
		newQueryCmd(c.current),
	)
	return root
}

// sourceFlags are the clinical source and strategy overrides shared by
// ingest and remerge.
type sourceFlags struct {
	strategy string
	key      string
	layout   string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "barcode normalization strategy: exact or truncated")
	cmd.Flags().StringVar(&f.key, "clinical-key", "", "object key of the clinical table")
	cmd.Flags().StringVar(&f.layout, "clinical-layout", "", "clinical table layout: named or consolidated")
}

func (f *sourceFlags) resolve(a *app) (domain.Strategy, ingest.ClinicalSource, error) {
	strategy := a.cfg.Strategy()
	if f.strategy != "" {
		s, err := domain.ParseStrategy(f.strategy)
		if err != nil {
			return "", ingest.ClinicalSource{}, err
		}
		strategy = s
	}
	src := a.cfg.ClinicalSource()
	if f.key != "" {
		src.Key = f.key
	}
	if f.layout != "" {
		l, err := clinical.ParseLayout(f.layout)
		if err != nil {
			return "", ingest.ClinicalSource{}, err
		}
		src.Layout = l
	}
	return strategy, src, nil
}

func newIngestCmd(current func() *app) *cobra.Command {
	var src sourceFlags
	var policy, prefix string
	cmd := &cobra.Command{
		Use:   "ingest [keys...]",
		Short: "Refresh the document store from the raw matrices",
		Long: `Loads the clinical table, then parses every matrix (the given keys, or all
keys under the configured prefix), joins it with the clinical data and writes
the result. With the two_phase policy the store is cleared first and a failed
or cancelled run leaves only the files already written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			ctx := cmd.Context()
			strategy, clinicalSrc, err := src.resolve(a)
			if err != nil {
				return err
			}
			p := a.cfg.Policy()
			if policy != "" {
				if p, err = ingest.ParseRefreshPolicy(policy); err != nil {
					return err
				}
			}
			if prefix == "" {
				prefix = a.cfg.Ingest.Prefix
			}
			raw, err := a.rawStore(ctx)
			if err != nil {
				return err
			}
			clin, err := a.clinicalStore(ctx)
			if err != nil {
				return err
			}
			dest, err := a.recordStore(ctx)
			if err != nil {
				return err
			}
			o, err := ingest.New(raw, clin, dest, ingest.Options{
				Strategy: strategy,
				Policy:   p,
				Retry:    a.cfg.Ingest.Retry,
				Prefix:   prefix,
				Logger:   a.log,
				Metrics:  a.metrics,
			})
			if err != nil {
				return err
			}
			rep, runErr := o.Run(ctx, ingest.Request{Files: args, Clinical: clinicalSrc})
			if err := a.printJSON(rep); err != nil {
				return err
			}
			return runErr
		},
	}
	src.register(cmd)
	cmd.Flags().StringVar(&policy, "policy", "", "refresh policy: two_phase or staged")
	cmd.Flags().StringVar(&prefix, "prefix", "", "only ingest raw keys with this prefix")
	return cmd
}

func newStageCmd(current func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Upload local source files into the object store",
	}
	var clear bool
	matrices := &cobra.Command{
		Use:   "matrices <files...>",
		Short: "Upload expression matrices into the raw container",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			raw, err := a.rawStore(cmd.Context())
			if err != nil {
				return err
			}
			infos, err := ingest.Stager{Raw: raw, Logger: a.log}.StageMatrices(cmd.Context(), args, clear)
			if perr := a.printJSON(infos); perr != nil {
				return perr
			}
			return err
		},
	}
	matrices.Flags().BoolVar(&clear, "clear", false, "empty the raw container before uploading")

	clinicalCmd := &cobra.Command{
		Use:   "clinical <file>",
		Short: "Replace the clinical container contents with one clinical table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			clin, err := a.clinicalStore(cmd.Context())
			if err != nil {
				return err
			}
			info, err := ingest.Stager{Clinical: clin, Logger: a.log}.StageClinical(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(info)
		},
	}
	cmd.AddCommand(matrices, clinicalCmd)
	return cmd
}

func newRemergeCmd(current func() *app) *cobra.Command {
	var src sourceFlags
	cmd := &cobra.Command{
		Use:   "remerge",
		Short: "Re-join stored documents with the current clinical table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := current()
			ctx := cmd.Context()
			strategy, clinicalSrc, err := src.resolve(a)
			if err != nil {
				return err
			}
			clin, err := a.clinicalStore(ctx)
			if err != nil {
				return err
			}
			dest, err := a.recordStore(ctx)
			if err != nil {
				return err
			}
			rep, err := ingest.Remerger{
				Clinical: clin,
				Dest:     dest,
				Strategy: strategy,
				Retry:    a.cfg.Ingest.Retry,
				Logger:   a.log,
				Metrics:  a.metrics,
			}.Remerge(ctx, clinicalSrc)
			if err != nil {
				return err
			}
			return a.printJSON(rep)
		},
	}
	src.register(cmd)
	return cmd
}

func newQueryCmd(current func() *app) *cobra.Command {
	var cohort, patient string
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print stored documents by cohort or patient barcode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := current()
			ctx := cmd.Context()
			dest, err := a.recordStore(ctx)
			if err != nil {
				return err
			}
			if cohort != "" {
				docs, err := ingest.DocumentsByCohort(ctx, dest, cohort)
				if err != nil {
					return err
				}
				if docs == nil {
					docs = []domain.MergedRecord{}
				}
				return a.printJSON(docs)
			}
			rec, ok, err := ingest.DocumentByPatient(ctx, dest, patient)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("patient %s: %w", patient, errNoDocument)
			}
			return a.printJSON(rec)
		},
	}
	cmd.Flags().StringVar(&cohort, "cohort", "", "cohort label, e.g. TCGA.ACC")
	cmd.Flags().StringVar(&patient, "patient", "", "patient barcode as stored")
	cmd.MarkFlagsMutuallyExclusive("cohort", "patient")
	cmd.MarkFlagsOneRequired("cohort", "patient")
	return cmd
}

var errNoDocument = errors.New("no stored document")
