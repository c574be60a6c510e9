package cmds

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-go-golems/devstack/pkg/config"
	"github.com/go-go-golems/devstack/pkg/engine"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	RepoRoot string
	Config   string
	Timeout  time.Duration
}

func AddRootFlags(root *cobra.Command) {
	root.PersistentFlags().String("repo-root", "", "Repository root (defaults to current directory)")
	root.PersistentFlags().String("config", "", "Path to config file (defaults to .devstack.yaml under repo-root)")
	root.PersistentFlags().Duration("timeout", 30*time.Second, "Timeout for stopping services and one-shot probes")
}

func getRootOptions(cmd *cobra.Command) (rootOptions, error) {
	repoRoot, err := cmd.Root().PersistentFlags().GetString("repo-root")
	if err != nil {
		return rootOptions{}, err
	}
	cfgPath, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return rootOptions{}, err
	}
	repoRoot, cfgPath, err = resolvePaths(repoRoot, cfgPath)
	if err != nil {
		return rootOptions{}, err
	}

	timeout, err := cmd.Root().PersistentFlags().GetDuration("timeout")
	if err != nil {
		return rootOptions{}, err
	}
	if timeout <= 0 {
		return rootOptions{}, errors.New("timeout must be > 0")
	}

	return rootOptions{
		RepoRoot: repoRoot,
		Config:   cfgPath,
		Timeout:  timeout,
	}, nil
}

func resolvePaths(repoRoot, cfgPath string) (string, string, error) {
	var err error
	if repoRoot == "" {
		repoRoot, err = os.Getwd()
		if err != nil {
			return "", "", err
		}
	}
	repoRoot, err = filepath.Abs(repoRoot)
	if err != nil {
		return "", "", err
	}
	if cfgPath == "" {
		cfgPath = config.DefaultPath(repoRoot)
	} else if !filepath.IsAbs(cfgPath) {
		cfgPath = filepath.Join(repoRoot, cfgPath)
	}
	return repoRoot, cfgPath, nil
}

func loadPlan(opts rootOptions) (*config.File, engine.LaunchPlan, error) {
	cfg, err := config.LoadFromFile(opts.Config)
	if err != nil {
		return nil, engine.LaunchPlan{}, err
	}
	plan, err := engine.BuildPlan(cfg, engine.Options{Project: filepath.Base(opts.RepoRoot)})
	if err != nil {
		return nil, engine.LaunchPlan{}, err
	}
	return cfg, plan, nil
}

func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator("")
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
