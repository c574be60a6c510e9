package cmds

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const shortcutConfig = `name: shop
compose:
  binary: [echo]
  project: shop
shortcuts:
  artisan:
    help: Run artisan in the app container
    args: [exec, app, php, artisan]
  up:
    args: [up, -d, --wait]
`

func writeConfig(t *testing.T, content string) (string, string) {
	t.Helper()
	repoRoot := t.TempDir()
	cfgPath := filepath.Join(repoRoot, ".devstack.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	return repoRoot, cfgPath
}

func newTestRoot(t *testing.T) *cobra.Command {
	t.Helper()
	root := &cobra.Command{Use: "devstack", SilenceUsage: true}
	AddRootFlags(root)
	require.NoError(t, AddCommands(root))
	return root
}

func TestShortcutCommands_RegisterAndRun(t *testing.T) {
	repoRoot, cfgPath := writeConfig(t, shortcutConfig)
	root := newTestRoot(t)

	err := AddShortcutCommands(root, []string{
		"devstack",
		"--repo-root", repoRoot,
		"--config", cfgPath,
		"artisan",
	})
	require.NoError(t, err)

	artisan, _, err := root.Find([]string{"artisan"})
	require.NoError(t, err)
	require.Equal(t, "Run artisan in the app container", artisan.Short)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--repo-root", repoRoot, "artisan", "--", "migrate", "--force"})
	require.NoError(t, root.Execute())
	require.Equal(t, "-p shop exec app php artisan migrate --force\n", out.String())
}

func TestShortcutCommands_SkipsBuiltIns(t *testing.T) {
	repoRoot, cfgPath := writeConfig(t, shortcutConfig)
	root := newTestRoot(t)

	err := AddShortcutCommands(root, []string{"devstack", "--repo-root", repoRoot, "--config", cfgPath, "status"})
	require.NoError(t, err)
	require.False(t, rootHasCommand(root, "artisan"))
}

func TestShortcutCommands_NeverShadowBuiltIns(t *testing.T) {
	repoRoot, cfgPath := writeConfig(t, shortcutConfig)
	root := newTestRoot(t)
	before := len(root.Commands())

	require.NoError(t, AddShortcutCommands(root, []string{"devstack", "--repo-root", repoRoot, "--config", cfgPath, "shell"}))

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	// up, down and logs stay the native commands; only non-colliding shortcuts are added.
	require.Len(t, names, before+5)
	require.Contains(t, names, "artisan")
	require.Contains(t, names, "build")
	require.Contains(t, names, "restart")
	require.Contains(t, names, "ps")
	require.Contains(t, names, "shell")
}

func TestShortcutX_ReachesShadowedShortcut(t *testing.T) {
	repoRoot, _ := writeConfig(t, shortcutConfig)
	root := newTestRoot(t)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--repo-root", repoRoot, "x", "up"})
	require.NoError(t, root.Execute())
	require.Equal(t, "-p shop up -d --wait\n", out.String())

	out.Reset()
	root.SetArgs([]string{"--repo-root", repoRoot, "x"})
	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), "artisan")
	require.Contains(t, out.String(), "echo -p shop logs -f")

	root.SetArgs([]string{"--repo-root", repoRoot, "x", "nope"})
	require.Error(t, root.Execute())
}

func TestParseRepoArgs(t *testing.T) {
	repoRoot := t.TempDir()
	gotRoot, gotCfg, pos, err := parseRepoArgs([]string{"devstack", "--repo-root", repoRoot, "artisan", "tinker"})
	require.NoError(t, err)
	require.Equal(t, repoRoot, gotRoot)
	require.Equal(t, filepath.Join(repoRoot, ".devstack.yaml"), gotCfg)
	require.Equal(t, []string{"artisan", "tinker"}, pos)

	_, gotCfg, _, err = parseRepoArgs([]string{"devstack", "--repo-root", repoRoot, "--config", "stack.yaml"})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(repoRoot, "stack.yaml"), gotCfg)
}
