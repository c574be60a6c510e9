package boot

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHostAlias = "host.docker.internal"
	DefaultHostsFile = "/etc/hosts"
)

type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// HostEntry maps the address behind Alias to Name in the hosts file.
type HostEntry struct {
	Alias     string
	HostName  string
	HostsFile string
	Resolver  Resolver
}

func (h *HostEntry) Name() string { return "hosts" }

func (h *HostEntry) Run(ctx context.Context) error {
	alias := h.Alias
	if alias == "" {
		alias = DefaultHostAlias
	}
	file := h.HostsFile
	if file == "" {
		file = DefaultHostsFile
	}
	if h.HostName == "" {
		return errors.New("missing host name")
	}
	resolver := h.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	addrs, err := resolver.LookupHost(ctx, alias)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", alias)
	}
	addr := pickAddr(addrs)
	if addr == "" {
		return errors.Errorf("resolve %s: no addresses", alias)
	}

	existing, err := os.ReadFile(file)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "read hosts file")
	}
	if hasHostsEntry(existing, addr, h.HostName) {
		log.Debug().Str("addr", addr).Str("name", h.HostName).Msg("hosts entry already present")
		return nil
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open hosts file")
	}
	defer func() { _ = f.Close() }()

	line := addr + "\t" + h.HostName + "\n"
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		line = "\n" + line
	}
	if _, err := io.WriteString(f, line); err != nil {
		return errors.Wrap(err, "append hosts entry")
	}
	log.Info().Str("addr", addr).Str("name", h.HostName).Msg("registered host")
	return nil
}

// pickAddr prefers the first IPv4 address.
func pickAddr(addrs []string) string {
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a
		}
	}
	if len(addrs) > 0 {
		return addrs[0]
	}
	return ""
}

func hasHostsEntry(content []byte, addr, name string) bool {
	sc := bufio.NewScanner(bytes.NewReader(content))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != addr {
			continue
		}
		for _, f := range fields[1:] {
			if f == name {
				return true
			}
		}
	}
	return false
}

// FlagEnabled is the only truthiness rule for toggles: the exact string "true".
func FlagEnabled(v string) bool {
	return v == "true"
}

// FeatureToggle installs one of two prepared config fragments.
type FeatureToggle struct {
	Feature  string
	Flag     string
	Enabled  string
	Disabled string
	Target   string
}

func (t *FeatureToggle) Name() string {
	if t.Feature == "" {
		return "toggle"
	}
	return "toggle " + t.Feature
}

func (t *FeatureToggle) Run(ctx context.Context) error {
	if t.Target == "" {
		return errors.New("missing toggle target")
	}
	src := t.Disabled
	if FlagEnabled(t.Flag) {
		src = t.Enabled
	} else if t.Flag != "" && t.Flag != "false" {
		log.Warn().Str("feature", t.Feature).Str("value", t.Flag).Msg(`toggle value is neither "true" nor "false"; treating as disabled`)
	}
	if src == "" {
		return errors.New("missing toggle fragment")
	}
	if err := copyFile(src, t.Target); err != nil {
		return err
	}
	log.Info().Str("feature", t.Feature).Bool("enabled", FlagEnabled(t.Flag)).Str("fragment", src).Msg("toggle applied")
	return nil
}

// copyFile writes src to dst through a temp file in dst's directory so the
// target never holds a partial fragment.
func copyFile(src, dst string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return errors.Wrap(err, "read fragment")
	}
	info, err := os.Stat(src)
	if err != nil {
		return errors.Wrap(err, "stat fragment")
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp fragment")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write fragment")
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "chmod fragment")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close fragment")
	}
	return errors.Wrap(os.Rename(tmpName, dst), "install fragment")
}

// Link creates the symlink Path -> Target. An existing correct link is left
// alone, a stale link is replaced, anything else at Path is an error. When
// User is set and the process runs as root the link is owned by User.
type Link struct {
	Target string
	Path   string
	User   string
}

func (l *Link) Name() string { return "link" }

func (l *Link) Run(ctx context.Context) error {
	if l.Target == "" || l.Path == "" {
		return errors.New("link needs target and path")
	}

	fi, err := os.Lstat(l.Path)
	switch {
	case err == nil && fi.Mode()&os.ModeSymlink != 0:
		cur, err := os.Readlink(l.Path)
		if err != nil {
			return errors.Wrap(err, "read link")
		}
		if cur == l.Target {
			log.Debug().Str("path", l.Path).Msg("link already in place")
			return l.chown()
		}
		if err := os.Remove(l.Path); err != nil {
			return errors.Wrap(err, "remove stale link")
		}
	case err == nil:
		return errors.Errorf("%s exists and is not a symlink", l.Path)
	case !os.IsNotExist(err):
		return errors.Wrap(err, "stat link")
	}

	if err := os.Symlink(l.Target, l.Path); err != nil {
		return errors.Wrap(err, "create link")
	}
	log.Info().Str("path", l.Path).Str("target", l.Target).Msg("link created")
	return l.chown()
}

func (l *Link) chown() error {
	if l.User == "" || os.Geteuid() != 0 {
		return nil
	}
	uid, gid, err := lookupIDs(l.User)
	if err != nil {
		return err
	}
	return errors.Wrap(os.Lchown(l.Path, uid, gid), "chown link")
}

// RunAs runs a command under User. Switching identity needs root; otherwise
// the command runs as the current user.
type RunAs struct {
	Label   string
	User    string
	Command []string
	Dir     string
}

func (r *RunAs) Name() string {
	if r.Label == "" {
		return "run"
	}
	return r.Label
}

func (r *RunAs) Run(ctx context.Context) error {
	if len(r.Command) == 0 {
		return errors.New("missing command")
	}
	// #nosec G204 -- command is configured in the stack manifest.
	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	cmd.Dir = r.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if r.User != "" && os.Geteuid() == 0 {
		uid, gid, err := lookupIDs(r.User)
		if err != nil {
			return err
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)},
		}
	}
	return cmd.Run()
}

func lookupIDs(name string) (int, int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "lookup user %s", name)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "parse uid of %s", name)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "parse gid of %s", name)
	}
	return uid, gid, nil
}

type ExecFunc func(argv0 string, argv []string, envv []string) error

// Handoff replaces the current process with Argv. On success Run never
// returns.
type Handoff struct {
	Argv     []string
	Env      []string
	Exec     ExecFunc
	LookPath func(file string) (string, error)
}

func (h *Handoff) Name() string { return "exec" }

func (h *Handoff) Run(ctx context.Context) error {
	if len(h.Argv) == 0 {
		return errors.New("missing supervisor command")
	}
	lookPath := h.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	execFn := h.Exec
	if execFn == nil {
		execFn = syscall.Exec
	}
	env := h.Env
	if env == nil {
		env = os.Environ()
	}

	path, err := lookPath(h.Argv[0])
	if err != nil {
		return errors.Wrapf(err, "find %s", h.Argv[0])
	}
	log.Info().Strs("argv", h.Argv).Msg("handing off")
	return errors.Wrapf(execFn(path, h.Argv, env), "exec %s", path)
}
