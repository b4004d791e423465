// Package git keeps the stored triggers in step with definitions committed
// to a Git repository.
package git

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	httpauth "github.com/go-git/go-git/v5/plumbing/transport/http"
	sshauth "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/opsdesk/opsdesk/internal/ruledef"
	"github.com/opsdesk/opsdesk/internal/secret"
	"github.com/opsdesk/opsdesk/pkg/log"
	schema "github.com/opsdesk/opsdesk/pkg/ruledef"
	"github.com/skeema/knownhosts"
)

// Source names a repository path holding trigger definitions.
type Source struct {
	URL      string
	Ref      string
	Path     string
	Globs    []string
	Auth     *BasicAuth
	SSH      *SSHAuth
	Resolver secret.Resolver
}

// BasicAuth holds credentials for HTTPS remotes. Each *Ref field is a
// secret reference used when its plain counterpart is empty.
type BasicAuth struct {
	Username    string
	Password    string
	UsernameRef string
	PasswordRef string
}

// SSHAuth holds the key and host verification for SSH remotes.
type SSHAuth struct {
	Username       string
	UsernameRef    string
	PrivateKey     string
	PrivateKeyRef  string
	Passphrase     string
	PassphraseRef  string
	KnownHosts     string
	KnownHostsRef  string
	KnownHostsPath string
}

// Sync clones the repository once and applies its definitions.
func (s *Source) Sync(ctx context.Context, importer *ruledef.Importer) (*ruledef.Result, error) {
	dir, err := os.MkdirTemp("", "opsdesk-triggers-")
	if err != nil {
		return nil, err
	}
	defer removeAll(dir)

	repo, err := s.fetch(ctx, dir, nil)
	if err != nil {
		return nil, err
	}
	hash, err := headHash(repo)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, importer, dir, hash)
}

// WatchOptions configure a recurring sync loop.
type WatchOptions struct {
	Source   Source
	Interval time.Duration
	Once     bool
	// Dir keeps the clone between runs. A temporary directory is used
	// when empty.
	Dir string
}

// Watch syncs once and then on every interval until ctx ends. A commit is
// applied only once.
func Watch(ctx context.Context, importer *ruledef.Importer, opts WatchOptions) error {
	if importer == nil {
		return errors.New("importer is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}

	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		tmp, err := os.MkdirTemp("", "opsdesk-triggers-watch-")
		if err != nil {
			return err
		}
		defer removeAll(tmp)
		dir = tmp
	}

	var (
		repo     *git.Repository
		lastHash string
	)
	syncOnce := func() error {
		var err error
		if repo, err = opts.Source.fetch(ctx, dir, repo); err != nil {
			return err
		}
		hash, err := headHash(repo)
		if err != nil || hash == lastHash {
			return err
		}
		if _, err := opts.Source.apply(ctx, importer, dir, hash); err != nil {
			return err
		}
		lastHash = hash
		return nil
	}

	if err := syncOnce(); err != nil {
		return err
	}
	if opts.Once {
		return nil
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
			if err := syncOnce(); err != nil {
				return err
			}
		}
	}
}

func (s *Source) apply(ctx context.Context, importer *ruledef.Importer, dir, commit string) (*ruledef.Result, error) {
	files, err := s.files(dir)
	if err != nil {
		return nil, err
	}

	defs, err := schema.Load(files)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		log.Warn("no trigger definitions in repository", "url", s.URL, "commit", commit)
		return &ruledef.Result{}, nil
	}

	res, err := importer.Apply(ctx, defs)
	if err != nil {
		return nil, fmt.Errorf("apply %s@%s: %w", s.URL, shortHash(commit), err)
	}

	log.Info("trigger definitions synced",
		"url", s.URL, "commit", shortHash(commit),
		"created", len(res.Created), "updated", len(res.Updated), "unchanged", len(res.Unchanged))
	return res, nil
}

func (s *Source) files(dir string) ([]string, error) {
	root := dir
	if p := strings.Trim(strings.TrimSpace(s.Path), "/"); p != "" {
		root = filepath.Join(dir, p)
	}
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if s.include(filepath.ToSlash(rel)) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

func (s *Source) include(rel string) bool {
	if ext := strings.ToLower(filepath.Ext(rel)); ext != ".yaml" && ext != ".yml" {
		return false
	}
	if len(s.Globs) == 0 {
		return true
	}
	for _, pattern := range s.Globs {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if ok, err := doublestar.PathMatch(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// fetch clones into dir, or pulls when repo is already open there.
func (s *Source) fetch(ctx context.Context, dir string, repo *git.Repository) (*git.Repository, error) {
	opts, cleanup, err := s.cloneOptions(ctx)
	defer cleanup()
	if err != nil {
		return nil, err
	}

	if repo == nil {
		return clone(ctx, dir, opts)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, err
	}

	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName:    git.DefaultRemoteName,
		ReferenceName: opts.ReferenceName,
		Auth:          opts.Auth,
		SingleBranch:  true,
		Force:         true,
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate), errors.Is(err, transport.ErrEmptyRemoteRepository):
		return repo, nil
	case errors.Is(err, git.ErrNonFastForwardUpdate):
		// history was rewritten upstream; follow it
		ref, err := repo.Reference(plumbing.NewRemoteReferenceName(git.DefaultRemoteName, opts.ReferenceName.Short()), true)
		if err != nil {
			return nil, err
		}
		if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: ref.Hash()}); err != nil {
			return nil, err
		}
		return repo, nil
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		return clone(ctx, dir, opts)
	default:
		return nil, err
	}
}

func clone(ctx context.Context, dir string, opts *git.CloneOptions) (*git.Repository, error) {
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	return git.PlainCloneContext(ctx, dir, false, opts)
}

func (s *Source) cloneOptions(ctx context.Context) (*git.CloneOptions, func(), error) {
	auth, cleanup, err := s.authMethod(ctx)
	if err != nil {
		return nil, cleanup, err
	}
	return &git.CloneOptions{
		URL:           s.URL,
		Depth:         1,
		SingleBranch:  true,
		ReferenceName: referenceName(s.Ref),
		Auth:          auth,
	}, cleanup, nil
}

func (s *Source) authMethod(ctx context.Context) (transport.AuthMethod, func(), error) {
	switch {
	case s.SSH != nil:
		return s.sshAuth(ctx)
	case s.Auth != nil:
		auth, err := s.basicAuth(ctx)
		if err != nil || auth == nil {
			return nil, noop, err
		}
		return auth, noop, nil
	default:
		return nil, noop, nil
	}
}

func (s *Source) basicAuth(ctx context.Context) (*httpauth.BasicAuth, error) {
	username, err := s.value(ctx, s.Auth.Username, s.Auth.UsernameRef)
	if err != nil {
		return nil, err
	}
	password, err := s.value(ctx, s.Auth.Password, s.Auth.PasswordRef)
	if err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	if username == "" && strings.TrimSpace(password) == "" {
		return nil, nil
	}
	return &httpauth.BasicAuth{Username: username, Password: password}, nil
}

func (s *Source) sshAuth(ctx context.Context) (transport.AuthMethod, func(), error) {
	username, err := s.value(ctx, s.SSH.Username, s.SSH.UsernameRef)
	if err != nil {
		return nil, noop, err
	}
	if username = strings.TrimSpace(username); username == "" {
		username = sshauth.DefaultUsername
	}

	key, err := s.value(ctx, s.SSH.PrivateKey, s.SSH.PrivateKeyRef)
	if err != nil {
		return nil, noop, err
	}
	if strings.TrimSpace(key) == "" {
		return nil, noop, errors.New("ssh private key is required")
	}

	passphrase, err := s.value(ctx, s.SSH.Passphrase, s.SSH.PassphraseRef)
	if err != nil {
		return nil, noop, err
	}

	pk, err := sshauth.NewPublicKeys(username, []byte(key), passphrase)
	if err != nil {
		return nil, noop, err
	}

	endpoint, err := transport.NewEndpoint(s.URL)
	if err != nil {
		return nil, noop, err
	}

	callback, cleanup, err := s.hostKeyCallback(ctx, endpoint)
	if err != nil {
		return nil, noop, err
	}
	pk.HostKeyCallbackHelper = callback
	return pk, cleanup, nil
}

// hostKeyCallback verifies the remote against known_hosts. Inline entries
// are written to a temporary file that cleanup removes.
func (s *Source) hostKeyCallback(ctx context.Context, endpoint *transport.Endpoint) (sshauth.HostKeyCallbackHelper, func(), error) {
	var paths []string
	if p := strings.TrimSpace(s.SSH.KnownHostsPath); p != "" {
		paths = append(paths, p)
	}

	inline, err := s.value(ctx, s.SSH.KnownHosts, s.SSH.KnownHostsRef)
	if err != nil {
		return sshauth.HostKeyCallbackHelper{}, noop, err
	}

	cleanup := noop
	if inline = strings.TrimSpace(inline); inline != "" {
		path, err := writeTemp("opsdesk-known-hosts-", inline+"\n")
		if err != nil {
			return sshauth.HostKeyCallbackHelper{}, noop, err
		}
		paths = append(paths, path)
		cleanup = func() { removeAll(path) }
	}

	if len(paths) == 0 {
		return sshauth.HostKeyCallbackHelper{}, noop, errors.New("ssh known hosts configuration required")
	}

	db, err := knownhosts.NewDB(paths...)
	if err != nil {
		cleanup()
		return sshauth.HostKeyCallbackHelper{}, noop, err
	}

	if host := hostWithPort(endpoint); host != "" && len(db.HostKeyAlgorithms(host)) == 0 {
		cleanup()
		return sshauth.HostKeyCallbackHelper{}, noop, fmt.Errorf("no known_hosts entry for %s", host)
	}

	return sshauth.HostKeyCallbackHelper{HostKeyCallback: db.HostKeyCallback()}, cleanup, nil
}

// value returns plain, or resolves ref when plain is empty.
func (s *Source) value(ctx context.Context, plain, ref string) (string, error) {
	if strings.TrimSpace(plain) != "" {
		return plain, nil
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", nil
	}
	if s.Resolver == nil {
		return "", fmt.Errorf("secret resolver not configured for %q", ref)
	}
	v, err := s.Resolver.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("resolve secret %q: %w", ref, err)
	}
	return v, nil
}

func hostWithPort(endpoint *transport.Endpoint) string {
	host := strings.TrimSpace(endpoint.Host)
	if host == "" {
		return ""
	}
	port := endpoint.Port
	if port == 0 {
		switch strings.ToLower(endpoint.Protocol) {
		case "http":
			port = 80
		case "https":
			port = 443
		case "git":
			port = 9418
		default:
			port = 22
		}
	}
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func headHash(repo *git.Repository) (string, error) {
	ref, err := repo.Head()
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

func referenceName(ref string) plumbing.ReferenceName {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return plumbing.NewBranchReferenceName("main")
	case strings.HasPrefix(ref, "refs/"):
		return plumbing.ReferenceName(ref)
	default:
		return plumbing.NewBranchReferenceName(ref)
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func writeTemp(pattern, data string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	_, writeErr := f.WriteString(data)
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		removeAll(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func removeAll(path string) {
	if err := os.RemoveAll(path); err != nil {
		log.Error("cleanup", "path", path, "error", err)
	}
}

func noop() {}
