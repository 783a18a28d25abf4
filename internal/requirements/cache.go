// Package requirements keeps third-party dependencies installed in a cache
// directory keyed by the digest of the dependency manifest. Each tag tracks
// the manifest it last installed; a manifest change triggers a reinstall into
// a fresh directory, an unchanged manifest is a hit with no side effects.
package requirements

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/serverledge-faas/localfaas/internal/metrics"
	"github.com/serverledge-faas/localfaas/utils"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	DefaultTag   = "default"
	markerSuffix = "_requirements.txt"
	tmpPrefix    = ".tmp-"
)

// InstallError reports an installation that did not complete. The cache
// directory for the digest is not created.
type InstallError struct {
	Tag    string
	Digest string
	Output string
	Cause  error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("installing requirements for tag '%s' (%s): %v", e.Tag, shortDigest(e.Digest), e.Cause)
}

func (e *InstallError) Unwrap() error {
	return e.Cause
}

// TagStatus describes what a tag currently points at.
type TagStatus struct {
	Tag       string `json:"tag"`
	Digest    string `json:"digest"`
	Directory string `json:"directory"`
	Installed bool   `json:"installed"`
}

type Cache struct {
	root      string
	installer Installer
	logger    *log.Logger

	mu       sync.Mutex
	tagLocks map[string]*sync.Mutex
	// readers counts leases per digest; superseded holds digests no tag
	// points at any more, removed once their last lease is released.
	readers    map[string]int
	superseded map[string]bool
}

// Lease keeps an install directory on disk until Release is called.
type Lease struct {
	// Dir is empty when there is no manifest.
	Dir string

	once    sync.Once
	release func()
}

// Release is safe to call more than once and on a nil Lease.
func (l *Lease) Release() {
	if l == nil || l.release == nil {
		return
	}
	l.once.Do(l.release)
}

type CacheOption func(*Cache)

func WithLogger(l *log.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = l
	}
}

func NewCache(root string, installer Installer, opts ...CacheOption) *Cache {
	c := &Cache{
		root:       root,
		installer:  installer,
		logger:     log.Default(),
		tagLocks:   make(map[string]*sync.Mutex),
		readers:    make(map[string]int),
		superseded: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Root() string {
	return c.root
}

// Dir is the install directory for a manifest digest.
func (c *Cache) Dir(digest string) string {
	return filepath.Join(c.root, digest)
}

// EnsureInstalled returns the directory holding the dependencies of manifest
// for tag, installing them if the manifest content is not cached yet. It
// returns "" and no error when the manifest cannot be read.
//
// The directory may be removed by a later install for the same tag; callers
// that read from it while other requests run use Acquire.
func (c *Cache) EnsureInstalled(ctx context.Context, manifest, tag string) (string, error) {
	lease, err := c.acquire(ctx, manifest, tag, false)
	if err != nil {
		return "", err
	}
	lease.Release()
	return lease.Dir, nil
}

// Reinstall installs the dependencies even if the digest directory exists.
func (c *Cache) Reinstall(ctx context.Context, manifest, tag string) (string, error) {
	lease, err := c.acquire(ctx, manifest, tag, true)
	if err != nil {
		return "", err
	}
	lease.Release()
	return lease.Dir, nil
}

// Acquire is EnsureInstalled for readers: the returned directory is not
// removed before the lease is released, even if the manifest changes and
// another request installs a new one in the meantime.
func (c *Cache) Acquire(ctx context.Context, manifest, tag string) (*Lease, error) {
	return c.acquire(ctx, manifest, tag, false)
}

func (c *Cache) acquire(ctx context.Context, manifest, tag string, force bool) (*Lease, error) {
	if tag == "" {
		tag = DefaultTag
	}
	if err := validateTag(tag); err != nil {
		return nil, err
	}

	digest, err := utils.FileDigest(manifest)
	if err != nil {
		c.logger.Infof("No requirements found at %s, skipping package installation", manifest)
		return &Lease{}, nil
	}

	// hit without locking only when the tag already points at this digest
	if !force {
		lease := c.lease(digest)
		if isDir(lease.Dir) && c.currentDigest(tag) == digest {
			c.logger.Debugf("Requirements not changed, skipping update for tag '%s'", tag)
			metrics.AddCacheLookup(tag, true)
			return lease, nil
		}
		lease.Release()
	}

	unlock, err := c.lock(tag)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// the manifest may have been edited while waiting for the lock
	content, err := os.ReadFile(manifest)
	if err != nil {
		c.logger.Infof("No requirements found at %s, skipping package installation", manifest)
		return &Lease{}, nil
	}
	digest = utils.BytesDigest(content)
	lease := c.lease(digest)

	if !force && isDir(lease.Dir) {
		// installed by another tag, or by this one before the marker moved
		metrics.AddCacheLookup(tag, true)
		if err := c.switchTag(tag, digest, content); err != nil {
			lease.Release()
			return nil, err
		}
		return lease, nil
	}
	metrics.AddCacheLookup(tag, false)

	if err := c.install(ctx, manifest, content, tag, digest, force); err != nil {
		lease.Release()
		return nil, err
	}
	if err := c.switchTag(tag, digest, content); err != nil {
		lease.Release()
		return nil, err
	}
	return lease, nil
}

// lease registers a reader of the digest directory.
func (c *Cache) lease(digest string) *Lease {
	c.mu.Lock()
	c.readers[digest]++
	c.mu.Unlock()
	return &Lease{
		Dir:     c.Dir(digest),
		release: func() { c.releaseDigest(digest) },
	}
}

func (c *Cache) releaseDigest(digest string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.readers[digest]--
	if c.readers[digest] > 0 {
		return
	}
	delete(c.readers, digest)
	if c.superseded[digest] {
		delete(c.superseded, digest)
		c.removeUnreferenced(digest, "")
	}
}

// switchTag points tag at digest and retires the digest it pointed at
// before. Must be called with the tag lock held.
func (c *Cache) switchTag(tag, digest string, content []byte) error {
	prev := c.currentDigest(tag)
	if err := c.writeMarker(tag, content); err != nil {
		return err
	}
	if prev == "" || prev == digest {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readers[prev] > 0 {
		c.logger.Debugf("Keeping %s until its running invocations complete", shortDigest(prev))
		c.superseded[prev] = true
		return nil
	}
	c.removeUnreferenced(prev, tag)
	return nil
}

// removeUnreferenced deletes the digest directory unless a tag other than
// except still points at it. Must be called with c.mu held.
func (c *Cache) removeUnreferenced(digest, except string) {
	if c.referencedByOtherTag(digest, except) {
		c.logger.Debugf("Keeping %s, still used by another tag", shortDigest(digest))
		return
	}
	if err := os.RemoveAll(c.Dir(digest)); err != nil {
		c.logger.Warnf("Could not remove stale requirements %s: %v", c.Dir(digest), err)
	}
}

// install runs the installer on a copy of content, the manifest as it was
// digested, so edits made while installing do not land under digest.
func (c *Cache) install(ctx context.Context, manifest string, content []byte, tag, digest string, force bool) error {
	c.logger.Infof("Updating requirements for tag '%s' (%s)...", tag, shortDigest(digest))

	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return fmt.Errorf("creating cache root %s: %w", c.root, err)
	}
	snapshot, err := os.MkdirTemp(c.root, tmpPrefix+"manifest-")
	if err != nil {
		return fmt.Errorf("creating manifest snapshot: %w", err)
	}
	defer os.RemoveAll(snapshot)
	snapshotManifest := filepath.Join(snapshot, filepath.Base(manifest))
	if err := os.WriteFile(snapshotManifest, content, 0o644); err != nil {
		return fmt.Errorf("creating manifest snapshot: %w", err)
	}

	tmp, err := os.MkdirTemp(c.root, tmpPrefix+shortDigest(digest)+"-")
	if err != nil {
		return fmt.Errorf("creating install directory: %w", err)
	}

	start := time.Now()
	out, err := c.installer.Install(ctx, snapshotManifest, tmp)
	metrics.AddInstallDurationValue(tag, time.Since(start).Seconds())
	if err != nil {
		_ = os.RemoveAll(tmp)
		metrics.AddInstallFailure(tag)
		c.logger.Errorf("Requirements installation failed for tag '%s': %v\n%s", tag, err, out)
		return &InstallError{Tag: tag, Digest: digest, Output: string(out), Cause: err}
	}
	if len(out) > 0 {
		c.logger.Debug(strings.TrimSpace(string(out)))
	}

	dir := c.Dir(digest)
	if force {
		_ = os.RemoveAll(dir)
	}
	if err := os.Rename(tmp, dir); err != nil {
		_ = os.RemoveAll(tmp)
		// another tag installed the same digest in the meantime
		if !isDir(dir) {
			return fmt.Errorf("moving requirements into %s: %w", dir, err)
		}
	}

	c.logger.Infof("Requirements for tag '%s' installed in %s (%.2fs)", tag, dir, time.Since(start).Seconds())
	return nil
}

// lock serializes installs for tag inside the process and, on linux, across
// processes sharing the cache root.
func (c *Cache) lock(tag string) (func(), error) {
	c.mu.Lock()
	m, ok := c.tagLocks[tag]
	if !ok {
		m = &sync.Mutex{}
		c.tagLocks[tag] = m
	}
	c.mu.Unlock()

	m.Lock()
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		m.Unlock()
		return nil, fmt.Errorf("creating cache root %s: %w", c.root, err)
	}
	fl, err := acquireTagLock(c.root, tag)
	if err != nil && !errors.Is(err, errFlockUnavailable) {
		m.Unlock()
		return nil, err
	}
	return func() {
		fl.Release()
		m.Unlock()
	}, nil
}

func (c *Cache) markerPath(tag string) string {
	return filepath.Join(c.root, tag+markerSuffix)
}

func (c *Cache) writeMarker(tag string, content []byte) error {
	marker := c.markerPath(tag)
	tmp := marker + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("writing requirements marker: %w", err)
	}
	if err := os.Rename(tmp, marker); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing requirements marker: %w", err)
	}
	return nil
}

func (c *Cache) currentDigest(tag string) string {
	digest, err := utils.FileDigest(c.markerPath(tag))
	if err != nil {
		return ""
	}
	return digest
}

func (c *Cache) markers() map[string]string {
	found := make(map[string]string)
	paths, err := filepath.Glob(filepath.Join(c.root, "*"+markerSuffix))
	if err != nil {
		return found
	}
	for _, p := range paths {
		tag := strings.TrimSuffix(filepath.Base(p), markerSuffix)
		if digest, err := utils.FileDigest(p); err == nil {
			found[tag] = digest
		}
	}
	return found
}

func (c *Cache) referencedByOtherTag(digest, tag string) bool {
	for other, d := range c.markers() {
		if other != tag && d == digest {
			return true
		}
	}
	return false
}

// Status lists the known tags sorted by name.
func (c *Cache) Status() []TagStatus {
	found := c.markers()
	tags := maps.Keys(found)
	slices.Sort(tags)

	status := make([]TagStatus, 0, len(tags))
	for _, tag := range tags {
		dir := c.Dir(found[tag])
		status = append(status, TagStatus{
			Tag:       tag,
			Digest:    found[tag],
			Directory: dir,
			Installed: isDir(dir),
		})
	}
	return status
}

func validateTag(tag string) error {
	if strings.ContainsAny(tag, `/\`) || tag == "." || tag == ".." || strings.HasPrefix(tag, ".") {
		return fmt.Errorf("invalid requirements tag '%s'", tag)
	}
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
