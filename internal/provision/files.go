package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// fileSystem is where the proxy and issuers put their files. localFS writes
// directly; privilegedFS routes every change through a Runner (typically
// sudo) for deployments where the coordinator does not own the target dirs.
type fileSystem interface {
	WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error
	Remove(ctx context.Context, path string) error
	RemoveAll(ctx context.Context, path string) error
	Symlink(ctx context.Context, target, link string) error
	MkdirAll(ctx context.Context, path string, perm os.FileMode) error
}

type localFS struct{}

func (localFS) WriteFile(_ context.Context, path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (localFS) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (localFS) RemoveAll(_ context.Context, path string) error {
	return os.RemoveAll(path)
}

func (localFS) Symlink(_ context.Context, target, link string) error {
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return err
	}
	if err := os.Remove(link); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Symlink(target, link)
}

func (localFS) MkdirAll(_ context.Context, path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

type privilegedFS struct {
	run Runner
}

func (p privilegedFS) WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	if _, err := p.run.Run(ctx, nil, "mkdir", "-p", filepath.Dir(path)); err != nil {
		return err
	}
	if _, err := p.run.Run(ctx, data, "tee", path); err != nil {
		return err
	}
	_, err := p.run.Run(ctx, nil, "chmod", fmt.Sprintf("%o", perm.Perm()), path)
	return err
}

func (p privilegedFS) Remove(ctx context.Context, path string) error {
	_, err := p.run.Run(ctx, nil, "rm", "-f", path)
	return err
}

func (p privilegedFS) RemoveAll(ctx context.Context, path string) error {
	_, err := p.run.Run(ctx, nil, "rm", "-rf", path)
	return err
}

func (p privilegedFS) Symlink(ctx context.Context, target, link string) error {
	_, err := p.run.Run(ctx, nil, "ln", "-sfn", target, link)
	return err
}

func (p privilegedFS) MkdirAll(ctx context.Context, path string, perm os.FileMode) error {
	_, err := p.run.Run(ctx, nil, "mkdir", "-p", "-m", fmt.Sprintf("%o", perm.Perm()), path)
	return err
}

func newFileSystem(run Runner, privileged bool) fileSystem {
	if privileged {
		return privilegedFS{run: run}
	}
	return localFS{}
}
