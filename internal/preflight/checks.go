package preflight

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"mediaqueue/internal/config"
	"mediaqueue/internal/deps"
)

const endpointTimeout = 5 * time.Second

func pass(name, detail string) Result { return Result{Name: name, Passed: true, Detail: detail} }

func fail(name, format string, args ...any) Result {
	return Result{Name: name, Detail: fmt.Sprintf(format, args...)}
}

// CheckEndpoint sends a HEAD request to url. Anything but a 5xx or a
// transport error passes; ntfy answers HEAD with 405 and that still proves
// the server is up.
func CheckEndpoint(ctx context.Context, name, url string) Result {
	url = strings.TrimSpace(url)
	if url == "" {
		return fail(name, "no url configured")
	}
	ctx, cancel := context.WithTimeout(ctx, endpointTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return fail(name, "bad url: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fail(name, "unreachable: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fail(name, "HTTP %d", resp.StatusCode)
	}
	return pass(name, "reachable")
}

// CheckDirectoryAccess requires path to be a directory the daemon can list,
// read and write.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fail(name, "%s does not exist", path)
	case err != nil:
		return fail(name, "%s: %v", path, err)
	case !info.IsDir():
		return fail(name, "%s is not a directory", path)
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return fail(name, "%s: %v", path, err)
	}
	return pass(name, path)
}

// FreeSpaceMiB is the space on path's filesystem available to unprivileged
// users.
func FreeSpaceMiB(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize) >> 20, nil
}

// CheckFreeSpace fails when fewer than minMiB are free under path.
func CheckFreeSpace(name, path string, minMiB int) Result {
	free, err := FreeSpaceMiB(path)
	if err != nil {
		return fail(name, "%v", err)
	}
	if minMiB > 0 && free < uint64(minMiB) {
		return fail(name, "%d MiB free, %d MiB required", free, minMiB)
	}
	return pass(name, fmt.Sprintf("%d MiB free", free))
}

// CheckSystemDeps resolves the executables the configured pipeline runs.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.Check(deps.ForConfig(cfg))
}
