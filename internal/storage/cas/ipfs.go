package cas

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
)

// IPFSBackend stores payloads through an IPFS node's HTTP API.
// The shell API has no per-call context, so calls are bounded by the shell timeout.
// Add does not pin; callers pin explicitly so the pinned flag they record is accurate.
type IPFSBackend struct {
	sh *shell.Shell
}

// NewIPFSBackend connects to the node API at url (e.g. "localhost:5001").
func NewIPFSBackend(url string, timeout time.Duration) *IPFSBackend {
	sh := shell.NewShell(url)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}
	return &IPFSBackend{sh: sh}
}

func (b *IPFSBackend) Add(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return b.sh.Add(bytes.NewReader(data), shell.Pin(false), shell.CidVersion(1))
}

func (b *IPFSBackend) Cat(ctx context.Context, address string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := b.sh.Cat(address)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer rc.Close()
	return readLimited(rc, MaxObjectBytes)
}

// readLimited reads at most limit bytes and fails with ErrTooLarge past that.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

func (b *IPFSBackend) Pin(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.sh.Pin(address)
}

func (b *IPFSBackend) Unpin(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.sh.Unpin(address)
}

func (b *IPFSBackend) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := b.sh.Version()
	return err
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "invalid path") || strings.Contains(msg, "no link named")
}

var _ Backend = (*IPFSBackend)(nil)
