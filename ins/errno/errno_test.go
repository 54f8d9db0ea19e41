package errno_test

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/openxt/mwsockets-go/ins/errno"
)

func TestCanonicalMatchesMwerrnoTable(t *testing.T) {
	cases := []struct {
		host unix.Errno
		want int32
	}{
		{unix.EPERM, 1},
		{unix.EAGAIN, 11},
		{unix.EINVAL, 22},
		{unix.ECONNRESET, 104},
		{unix.ETIMEDOUT, 110},
		{unix.EHWPOISON, 133},
	}
	for _, c := range cases {
		if got := errno.Canonical(c.host); got != c.want {
			t.Errorf("Canonical(%v) = %d, want %d", c.host, got, c.want)
		}
	}
}

func TestFromErrorUnwrapsWrappedErrno(t *testing.T) {
	wrapped := fmt.Errorf("recv: %w", unix.ECONNRESET)
	if got := errno.FromError(wrapped); got != 104 {
		t.Errorf("FromError(wrapped ECONNRESET) = %d, want 104", got)
	}
}

func TestFromErrorNilIsZero(t *testing.T) {
	if got := errno.FromError(nil); got != 0 {
		t.Errorf("FromError(nil) = %d, want 0", got)
	}
}

func TestFromErrorUnknownFallsBackToEIO(t *testing.T) {
	if got := errno.FromError(fmt.Errorf("boom")); got != errno.EIOCanonical {
		t.Errorf("FromError(generic) = %d, want %d", got, errno.EIOCanonical)
	}
}
