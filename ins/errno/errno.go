// File: ins/errno/errno.go
// Package errno is the INS-side canonical errno table (spec.md §4.7,
// §6): the INS translates every host errno to this fixed Linux
// errno-base numbering (1-133) exactly once, before it ever crosses the
// ring; the PVM never re-translates. golang.org/x/sys/unix already
// defines the Linux numbers this table canonicalizes to, so Canonical
// is close to identity on a Linux host — the table exists so the
// translation point is explicit and centralized rather than assumed,
// and so a future non-Linux INS host has exactly one place to adapt.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package errno

import (
	"errors"

	"golang.org/x/sys/unix"
)

// table maps a host errno to the canonical wire value. Grounded on
// original_source/common/mwerrno.h, which enumerates exactly these 1-133
// values against the same names.
var table = map[unix.Errno]int32{
	unix.EPERM:           1,
	unix.ENOENT:          2,
	unix.ESRCH:           3,
	unix.EINTR:           4,
	unix.EIO:             5,
	unix.ENXIO:           6,
	unix.E2BIG:           7,
	unix.ENOEXEC:         8,
	unix.EBADF:           9,
	unix.ECHILD:          10,
	unix.EAGAIN:          11,
	unix.ENOMEM:          12,
	unix.EACCES:          13,
	unix.EFAULT:          14,
	unix.ENOTBLK:         15,
	unix.EBUSY:           16,
	unix.EEXIST:          17,
	unix.EXDEV:           18,
	unix.ENODEV:          19,
	unix.ENOTDIR:         20,
	unix.EISDIR:          21,
	unix.EINVAL:          22,
	unix.ENFILE:          23,
	unix.EMFILE:          24,
	unix.ENOTTY:          25,
	unix.ETXTBSY:         26,
	unix.EFBIG:           27,
	unix.ENOSPC:          28,
	unix.ESPIPE:          29,
	unix.EROFS:           30,
	unix.EMLINK:          31,
	unix.EPIPE:           32,
	unix.EDOM:            33,
	unix.ERANGE:          34,
	unix.EDEADLK:         35,
	unix.ENAMETOOLONG:    36,
	unix.ENOLCK:          37,
	unix.ENOSYS:          38,
	unix.ENOTEMPTY:       39,
	unix.ELOOP:           40,
	unix.ENOMSG:          42,
	unix.EIDRM:           43,
	unix.ECHRNG:          44,
	unix.EL2NSYNC:        45,
	unix.EL3HLT:          46,
	unix.EL3RST:          47,
	unix.ELNRNG:          48,
	unix.EUNATCH:         49,
	unix.ENOCSI:          50,
	unix.EL2HLT:          51,
	unix.EBADE:           52,
	unix.EBADR:           53,
	unix.EXFULL:          54,
	unix.ENOANO:          55,
	unix.EBADRQC:         56,
	unix.EBADSLT:         57,
	unix.EBFONT:          59,
	unix.ENOSTR:          60,
	unix.ENODATA:         61,
	unix.ETIME:           62,
	unix.ENOSR:           63,
	unix.ENONET:          64,
	unix.ENOPKG:          65,
	unix.EREMOTE:         66,
	unix.ENOLINK:         67,
	unix.EADV:            68,
	unix.ESRMNT:          69,
	unix.ECOMM:           70,
	unix.EPROTO:          71,
	unix.EMULTIHOP:       72,
	unix.EDOTDOT:         73,
	unix.EBADMSG:         74,
	unix.EOVERFLOW:       75,
	unix.ENOTUNIQ:        76,
	unix.EBADFD:          77,
	unix.EREMCHG:         78,
	unix.ELIBACC:         79,
	unix.ELIBBAD:         80,
	unix.ELIBSCN:         81,
	unix.ELIBMAX:         82,
	unix.ELIBEXEC:        83,
	unix.EILSEQ:          84,
	unix.ERESTART:        85,
	unix.ESTRPIPE:        86,
	unix.EUSERS:          87,
	unix.ENOTSOCK:        88,
	unix.EDESTADDRREQ:    89,
	unix.EMSGSIZE:        90,
	unix.EPROTOTYPE:      91,
	unix.ENOPROTOOPT:     92,
	unix.EPROTONOSUPPORT: 93,
	unix.ESOCKTNOSUPPORT: 94,
	unix.EOPNOTSUPP:      95,
	unix.EPFNOSUPPORT:    96,
	unix.EAFNOSUPPORT:    97,
	unix.EADDRINUSE:      98,
	unix.EADDRNOTAVAIL:   99,
	unix.ENETDOWN:        100,
	unix.ENETUNREACH:     101,
	unix.ENETRESET:       102,
	unix.ECONNABORTED:    103,
	unix.ECONNRESET:      104,
	unix.ENOBUFS:         105,
	unix.EISCONN:         106,
	unix.ENOTCONN:        107,
	unix.ESHUTDOWN:       108,
	unix.ETOOMANYREFS:    109,
	unix.ETIMEDOUT:       110,
	unix.ECONNREFUSED:    111,
	unix.EHOSTDOWN:       112,
	unix.EHOSTUNREACH:    113,
	unix.EALREADY:        114,
	unix.EINPROGRESS:     115,
	unix.ESTALE:          116,
	unix.EUCLEAN:         117,
	unix.ENOTNAM:         118,
	unix.ENAVAIL:         119,
	unix.EISNAM:          120,
	unix.EREMOTEIO:       121,
	unix.EDQUOT:          122,
	unix.ENOMEDIUM:       123,
	unix.EMEDIUMTYPE:     124,
	unix.ECANCELED:       125,
	unix.ENOKEY:          126,
	unix.EKEYEXPIRED:     127,
	unix.EKEYREVOKED:     128,
	unix.EKEYREJECTED:    129,
	unix.EOWNERDEAD:      130,
	unix.ENOTRECOVERABLE: 131,
	unix.ERFKILL:         132,
	unix.EHWPOISON:       133,
}

// EIOCanonical is the fallback canonical value for a host error this
// table doesn't recognize (a generic I/O error, per original_source's
// own convention of defaulting unmapped conditions to EIO).
const EIOCanonical int32 = 5

// Canonical translates a single host errno to its canonical wire value.
// An errno this table has no entry for (host-specific extension) maps
// to EIOCanonical.
func Canonical(e unix.Errno) int32 {
	if v, ok := table[e]; ok {
		return v
	}
	return EIOCanonical
}

// FromError canonicalizes any error into a wire errno value: unwraps to
// a unix.Errno if possible, otherwise returns EIOCanonical. A nil err
// returns 0.
func FromError(err error) int32 {
	if err == nil {
		return 0
	}
	var e unix.Errno
	if errors.As(err, &e) {
		return Canonical(e)
	}
	return EIOCanonical
}
