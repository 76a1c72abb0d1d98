// Package license defines license keys and the Authority interface the
// enhancement engine uses to authorize itself and report usage.
//
// A key has the textual form "<version>.<class>.<secret>". Online keys must be
// authorized by an [Authority] and keep reporting processed audio duration;
// offline keys are self-contained and never contact an authority.
//
// The network protocol behind an Authority is not part of this package. Test
// code uses the mock subpackage.
package license

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// KeyVersion is the only key format version this build understands.
const KeyVersion = 1

var (
	// ErrKeyFormatInvalid is returned by [ParseKey] for malformed keys.
	ErrKeyFormatInvalid = errors.New("license: key format invalid")

	// ErrKeyVersionUnsupported is returned by [ParseKey] for keys of an
	// unknown format version.
	ErrKeyVersionUnsupported = errors.New("license: key version unsupported")

	// ErrLicenseExpired is returned by an [Authority] when the key is no
	// longer valid.
	ErrLicenseExpired = errors.New("license: expired")

	// ErrLicenseInvalid is returned by an [Authority] that rejects a key.
	ErrLicenseInvalid = errors.New("license: rejected by authority")

	// ErrUnreachable is returned by an [Authority] that cannot be contacted.
	ErrUnreachable = errors.New("license: authority unreachable")
)

// Class distinguishes keys that need an authority from self-contained ones.
type Class string

const (
	// ClassOnline keys are authorized remotely and report usage.
	ClassOnline Class = "online"

	// ClassOffline keys are valid without contacting an authority.
	ClassOffline Class = "offline"
)

// IsValid reports whether c is a recognised class.
func (c Class) IsValid() bool {
	return c == ClassOnline || c == ClassOffline
}

// Key is a parsed license key.
type Key struct {
	Version int
	Class   Class
	Secret  string
}

// ParseKey parses the textual key form "<version>.<class>.<secret>".
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ".", 3)
	if len(parts) != 3 || parts[2] == "" {
		return Key{}, fmt.Errorf("%w: want <version>.<class>.<secret>", ErrKeyFormatInvalid)
	}
	version, err := strconv.Atoi(parts[0])
	if err != nil || version <= 0 {
		return Key{}, fmt.Errorf("%w: version %q", ErrKeyFormatInvalid, parts[0])
	}
	if version != KeyVersion {
		return Key{}, fmt.Errorf("%w: %d", ErrKeyVersionUnsupported, version)
	}
	class := Class(parts[1])
	if !class.IsValid() {
		return Key{}, fmt.Errorf("%w: class %q", ErrKeyFormatInvalid, parts[1])
	}
	return Key{Version: version, Class: class, Secret: parts[2]}, nil
}

// Online reports whether k must be authorized by an [Authority].
func (k Key) Online() bool { return k.Class == ClassOnline }

// String returns the key with the secret redacted, for logs.
func (k Key) String() string {
	return fmt.Sprintf("%d.%s.<redacted>", k.Version, k.Class)
}

// Usage is a usage report for audio processed since the previous successful
// report.
type Usage struct {
	// InstanceID identifies the reporting processor.
	InstanceID string

	// Audio is the duration of audio processed.
	Audio time.Duration

	// At is the time the report was produced.
	At time.Time
}

// IsRejection reports whether err is an authority's verdict on the key
// itself rather than a failure to reach it.
func IsRejection(err error) bool {
	return errors.Is(err, ErrLicenseInvalid) || errors.Is(err, ErrLicenseExpired)
}

// Authority authorizes keys and accepts usage reports. Implementations must
// be safe for concurrent use and must honour context cancellation.
type Authority interface {
	// Authorize checks k. A nil error grants the key.
	Authorize(ctx context.Context, k Key) error

	// ReportUsage submits usage accumulated under k.
	ReportUsage(ctx context.Context, k Key, u Usage) error
}
