// package fetch wraps the external downloader behind a typed contract.
//
// Everything the underlying yt-dlp layer can fail with is coerced into a
// [FetchError] with a known [ErrorKind]; no uncategorized failure crosses
// this boundary.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lucky-verma/music-discovery/internal/models"
)

// ErrorKind categorizes downloader failures for the retry policy.
type ErrorKind string

const (
	// KindNotFound: source removed or private. Not retryable.
	KindNotFound ErrorKind = "not_found"
	// KindRateLimited: upstream throttling. Retryable with a long backoff.
	KindRateLimited ErrorKind = "rate_limited"
	// KindTransientNetwork: timeouts, resets, DNS blips. Retryable.
	KindTransientNetwork ErrorKind = "transient_network"
	// KindUnsupportedFormat: no extractable audio. Not retryable.
	KindUnsupportedFormat ErrorKind = "unsupported_format"
	// KindUnknown: anything unrecognized. Retried once, then surfaced.
	KindUnknown ErrorKind = "unknown"
	// KindCancelled: the job's context was cancelled mid-fetch.
	KindCancelled ErrorKind = "cancelled"
)

// FetchError is a categorized downloader failure.
type FetchError struct {
	Kind ErrorKind
	Ref  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.Ref, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the queue may re-attempt the fetch.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTransientNetwork, KindUnknown:
		return true
	}
	return false
}

// AsFetchError extracts a *FetchError from an error chain.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Fetcher retrieves raw audio plus metadata for a source reference.
//
// Implementations must honor ctx cancellation: an aborted fetch returns a
// [FetchError] with [KindCancelled].
type Fetcher interface {
	Fetch(ctx context.Context, sourceRef, quality string) (*models.MediaResult, error)
}

// Classify coerces an arbitrary downloader failure into a FetchError by
// matching known yt-dlp error output. ctx errors take priority so a
// cancelled job is never misreported as a network failure.
func Classify(ctx context.Context, ref string, err error, output string) *FetchError {
	if ctx.Err() != nil {
		return &FetchError{Kind: KindCancelled, Ref: ref, Err: ctx.Err()}
	}

	text := strings.ToLower(output)
	if text == "" && err != nil {
		text = strings.ToLower(err.Error())
	}

	switch {
	case containsAny(text,
		"video unavailable",
		"private video",
		"this video is not available",
		"video has been removed",
		"404"):
		return &FetchError{Kind: KindNotFound, Ref: ref, Err: err}

	case containsAny(text,
		"429",
		"too many requests",
		"rate limit",
		"rate-limit"):
		return &FetchError{Kind: KindRateLimited, Ref: ref, Err: err}

	case containsAny(text,
		"timed out",
		"timeout",
		"connection reset",
		"connection refused",
		"temporary failure",
		"network is unreachable",
		"unable to download",
		"503",
		"502"):
		return &FetchError{Kind: KindTransientNetwork, Ref: ref, Err: err}

	case containsAny(text,
		"unsupported url",
		"no video formats",
		"requested format is not available",
		"drm"):
		return &FetchError{Kind: KindUnsupportedFormat, Ref: ref, Err: err}
	}

	return &FetchError{Kind: KindUnknown, Ref: ref, Err: err}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// NormalizeSourceRef rewrites catalog references into URLs yt-dlp accepts.
//
// YouTube Music links are folded to their plain YouTube equivalents; bare
// video ids become watch URLs; free-text queries become ytsearch1: refs.
func NormalizeSourceRef(ref string) string {
	if strings.Contains(ref, "music.youtube.com") {
		if i := strings.Index(ref, "watch?v="); i >= 0 {
			id := strings.SplitN(ref[i+len("watch?v="):], "&", 2)[0]
			return "https://youtube.com/watch?v=" + id
		}
		if i := strings.Index(ref, "playlist?list="); i >= 0 {
			id := strings.SplitN(ref[i+len("playlist?list="):], "&", 2)[0]
			return "https://youtube.com/playlist?list=" + id
		}
	}

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") ||
		strings.HasPrefix(ref, "ytsearch") {
		return ref
	}

	if isVideoID(ref) {
		return "https://youtube.com/watch?v=" + ref
	}

	return "ytsearch1:" + ref
}

// isVideoID matches the 11-character YouTube video id alphabet.
func isVideoID(s string) bool {
	if len(s) != 11 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
