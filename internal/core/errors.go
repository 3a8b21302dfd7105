package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreadableArtifact indicates a required file vanished or could not be read.
	ErrUnreadableArtifact = errors.New("unreadable artifact")

	// ErrCacheCorruption indicates a cache entry exists but fails validation.
	ErrCacheCorruption = errors.New("cache corruption")
)

// UnreadableArtifactError names the slot and location that could not be read.
type UnreadableArtifactError struct {
	Slot SlotID
	Path string
	Err  error
}

func (e *UnreadableArtifactError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s (%s)", ErrUnreadableArtifact, e.Slot, e.Path)
	}
	return fmt.Sprintf("%s: %s (%s): %v", ErrUnreadableArtifact, e.Slot, e.Path, e.Err)
}

func (e *UnreadableArtifactError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUnreadableArtifact}
	}
	return []error{ErrUnreadableArtifact, e.Err}
}

// CacheCorruptionError reports an entry that failed integrity validation.
type CacheCorruptionError struct {
	Key    CacheKey
	Reason string
}

func (e *CacheCorruptionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrCacheCorruption, e.Key, e.Reason)
}

func (e *CacheCorruptionError) Unwrap() error {
	return ErrCacheCorruption
}

func corruptf(key CacheKey, format string, args ...any) error {
	return &CacheCorruptionError{Key: key, Reason: fmt.Sprintf(format, args...)}
}
