// Package store defines the errors shared by node storage implementations.
package store

import "errors"

// ============================================================================
// Standard Storage Errors
// ============================================================================

// Storage implementations wrap these with context; protocol handlers check
// them with errors.Is and turn them into status text:
//
//	if err := st.Remove(ctx, vp); err != nil {
//	    if errors.Is(err, store.ErrNotFound) {
//	        return "Remove failed: File not found"
//	    }
//	    ...
//	}

var (
	// ErrNotFound indicates the requested path does not exist.
	//
	// Reply mapping:
	//   - Fetch: zero size + "File not found"
	//   - Remove: "Remove failed: File not found"
	ErrNotFound = errors.New("file not found")

	// ErrNotRegular indicates the path exists but is a directory, device or
	// other non-regular file.
	//
	// Reply mapping:
	//   - Fetch: zero size + "File not found"
	//   - Remove: "Remove failed: Not a regular file"
	ErrNotRegular = errors.New("not a regular file")

	// ErrPermission indicates the filesystem refused access.
	//
	// Reply mapping:
	//   - Remove: "Remove failed: Permission denied"
	ErrPermission = errors.New("permission denied")

	// ErrNoMatches indicates a Bundle found no file of the requested type.
	//
	// Reply mapping:
	//   - Bundle: zero size + "Download failed: No files found"
	ErrNoMatches = errors.New("no files found")
)
