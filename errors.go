package filesys

import "errors"

// Package-specific error variables, meant to be used with errors.Is().
//
// These correspond to the error kinds named in the design: every fallible
// filesystem operation fails with one of these (or returns a zero-valued
// success indicator, per the read/write conventions documented on each
// function).
var (
	// ErrNoSuchPath is returned when a path component cannot be resolved.
	ErrNoSuchPath = errors.New("no such file or directory")

	// ErrNameTooLong is returned when the final path component, or a name
	// passed to Dir.Add, exceeds NameMax bytes. An over-long intermediate
	// component is not checked and fails its lookup with ErrNoSuchPath.
	ErrNameTooLong = errors.New("file name too long")

	// ErrNameExists is returned by Dir.Add when a live entry of the same
	// name is already present.
	ErrNameExists = errors.New("file exists")

	// ErrNotADirectory is returned when a non-directory inode is used
	// where a directory was required. OpenFile (and so OpenPath) also
	// returns it when the inode is a directory.
	ErrNotADirectory = errors.New("not a directory")

	// ErrDirectoryNotEmpty is returned by Remove when the target
	// directory still holds entries other than "." and "..".
	ErrDirectoryNotEmpty = errors.New("directory not empty")

	// ErrNoSpace is returned when the free-sector map has no run of the
	// requested length available.
	ErrNoSpace = errors.New("no space left on device")

	// ErrOutOfRange is returned when a byte offset maps to a sector
	// beyond the inode's addressable capacity.
	ErrOutOfRange = errors.New("offset out of range")

	// ErrWriteDenied is returned by File.Write while the inode's
	// deny-write count is non-zero.
	ErrWriteDenied = errors.New("write denied")

	// ErrRemovedParent names the error kind for mutating a directory that
	// has itself been removed. No operation in this package returns it:
	// adding to or looking up in a removed-but-open directory is not
	// checked.
	ErrRemovedParent = errors.New("parent directory removed")

	// ErrBadMagic is returned when an on-disk inode's magic field does
	// not match InodeMagic.
	ErrBadMagic = errors.New("invalid inode magic")

	// ErrInvalidSector is returned when a sector number is out of range
	// for the underlying block device.
	ErrInvalidSector = errors.New("invalid sector number")
)
