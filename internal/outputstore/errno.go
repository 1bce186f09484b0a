package outputstore

import (
	"errors"
	"syscall"
)

func isNotDirError(err error) bool {
	return errors.Is(err, syscall.ENOTDIR)
}

func isDirError(err error) bool {
	return errors.Is(err, syscall.EISDIR)
}

func isNoSpaceError(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}
