//go:build windows

package checkpoint

import (
	"golang.org/x/sys/windows"
)

func osReplace(tmpPath, dest string) error {
	from, err := windows.UTF16PtrFromString(tmpPath)
	if err != nil {
		return err
	}
	to, err := windows.UTF16PtrFromString(dest)
	if err != nil {
		return err
	}
	return windows.MoveFileEx(from, to, windows.MOVEFILE_REPLACE_EXISTING|windows.MOVEFILE_WRITE_THROUGH)
}

// directories cannot be fsynced on windows
func syncDir(dir string) error {
	return nil
}
