package cache

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
)

// cacheDirectoryChecks ensures the cache directory exists
func cacheDirectoryChecks(fs afero.Fs, dir string) error {
	if dir == "" {
		return fmt.Errorf("disk cache path not configured")
	}

	// Check if directory exists
	info, err := fs.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			// Create the directory
			Logger.Info("Creating disk cache directory", "path", dir)
			if err := fs.MkdirAll(dir, 0755); err != nil {
				Logger.Error("Failed to create disk cache directory", "path", dir, "error", err)
				return err
			}
			return nil
		}
		Logger.Error("Error checking disk cache directory", "path", dir, "error", err)
		return err
	}

	// Check if it's actually a directory
	if !info.IsDir() {
		Logger.Error("Disk cache path exists but is not a directory", "path", dir)
		return fmt.Errorf("disk cache path is not a directory: %s", dir)
	}
	return nil
}
