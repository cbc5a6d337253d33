package tool

import (
	"fmt"
	"os"
)

// VerifyArtifact confirms a produced artifact exists and is non-empty. A
// backup is never reported successful without passing this check.
func VerifyArtifact(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no artifact path recorded", ErrToolFailure)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: artifact %q not found: %v", ErrToolFailure, path, err)
	}
	if !info.IsDir() {
		if info.Size() == 0 {
			return fmt.Errorf("%w: artifact %q is empty", ErrToolFailure, path)
		}
		return nil
	}
	size, err := artifactSize(path)
	if err != nil {
		return fmt.Errorf("%w: artifact %q unreadable: %v", ErrToolFailure, path, err)
	}
	if size == 0 {
		return fmt.Errorf("%w: artifact directory %q is empty", ErrToolFailure, path)
	}
	return nil
}
