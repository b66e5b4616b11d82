// Package util holds process level helpers of the command line.
package util

import (
	"fmt"
	"os"
)

// Pushd changes the working directory to dir. The returned function changes
// it back.
func Pushd(dir string) (func() error, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if err := os.Chdir(dir); err != nil {
		return nil, fmt.Errorf("pushd: %w", err)
	}
	return func() error {
		return os.Chdir(wd)
	}, nil
}
