//go:build !unix && !windows

package shm

import "os"

func mapFile(*os.File, int) ([]byte, error) {
	return nil, ErrUnsupportedPlatform
}

func unmapFile([]byte) error {
	return nil
}
