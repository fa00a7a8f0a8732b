//go:build windows

package shm

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

func mapFile(f *os.File, size int) ([]byte, error) {
	h, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, windows.PAGE_READWRITE, 0, uint32(size), nil)
	if err != nil {
		return nil, os.NewSyscallError("CreateFileMapping", err)
	}
	// The view keeps the mapping object alive after the handle is closed.
	defer windows.CloseHandle(h) //nolint:errcheck // best effort

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		return nil, os.NewSyscallError("MapViewOfFile", err)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil //nolint:govet // address returned by MapViewOfFile
}

func unmapFile(mem []byte) error {
	return windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&mem[0])))
}
