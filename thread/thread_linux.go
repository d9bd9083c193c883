//go:build linux

package thread

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func setAffinity(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	// pid 0 targets the calling thread, which is locked to this goroutine.
	return unix.SchedSetaffinity(0, &set)
}

func setName(name string) error {
	p, err := unix.BytePtrFromString(truncateName(name))
	if err != nil {
		return err
	}
	return unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(p)), 0, 0, 0)
}

// currentAffinity returns the CPUs the calling thread may run on.
func currentAffinity() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, err
	}
	var cpus []int
	for i := 0; i < len(set)*64; i++ {
		if set.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	return cpus, nil
}
