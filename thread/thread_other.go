//go:build !linux

package thread

func setAffinity(core int) error { return nil }

func setName(name string) error { return nil }

func currentAffinity() ([]int, error) { return nil, nil }
