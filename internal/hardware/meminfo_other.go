//go:build !linux

package hardware

func totalRAM() int64     { return 0 }
func availableRAM() int64 { return 0 }
