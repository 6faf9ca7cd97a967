package util

import "fmt"

func MHzToString(hz uint64) string {
	return fmt.Sprintf("%0.4f MHz", float64(hz)/1e6)
}

// HzToMHz is used for plot axes, which read better in MHz than in Hz.
func HzToMHz(hz float64) float64 {
	return hz / 1e6
}
