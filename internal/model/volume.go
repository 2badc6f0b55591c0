package model

// lmsVolumeCurve is the fixed 101-entry perceptual loudness curve LMS
// volumes are mapped through before scaling by a device's MaxVolume.
var lmsVolumeCurve = [101]int{
	0, 1, 1, 1, 2, 2, 2, 3, 3, 4,
	5, 5, 6, 6, 7, 8, 9, 9, 10, 11,
	12, 13, 14, 15, 16, 16, 17, 18, 19, 20,
	22, 23, 24, 25, 26, 27, 28, 29, 30, 32,
	33, 34, 35, 37, 38, 39, 40, 42, 43, 44,
	46, 47, 48, 50, 51, 53, 54, 56, 57, 59,
	60, 61, 63, 65, 66, 68, 69, 71, 72, 74,
	75, 77, 79, 80, 82, 84, 85, 87, 89, 90,
	92, 94, 96, 97, 99, 101, 103, 104, 106, 108, 110,
	112, 113, 115, 117, 119, 121, 123, 125, 127, 128,
}

// MapVolume converts an LMS volume (0-100, clamped) into the renderer's
// native DesiredVolume given its MaxVolume scale. The curve is
// non-decreasing by construction: a <= b implies
// MapVolume(a, max) <= MapVolume(b, max) for any fixed max.
func MapVolume(lmsVolume, maxVolume int) int {
	if lmsVolume < 0 {
		lmsVolume = 0
	}
	if lmsVolume > 100 {
		lmsVolume = 100
	}
	if maxVolume <= 0 {
		maxVolume = 100
	}
	curved := lmsVolumeCurve[lmsVolume]
	return curved * maxVolume / 128
}
