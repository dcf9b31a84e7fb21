package logic

// IsLightOn reports whether the grow light should be on at hour.
func IsLightOn(hour int, w LightWindow) bool {
	end := w.Start + w.OnHours
	if w.End < end {
		end = w.End
	}
	return hour >= w.Start && hour < end
}
