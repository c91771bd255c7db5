package dispatch

import (
	"fmt"

	"quakepush/internal/feed"
)

// alertMessage renders the three push fields. Wording matches what Bark
// clients already display, so it must stay stable.
func alertMessage(ev feed.Event, distanceKm float64, intensity int) (title, subtitle, body string) {
	title = fmt.Sprintf("地震预警 M%.1f", ev.Magnitude)
	subtitle = fmt.Sprintf("震度 %d 级 · 距离 %.1f km", intensity, distanceKm)

	region := ev.Region
	if region == "" {
		region = fmt.Sprintf("%.2f°N, %.2f°E", ev.Latitude, ev.Longitude)
	}
	body = fmt.Sprintf("震央: %s\n震源深度: %.0f km\n最大震度: %s 级", region, ev.Depth, ev.MaxIntensity)
	return title, subtitle, body
}
