package domain

// MeasureProbeFunc reports the client box of the first SVG element in
// document order. Drivers that call functions (rod) use it directly.
const MeasureProbeFunc = `() => {
	const el = document.getElementsByTagName("svg")[0];
	if (!el) {
		return {found: false, width: 0, height: 0};
	}
	return {found: true, width: el.clientWidth, height: el.clientHeight};
}`

// MeasureProbe is MeasureProbeFunc as an expression for drivers that
// evaluate plain expressions (chromedp).
const MeasureProbe = "(" + MeasureProbeFunc + ")()"

// Probe is the decoded result of MeasureProbe.
type Probe struct {
	Found  bool    `json:"found"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Size converts a probe into a measurement, or ErrNoGraphic when nothing matched.
func (p Probe) Size() (MeasuredSize, error) {
	if !p.Found {
		return MeasuredSize{}, ErrNoGraphic
	}
	return MeasuredSize{Width: p.Width, Height: p.Height}, nil
}
