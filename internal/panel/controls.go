package panel

import (
	"fmt"

	"github.com/KevinKickass/OpenSPIMCore/internal/dispatch"
)

// Control is a front-end widget bound to one state parameter.
type Control interface {
	Key() string
	// SetValue updates the widget from the state. Widgets may report the
	// change back through their edit callback; those reports are dropped.
	SetValue(v any)
}

// Bind registers a control and returns the callback it reports user edits
// through. Edits become change requests unless the panel is refreshing
// controls.
func (p *Panel) Bind(c Control) (func(v any), error) {
	if err := p.do(func() {
		p.controls = append(p.controls, c)
		if v, ok := p.mirror[c.Key()]; ok {
			p.withSuspended(func() { c.SetValue(v) })
		}
	}); err != nil {
		return nil, err
	}

	return func(v any) {
		if p.suspended.Load() {
			return
		}
		if _, err := p.RequestChange(map[string]any{c.Key(): v}); err != nil {
			p.logger.Debug("Control edit dropped")
		}
	}, nil
}

func (p *Panel) refreshControls() {
	if len(p.controls) == 0 {
		return
	}
	p.withSuspended(func() {
		for _, c := range p.controls {
			if v, ok := p.mirror[c.Key()]; ok {
				c.SetValue(v)
			}
		}
	})
}

// withSuspended blocks edit propagation while fn runs, including when fn
// panics.
func (p *Panel) withSuspended(fn func()) {
	p.suspended.Store(true)
	defer p.suspended.Store(false)
	fn()
}

// ProgressView renders progress the way the acquisition and total progress
// bars show it.
type ProgressView struct {
	AcquisitionPercent int    `json:"acquisition_percent"`
	AcquisitionLabel   string `json:"acquisition_label"`
	TotalPercent       int    `json:"total_percent"`
	TotalLabel         string `json:"total_label"`
}

func NewProgressView(pr dispatch.Progress) ProgressView {
	var v ProgressView
	if pr.ImagesInAcq > 0 {
		v.AcquisitionPercent = (pr.CurrentImageInAcq + 1) * 100 / pr.ImagesInAcq
	}
	if pr.TotalImageCount > 0 {
		v.TotalPercent = (pr.ImageCounter + 1) * 100 / pr.TotalImageCount
	}
	v.AcquisitionLabel = fmt.Sprintf("%d%% (Image %d/%d)",
		v.AcquisitionPercent, pr.CurrentImageInAcq+1, pr.ImagesInAcq)
	v.TotalLabel = fmt.Sprintf("%d%% (Acquisition %d/%d) (Image %d/%d)",
		v.TotalPercent, pr.CurrentAcq+1, pr.TotalAcqs, pr.ImageCounter, pr.TotalImageCount)
	return v
}
