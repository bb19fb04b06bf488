package hydro

import (
	"fmt"
	"math"

	"github.com/lgpang/clvisc/internal/config"
)

// InitialConditions fills the interleaved (ed, vx, vy, veta) fields for
// the configured grid, one quadruple per cell in x-fastest order.
func InitialConditions(cfg *config.Config) ([]float64, error) {
	switch cfg.IC.Type {
	case "gaussian":
		return GaussianIC(cfg), nil
	case "bjorken":
		return BjorkenIC(cfg), nil
	default:
		return nil, fmt.Errorf("unknown ic type %q", cfg.IC.Type)
	}
}

// GaussianIC places a static Gaussian energy density blob at the grid
// center, a stand-in for a central heavy-ion collision.
func GaussianIC(cfg *config.Config) []float64 {
	g := cfg.Grid
	amp := cfg.IC.Amplitude
	sigma2 := cfg.IC.Width * cfg.IC.Width

	ev := make([]float64, evComponents*g.Size())
	idx := 0
	for k := 0; k < g.NZ; k++ {
		eta := (float64(k) - float64(g.NZ-1)/2) * g.DEta
		for j := 0; j < g.NY; j++ {
			y := (float64(j) - float64(g.NY-1)/2) * g.DY
			for i := 0; i < g.NX; i++ {
				x := (float64(i) - float64(g.NX-1)/2) * g.DX
				r2 := x*x + y*y + eta*eta
				ev[idx] = amp * math.Exp(-r2/(2*sigma2))
				idx += evComponents
			}
		}
	}
	return ev
}

// BjorkenIC fills a uniform energy density with zero transverse flow, the
// boost-invariant configuration whose evolution has a closed-form answer.
func BjorkenIC(cfg *config.Config) []float64 {
	ev := make([]float64, evComponents*cfg.Grid.Size())
	for i := 0; i < len(ev); i += evComponents {
		ev[i] = cfg.IC.Amplitude
	}
	return ev
}
