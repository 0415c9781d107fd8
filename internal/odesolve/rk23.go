package odesolve

// rk23 is the Bogacki-Shampine 3(2) adaptive integrator, a cheaper
// alternative for loose tolerances.
type rk23 struct{}

func (rk23) Name() string { return "rk23" }

func (rk23) Solve(f Func, y0 []float64, t0, t1 float64, o Opts) ([]float64, error) {
	n := len(y0)
	ctrl := stepController{safety: 0.9, minScale: 0.2, maxScale: 10.0, order: 2}

	attempt := func(t float64, y []float64, h float64) ([]float64, []float64, error) {
		k1, err := f(t, y)
		if err != nil {
			return nil, nil, err
		}
		ytmp := make([]float64, n)
		for i := range ytmp {
			ytmp[i] = y[i] + h*0.5*k1[i]
		}
		k2, err := f(t+0.5*h, ytmp)
		if err != nil {
			return nil, nil, err
		}
		for i := range ytmp {
			ytmp[i] = y[i] + h*0.75*k2[i]
		}
		k3, err := f(t+0.75*h, ytmp)
		if err != nil {
			return nil, nil, err
		}
		yNew := make([]float64, n)
		for i := range yNew {
			yNew[i] = y[i] + h*(2.0/9*k1[i]+1.0/3*k2[i]+4.0/9*k3[i])
		}
		k4, err := f(t+h, yNew)
		if err != nil {
			return nil, nil, err
		}
		errEst := make([]float64, n)
		for i := range errEst {
			zNew := y[i] + h*(7.0/24*k1[i]+1.0/4*k2[i]+1.0/3*k3[i]+1.0/8*k4[i])
			errEst[i] = yNew[i] - zNew
		}
		return yNew, errEst, nil
	}
	return solveAdaptive(f, y0, t0, t1, o, ctrl, attempt)
}
