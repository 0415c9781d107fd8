package odesolve

// Dormand-Prince 5(4) coefficients.
var (
	dpA2 = 1.0 / 5.0
	dpA3 = 3.0 / 10.0
	dpA4 = 4.0 / 5.0
	dpA5 = 8.0 / 9.0

	dpB21 = 1.0 / 5.0
	dpB31 = 3.0 / 40.0
	dpB32 = 9.0 / 40.0
	dpB41 = 44.0 / 45.0
	dpB42 = -56.0 / 15.0
	dpB43 = 32.0 / 9.0
	dpB51 = 19372.0 / 6561.0
	dpB52 = -25360.0 / 2187.0
	dpB53 = 64448.0 / 6561.0
	dpB54 = -212.0 / 729.0
	dpB61 = 9017.0 / 3168.0
	dpB62 = -355.0 / 33.0
	dpB63 = 46732.0 / 5247.0
	dpB64 = 49.0 / 176.0
	dpB65 = -5103.0 / 18656.0

	dpC1 = 35.0 / 384.0
	dpC3 = 500.0 / 1113.0
	dpC4 = 125.0 / 192.0
	dpC5 = -2187.0 / 6784.0
	dpC6 = 11.0 / 84.0

	dpD1 = dpC1 - 5179.0/57600.0
	dpD3 = dpC3 - 7571.0/16695.0
	dpD4 = dpC4 - 393.0/640.0
	dpD5 = dpC5 + 92097.0/339200.0
	dpD6 = dpC6 - 187.0/2100.0
	dpD7 = -1.0 / 40.0
)

// dopri5 is the Dormand-Prince 5(4) adaptive integrator.
type dopri5 struct{}

func (dopri5) Name() string { return "dopri5" }

func (dopri5) Solve(f Func, y0 []float64, t0, t1 float64, o Opts) ([]float64, error) {
	n := len(y0)
	ctrl := stepController{safety: 0.9, minScale: 0.2, maxScale: 10.0, order: 4}

	attempt := func(t float64, y []float64, h float64) ([]float64, []float64, error) {
		k1, err := f(t, y)
		if err != nil {
			return nil, nil, err
		}
		ytmp := make([]float64, n)
		for i := range ytmp {
			ytmp[i] = y[i] + h*dpB21*k1[i]
		}
		k2, err := f(t+dpA2*h, ytmp)
		if err != nil {
			return nil, nil, err
		}
		for i := range ytmp {
			ytmp[i] = y[i] + h*(dpB31*k1[i]+dpB32*k2[i])
		}
		k3, err := f(t+dpA3*h, ytmp)
		if err != nil {
			return nil, nil, err
		}
		for i := range ytmp {
			ytmp[i] = y[i] + h*(dpB41*k1[i]+dpB42*k2[i]+dpB43*k3[i])
		}
		k4, err := f(t+dpA4*h, ytmp)
		if err != nil {
			return nil, nil, err
		}
		for i := range ytmp {
			ytmp[i] = y[i] + h*(dpB51*k1[i]+dpB52*k2[i]+dpB53*k3[i]+dpB54*k4[i])
		}
		k5, err := f(t+dpA5*h, ytmp)
		if err != nil {
			return nil, nil, err
		}
		for i := range ytmp {
			ytmp[i] = y[i] + h*(dpB61*k1[i]+dpB62*k2[i]+dpB63*k3[i]+dpB64*k4[i]+dpB65*k5[i])
		}
		k6, err := f(t+h, ytmp)
		if err != nil {
			return nil, nil, err
		}
		yNew := make([]float64, n)
		for i := range yNew {
			yNew[i] = y[i] + h*(dpC1*k1[i]+dpC3*k3[i]+dpC4*k4[i]+dpC5*k5[i]+dpC6*k6[i])
		}
		k7, err := f(t+h, yNew)
		if err != nil {
			return nil, nil, err
		}
		errEst := make([]float64, n)
		for i := range errEst {
			errEst[i] = h * (dpD1*k1[i] + dpD3*k3[i] + dpD4*k4[i] + dpD5*k5[i] + dpD6*k6[i] + dpD7*k7[i])
		}
		return yNew, errEst, nil
	}
	return solveAdaptive(f, y0, t0, t1, o, ctrl, attempt)
}
