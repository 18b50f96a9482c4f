package metaobserver

import (
	"math"
	"sort"
)

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// median returns the middle value of xs; it sorts a copy and leaves xs
// unchanged.
func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// medianAbsoluteDeviation returns MAD and, scaled by 1.4826, its
// normal-distribution std-equivalent.
func medianAbsoluteDeviation(xs []float64, center float64) (mad, scaled float64) {
	deviations := make([]float64, len(xs))
	for i, x := range xs {
		deviations[i] = math.Abs(x - center)
	}
	mad = median(deviations)
	return mad, mad * 1.4826
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

// linearRegression computes an ordinary least-squares fit of y against the
// index 0..n-1, returning slope, intercept, the correlation coefficient,
// the two-sided p-value for slope != 0, and the slope's standard error —
// the same quantities scipy.stats.linregress reports.
func linearRegression(y []float64) (slope, intercept, rValue, pValue, stdErr float64) {
	n := len(y)
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
	}

	meanX, meanY := mean(x), mean(y)

	var sumXY, sumXX, sumYY float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		sumXY += dx * dy
		sumXX += dx * dx
		sumYY += dy * dy
	}

	if sumXX == 0 {
		return 0, meanY, 0, 1, 0
	}

	slope = sumXY / sumXX
	intercept = meanY - slope*meanX

	if sumYY == 0 {
		rValue = 0
	} else {
		rValue = sumXY / math.Sqrt(sumXX*sumYY)
	}

	df := float64(n - 2)
	if df <= 0 {
		return slope, intercept, rValue, 1, 0
	}

	if rValue >= 1 {
		rValue = 1 - 1e-15
	} else if rValue <= -1 {
		rValue = -1 + 1e-15
	}

	t := rValue * math.Sqrt(df/((1-rValue)*(1+rValue)))
	pValue = 2 * tDistributionSF(math.Abs(t), df)
	stdErr = math.Sqrt((1 - rValue*rValue) * sumYY / sumXX / df)
	return slope, intercept, rValue, pValue, stdErr
}

// tDistributionSF is the right-tail survival function P(T > t) of a
// Student's t distribution with df degrees of freedom, via its relation to
// the regularized incomplete beta function: P(T > t) = 0.5 * I_x(df/2,
// 1/2) where x = df / (df + t^2), for t >= 0.
func tDistributionSF(t, df float64) float64 {
	if t <= 0 {
		return 0.5
	}
	x := df / (df + t*t)
	return 0.5 * regularizedIncompleteBeta(df/2, 0.5, x)
}

// regularizedIncompleteBeta computes I_x(a, b) via its continued-fraction
// expansion (Numerical Recipes §6.4).
func regularizedIncompleteBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	lbeta, _ := math.Lgamma(a + b)
	la, _ := math.Lgamma(a)
	lb, _ := math.Lgamma(b)
	front := math.Exp(lbeta - la - lb + a*math.Log(x) + b*math.Log(1-x))

	if x < (a+1)/(a+b+2) {
		return front * betaContinuedFraction(a, b, x) / a
	}
	return 1 - front*betaContinuedFraction(b, a, 1-x)/b
}

func betaContinuedFraction(a, b, x float64) float64 {
	const maxIterations = 200
	const epsilon = 3e-12
	const tiny = 1e-30

	qab := a + b
	qap := a + 1
	qam := a - 1

	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	h := d

	for m := 1; m <= maxIterations; m++ {
		mf := float64(m)

		numerator := mf * (b - mf) * x / ((qam + 2*mf) * (a + 2*mf))
		d = 1 + numerator*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + numerator/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		h *= d * c

		numerator = -(a + mf) * (qab + mf) * x / ((a + 2*mf) * (qap + 2*mf))
		d = 1 + numerator*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + numerator/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		delta := d * c
		h *= delta

		if math.Abs(delta-1) < epsilon {
			break
		}
	}
	return h
}
