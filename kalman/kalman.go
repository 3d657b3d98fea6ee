package kalman

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	stdWeightPosition = 1. / 20
	stdWeightVelocity = 1. / 160

	stdWeightPositionx2  = stdWeightPosition * 2
	stdWeightVelocityx10 = stdWeightVelocity * 10

	// aspect ratio noise does not scale with the target height
	stdAspectPosition    = 1e-2
	stdAspectVelocity    = 1e-5
	stdAspectMeasurement = 1e-1

	regularization = 1e-6

	ndim = 4
)

// Chi2Inv95 is the 0.95 quantile of the chi-square distribution with 4 degrees
// of freedom, used as the gate on GatingDistance.
const Chi2Inv95 = 9.4877

var ErrNotPositiveDefinite = errors.New("kalman: innovation covariance is not positive definite")
var ErrNonFinite = errors.New("kalman: correction produced a non-finite state")

// Filter estimates a bounding box in (cx, cy, a, h) space with a constant
// velocity model. Means are [8]float64, covariances row-major [64]float64.
type Filter interface {
	Initiate(measurement [4]float64) ([8]float64, [64]float64)
	Predict(mean *[8]float64, cov *[64]float64)
	MultiPredict(means [][8]float64, covs [][64]float64)
	Project(mean [8]float64, cov [64]float64) ([4]float64, [16]float64)
	Update(mean *[8]float64, cov *[64]float64, measurement [4]float64) error
	GatingDistance(mean [8]float64, cov [64]float64, measurements [][4]float64) ([]float64, error)
}

type filter struct {
	MotionMat *mat.Dense
	UpdateMat *mat.Dense
}

var once = new(sync.Once)
var filterInstance *filter

// GetFilter returns the shared filter. It holds no per-target state.
func GetFilter() Filter {
	once.Do(func() {
		filterInstance = newBaseKalmanFilter()
	})
	return filterInstance
}

func newBaseKalmanFilter() *filter {
	dt := 1.0
	motionMat := mat.NewDense(2*ndim, 2*ndim, nil)
	updateMat := mat.NewDense(ndim, 2*ndim, nil)

	for i := 0; i < 2*ndim; i++ {
		motionMat.Set(i, i, 1.0)
		if i < ndim {
			motionMat.Set(i, ndim+i, dt)
		}
	}

	for i := 0; i < ndim; i++ {
		updateMat.Set(i, i, 1.0)
	}

	return &filter{
		MotionMat: motionMat,
		UpdateMat: updateMat,
	}
}

func initialCovarianceStd(h float64) [8]float64 {
	return [8]float64{
		stdWeightPositionx2 * h, stdWeightPositionx2 * h, stdAspectPosition, stdWeightPositionx2 * h,
		stdWeightVelocityx10 * h, stdWeightVelocityx10 * h, stdAspectVelocity, stdWeightVelocityx10 * h,
	}
}

func processNoiseStd(h float64) [8]float64 {
	return [8]float64{
		stdWeightPosition * h, stdWeightPosition * h, stdAspectPosition, stdWeightPosition * h,
		stdWeightVelocity * h, stdWeightVelocity * h, stdAspectVelocity, stdWeightVelocity * h,
	}
}

func measurementNoiseStd(h float64) [4]float64 {
	return [4]float64{stdWeightPosition * h, stdWeightPosition * h, stdAspectMeasurement, stdWeightPosition * h}
}

func (kf *filter) Initiate(m [4]float64) ([8]float64, [64]float64) {
	var mean [8]float64
	copy(mean[:ndim], m[:])

	var cov [64]float64
	for j, s := range initialCovarianceStd(m[3]) {
		cov[j*8+j] = s * s
	}

	return mean, cov
}

func (kf *filter) Predict(mean *[8]float64, cov *[64]float64) {
	var predicted [8]float64
	mat.NewVecDense(8, predicted[:]).MulVec(kf.MotionMat, mat.NewVecDense(8, mean[:]))

	covMat := mat.NewDense(8, 8, cov[:])
	left := mat.NewDense(8, 8, nil)
	left.Mul(kf.MotionMat, covMat)

	var predictedCov [64]float64
	mat.NewDense(8, 8, predictedCov[:]).Mul(left, kf.MotionMat.T())

	for j, s := range processNoiseStd(predicted[3]) {
		predictedCov[j*8+j] += s * s
	}

	*mean = predicted
	*cov = predictedCov
}

func (kf *filter) MultiPredict(means [][8]float64, covs [][64]float64) {
	for i := range means {
		kf.Predict(&means[i], &covs[i])
	}
}

func (kf *filter) Project(mean [8]float64, cov [64]float64) ([4]float64, [16]float64) {
	var projectedMean [4]float64
	mat.NewVecDense(ndim, projectedMean[:]).MulVec(kf.UpdateMat, mat.NewVecDense(8, mean[:]))

	tmpMat := mat.NewDense(ndim, 8, nil)
	tmpMat.Mul(kf.UpdateMat, mat.NewDense(8, 8, cov[:]))

	var projectedCov [16]float64
	mat.NewDense(ndim, ndim, projectedCov[:]).Mul(tmpMat, kf.UpdateMat.T())

	for j, s := range measurementNoiseStd(mean[3]) {
		projectedCov[j*ndim+j] += s * s
	}

	return projectedMean, projectedCov
}

// factorize returns the Cholesky factor of the innovation covariance, adding
// a small diagonal term once if the plain factorization fails.
func factorize(projectedCov [16]float64) (*mat.Cholesky, error) {
	sym := mat.NewSymDense(ndim, projectedCov[:])

	ch := &mat.Cholesky{}
	if ch.Factorize(sym) {
		return ch, nil
	}

	scale := 1.0
	for i := 0; i < ndim; i++ {
		scale = max(scale, math.Abs(sym.At(i, i)))
	}
	for i := 0; i < ndim; i++ {
		sym.SetSym(i, i, sym.At(i, i)+regularization*scale)
	}
	if ch.Factorize(sym) {
		return ch, nil
	}

	return nil, ErrNotPositiveDefinite
}

func (kf *filter) Update(mean *[8]float64, cov *[64]float64, measurement [4]float64) error {
	projectedMean, projectedCov := kf.Project(*mean, *cov)

	ch, err := factorize(projectedCov)
	if err != nil {
		return err
	}

	covMat := mat.NewDense(8, 8, cov[:])

	// S * K^T = H * P
	hp := mat.NewDense(ndim, 8, nil)
	hp.Mul(kf.UpdateMat, covMat)

	kalmanGainT := mat.NewDense(ndim, 8, nil)
	if err := ch.SolveTo(kalmanGainT, hp); err != nil {
		return errors.Wrap(err, "kalman: solve gain")
	}

	innovation := mat.NewVecDense(ndim, nil)
	for j := 0; j < ndim; j++ {
		innovation.SetVec(j, measurement[j]-projectedMean[j])
	}

	correction := mat.NewVecDense(8, nil)
	correction.MulVec(kalmanGainT.T(), innovation)

	kalmanCov := mat.NewDense(8, ndim, nil)
	kalmanCov.Mul(kalmanGainT.T(), mat.NewDense(ndim, ndim, projectedCov[:]))

	newCovariance := mat.NewDense(8, 8, nil)
	newCovariance.Mul(kalmanCov, kalmanGainT)
	newCovariance.Sub(covMat, newCovariance)

	var newMean [8]float64
	for j := range newMean {
		newMean[j] = mean[j] + correction.AtVec(j)
		if !isFinite(newMean[j]) {
			return ErrNonFinite
		}
	}

	var newCov [64]float64
	for r := 0; r < 8; r++ {
		for c := 0; c < 8; c++ {
			// keep the covariance exactly symmetric
			v := (newCovariance.At(r, c) + newCovariance.At(c, r)) / 2
			if !isFinite(v) {
				return ErrNonFinite
			}
			newCov[r*8+c] = v
		}
	}

	*mean = newMean
	*cov = newCov

	return nil
}

func (kf *filter) GatingDistance(mean [8]float64, cov [64]float64, measurements [][4]float64) ([]float64, error) {
	projectedMean, projectedCov := kf.Project(mean, cov)

	ch, err := factorize(projectedCov)
	if err != nil {
		return nil, err
	}

	dists := make([]float64, len(measurements))
	d := mat.NewVecDense(ndim, nil)
	z := mat.NewVecDense(ndim, nil)
	for i, m := range measurements {
		for j := 0; j < ndim; j++ {
			d.SetVec(j, m[j]-projectedMean[j])
		}
		if err := ch.SolveVecTo(z, d); err != nil {
			return nil, errors.Wrap(err, "kalman: solve gating distance")
		}
		dists[i] = mat.Dot(d, z)
	}

	return dists, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
