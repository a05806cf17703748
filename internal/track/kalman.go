package track

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// kalman2D is a constant-velocity Kalman filter over [x, y, vx, vy] with
// position-only measurements. The matrix algebra runs on gonum dense
// matrices; dimensions are fixed so no allocation-free path is needed
// outside the per-frame predict/update pair.
type kalman2D struct {
	x *mat.VecDense // state [x y vx vy]
	p *mat.Dense    // covariance 4x4

	processNoisePos  float64
	processNoiseVel  float64
	measurementNoise float64
}

func newKalman2D(posX, posY, processNoisePos, processNoiseVel, measurementNoise float64) *kalman2D {
	k := &kalman2D{
		x:                mat.NewVecDense(4, []float64{posX, posY, 0, 0}),
		p:                mat.NewDense(4, 4, nil),
		processNoisePos:  processNoisePos,
		processNoiseVel:  processNoiseVel,
		measurementNoise: measurementNoise,
	}
	// unit initial variance for position and velocity
	k.p.Set(0, 0, 1)
	k.p.Set(1, 1, 1)
	k.p.Set(2, 2, 1)
	k.p.Set(3, 3, 1)
	return k
}

func (k *kalman2D) clone() *kalman2D {
	out := &kalman2D{
		x:                mat.VecDenseCopyOf(k.x),
		p:                mat.DenseCopyOf(k.p),
		processNoisePos:  k.processNoisePos,
		processNoiseVel:  k.processNoiseVel,
		measurementNoise: k.measurementNoise,
	}
	return out
}

// reset re-seeds the state at a position with zero velocity and fresh
// covariance, used after tracking discontinuities.
func (k *kalman2D) reset(posX, posY float64) {
	k.x.SetVec(0, posX)
	k.x.SetVec(1, posY)
	k.x.SetVec(2, 0)
	k.x.SetVec(3, 0)
	k.p.Zero()
	k.p.Set(0, 0, 1)
	k.p.Set(1, 1, 1)
	k.p.Set(2, 2, 1)
	k.p.Set(3, 3, 1)
}

func transitionMatrix(dt float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, dt, 0,
		0, 1, 0, dt,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// predict advances the state by dt seconds: x' = F x, P' = F P Fᵀ + Q·dt.
func (k *kalman2D) predict(dt float64) {
	if dt <= 0 {
		return
	}
	f := transitionMatrix(dt)

	var x mat.VecDense
	x.MulVec(f, k.x)
	k.x.CopyVec(&x)

	var fp, fpft mat.Dense
	fp.Mul(f, k.p)
	fpft.Mul(&fp, f.T())
	k.p.Copy(&fpft)

	k.p.Set(0, 0, k.p.At(0, 0)+k.processNoisePos*dt)
	k.p.Set(1, 1, k.p.At(1, 1)+k.processNoisePos*dt)
	k.p.Set(2, 2, k.p.At(2, 2)+k.processNoiseVel*dt)
	k.p.Set(3, 3, k.p.At(3, 3)+k.processNoiseVel*dt)
}

// update folds a position measurement into the state.
func (k *kalman2D) update(zx, zy float64) {
	// H extracts position, so S = P[0:2,0:2] + R stays a 2x2 solve
	s := mat.NewDense(2, 2, []float64{
		k.p.At(0, 0) + k.measurementNoise, k.p.At(0, 1),
		k.p.At(1, 0), k.p.At(1, 1) + k.measurementNoise,
	})
	var sInv mat.Dense
	if err := sInv.Inverse(s); err != nil {
		// singular innovation covariance, skip the update; the filter
		// will time out through the invalidation sweep if it diverged
		return
	}

	// K = P Hᵀ S⁻¹ (4x2)
	ph := mat.NewDense(4, 2, []float64{
		k.p.At(0, 0), k.p.At(0, 1),
		k.p.At(1, 0), k.p.At(1, 1),
		k.p.At(2, 0), k.p.At(2, 1),
		k.p.At(3, 0), k.p.At(3, 1),
	})
	var gain mat.Dense
	gain.Mul(ph, &sInv)

	innovation := mat.NewVecDense(2, []float64{
		zx - k.x.AtVec(0),
		zy - k.x.AtVec(1),
	})
	var correction mat.VecDense
	correction.MulVec(&gain, innovation)
	k.x.AddVec(k.x, &correction)

	// P' = (I - K H) P
	var kh mat.Dense
	h := mat.NewDense(2, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})
	kh.Mul(&gain, h)
	ikh := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			v := -kh.At(i, j)
			if i == j {
				v++
			}
			ikh.Set(i, j, v)
		}
	}
	var newP mat.Dense
	newP.Mul(ikh, k.p)
	k.p.Copy(&newP)
}

func (k *kalman2D) posX() float64 { return k.x.AtVec(0) }
func (k *kalman2D) posY() float64 { return k.x.AtVec(1) }
func (k *kalman2D) velX() float64 { return k.x.AtVec(2) }
func (k *kalman2D) velY() float64 { return k.x.AtVec(3) }

// kalman1D is the scalar counterpart used for robot orientation: state
// [phi, omega] with angle measurements.
type kalman1D struct {
	phi, omega float64
	p          [4]float64 // row-major 2x2

	processNoise     float64
	measurementNoise float64
}

func newKalman1D(phi, processNoise, measurementNoise float64) *kalman1D {
	return &kalman1D{
		phi:              phi,
		p:                [4]float64{1, 0, 0, 1},
		processNoise:     processNoise,
		measurementNoise: measurementNoise,
	}
}

func (k *kalman1D) predict(dt float64) {
	if dt <= 0 {
		return
	}
	k.phi += k.omega * dt
	p00 := k.p[0] + dt*(k.p[2]+k.p[1]) + dt*dt*k.p[3]
	p01 := k.p[1] + dt*k.p[3]
	p10 := k.p[2] + dt*k.p[3]
	k.p[0] = p00 + k.processNoise*dt
	k.p[1] = p01
	k.p[2] = p10
	k.p[3] += k.processNoise * dt
}

func (k *kalman1D) update(measuredPhi float64) {
	// unwrap the measurement towards the state to avoid 2π jumps
	for measuredPhi-k.phi > math.Pi {
		measuredPhi -= 2 * math.Pi
	}
	for measuredPhi-k.phi < -math.Pi {
		measuredPhi += 2 * math.Pi
	}
	s := k.p[0] + k.measurementNoise
	if s <= 0 {
		return
	}
	k0 := k.p[0] / s
	k1 := k.p[2] / s
	innovation := measuredPhi - k.phi
	k.phi += k0 * innovation
	k.omega += k1 * innovation
	p00 := (1 - k0) * k.p[0]
	p01 := (1 - k0) * k.p[1]
	p10 := k.p[2] - k1*k.p[0]
	p11 := k.p[3] - k1*k.p[1]
	k.p = [4]float64{p00, p01, p10, p11}
}
