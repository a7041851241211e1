package training

import (
	"fmt"
	"math"
	"sync"

	"github.com/tsawler/go-activity/tensor"
)

// Optimizer interface defines the methods that all optimizers must implement
type Optimizer interface {
	Step() error      // Updates model parameters based on gradients
	ZeroGrad()        // Resets gradients to zero for all parameters
	GetLR() float64   // Gets current learning rate
	SetLR(lr float64) // Sets learning rate
}

// SGD implements stochastic gradient descent with optional momentum and
// weight decay.
type SGD struct {
	parameters   []*tensor.Tensor
	learningRate float64
	momentum     float64
	weightDecay  float64
	velocities   map[*tensor.Tensor][]float32
	mutex        sync.RWMutex
}

// NewSGD creates a new SGD optimizer.
func NewSGD(parameters []*tensor.Tensor, lr, momentum, weightDecay float64) *SGD {
	return &SGD{
		parameters:   parameters,
		learningRate: lr,
		momentum:     momentum,
		weightDecay:  weightDecay,
		velocities:   make(map[*tensor.Tensor][]float32),
	}
}

// Step performs a single optimization step.
func (sgd *SGD) Step() error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	for _, param := range sgd.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		paramData, err := param.Float32Data()
		if err != nil {
			return fmt.Errorf("parameter access failed: %v", err)
		}
		gradData, err := param.Grad().Float32Data()
		if err != nil {
			return fmt.Errorf("gradient access failed: %v", err)
		}

		velocity := sgd.velocities[param]
		if sgd.momentum > 0 && velocity == nil {
			velocity = make([]float32, len(paramData))
			sgd.velocities[param] = velocity
		}

		lr := float32(sgd.learningRate)
		wd := float32(sgd.weightDecay)
		mom := float32(sgd.momentum)

		for i := range paramData {
			g := gradData[i]
			if wd > 0 {
				g += wd * paramData[i]
			}
			if mom > 0 {
				velocity[i] = mom*velocity[i] + g
				g = velocity[i]
			}
			paramData[i] -= lr * g
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters.
func (sgd *SGD) ZeroGrad() {
	tensor.ZeroGrad(sgd.parameters)
}

// GetLR returns the current learning rate.
func (sgd *SGD) GetLR() float64 {
	sgd.mutex.RLock()
	defer sgd.mutex.RUnlock()
	return sgd.learningRate
}

// SetLR sets the learning rate.
func (sgd *SGD) SetLR(lr float64) {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()
	sgd.learningRate = lr
}

// Adam implements the Adam optimizer.
type Adam struct {
	parameters  []*tensor.Tensor
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	step        int64
	m           map[*tensor.Tensor][]float32 // First moment estimates
	v           map[*tensor.Tensor][]float32 // Second moment estimates
	mutex       sync.RWMutex
}

// NewAdam creates a new Adam optimizer.
func NewAdam(parameters []*tensor.Tensor, lr, beta1, beta2, eps, weightDecay float64) *Adam {
	adam := &Adam{
		parameters:  parameters,
		lr:          lr,
		beta1:       beta1,
		beta2:       beta2,
		eps:         eps,
		weightDecay: weightDecay,
		m:           make(map[*tensor.Tensor][]float32),
		v:           make(map[*tensor.Tensor][]float32),
	}

	for _, param := range parameters {
		if param.RequiresGrad() {
			adam.m[param] = make([]float32, param.NumElems)
			adam.v[param] = make([]float32, param.NumElems)
		}
	}

	return adam
}

// Step performs a single optimization step.
func (adam *Adam) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	adam.step++

	// Bias correction factors
	bias1 := 1.0 - math.Pow(adam.beta1, float64(adam.step))
	bias2 := 1.0 - math.Pow(adam.beta2, float64(adam.step))

	for _, param := range adam.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		paramData, err := param.Float32Data()
		if err != nil {
			return fmt.Errorf("parameter access failed: %v", err)
		}
		gradData, err := param.Grad().Float32Data()
		if err != nil {
			return fmt.Errorf("gradient access failed: %v", err)
		}

		m := adam.m[param]
		v := adam.v[param]
		if m == nil || v == nil {
			m = make([]float32, len(paramData))
			v = make([]float32, len(paramData))
			adam.m[param] = m
			adam.v[param] = v
		}

		for i := range paramData {
			g := float64(gradData[i])
			if adam.weightDecay > 0 {
				g += adam.weightDecay * float64(paramData[i])
			}

			// m = beta1 * m + (1 - beta1) * grad
			mi := adam.beta1*float64(m[i]) + (1.0-adam.beta1)*g
			// v = beta2 * v + (1 - beta2) * grad^2
			vi := adam.beta2*float64(v[i]) + (1.0-adam.beta2)*g*g

			m[i] = float32(mi)
			v[i] = float32(vi)

			mHat := mi / bias1
			vHat := vi / bias2

			paramData[i] -= float32(adam.lr * mHat / (math.Sqrt(vHat) + adam.eps))
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters.
func (adam *Adam) ZeroGrad() {
	tensor.ZeroGrad(adam.parameters)
}

// GetLR returns the current learning rate.
func (adam *Adam) GetLR() float64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.lr
}

// SetLR sets the learning rate.
func (adam *Adam) SetLR(lr float64) {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	adam.lr = lr
}
