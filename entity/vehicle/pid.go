package vehicle

import "github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"

const integralWindowEpsilon = 1e-8

// PIDController PID控制器
// 功能：积分项按时间窗口指数衰减的PID控制器
type PIDController struct {
	errorIntegral float64
	lastError     float64
}

// Tick 计算一步控制输出
// 参数：goal-目标值，actual-实际值，dt-时间步长，params-PID参数
// 算法说明：
// 1. err = goal - actual
// 2. 积分窗口大于0时 integral = integral*(1-w) + err*w，w = dt/window，否则积分项等于err
// 3. 输出 = P*err + I*integral + D*(err-lastErr)
func (c *PIDController) Tick(goal, actual, dt float64, params config.PIDParams) float64 {
	err := goal - actual
	if params.IntegralWindow > integralWindowEpsilon {
		w := dt / params.IntegralWindow
		c.errorIntegral = c.errorIntegral*(1-w) + err*w
	} else {
		c.errorIntegral = err
	}
	out := params.P*err + params.I*c.errorIntegral + params.D*(err-c.lastError)
	c.lastError = err
	return out
}

// ResetErrorIntegral 清空积分项与上一帧误差
func (c *PIDController) ResetErrorIntegral() {
	c.errorIntegral = 0
	c.lastError = 0
}
