package utils

import (
	"math"

	"github.com/samber/lo"
)

// 找出ID(int32)对应的数据。
// 如果ids为空则返回所有数据，
// 如果不存在则将失败ID记录到失败列表中。
func Find[T any](dataMap map[int32]T, data []T, ids []int32) (okData []T, failedIDs []int32) {
	if len(ids) == 0 {
		return data, nil
	}
	okData = make([]T, 0, len(ids))
	failedIDs = make([]int32, 0, len(ids))
	for _, id := range ids {
		if d, ok := dataMap[id]; ok {
			okData = append(okData, d)
		} else {
			failedIDs = append(failedIDs, id)
		}
	}
	return
}

// Lerp 线性插值
// 功能：在a与b之间按alpha插值，alpha不做截断
func Lerp(a, b, alpha float64) float64 {
	return a + (b-a)*alpha
}

// GetRangePct 计算value在[min,max]区间内的比例
// 说明：区间退化（min==max）时，value>=max返回1，否则返回0
func GetRangePct(min, max, value float64) float64 {
	divisor := max - min
	if math.Abs(divisor) < 1e-8 {
		if value >= max {
			return 1
		}
		return 0
	}
	return (value - min) / divisor
}

// MapRangeClamped 将value从输入区间线性映射到输出区间，比例截断到[0,1]
func MapRangeClamped(inMin, inMax, outMin, outMax, value float64) float64 {
	return Lerp(outMin, outMax, lo.Clamp(GetRangePct(inMin, inMax, value), 0, 1))
}

// SmoothStep 三次平滑曲线 -2a³+3a²，a截断到[0,1]
func SmoothStep(alpha float64) float64 {
	a := lo.Clamp(alpha, 0, 1)
	return -2*a*a*a + 3*a*a
}

// SmoothStepDerivative 三次平滑曲线的导数 -6a²+6a，a截断到[0,1]
func SmoothStepDerivative(alpha float64) float64 {
	a := lo.Clamp(alpha, 0, 1)
	return -6*a*a + 6*a
}

// IsNearlyZero 判断浮点数是否接近0
func IsNearlyZero(v float64) bool {
	return math.Abs(v) < 1e-4
}

// NormalizeAngle 将角度规范到[-π,π)
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
