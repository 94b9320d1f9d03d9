package junction

import (
	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils"
)

// LanesConflict 两条路口内车道是否冲突
// 功能：判断两条车道同时开放时车辆是否可能相撞
// 说明：起点相同的车道来自同一进口，不算冲突；中心线交叉或汇入同一终点算冲突
func LanesConflict(a, b *lane.Lane) bool {
	if a == b {
		return false
	}
	if geometry.Distance2D(a.BeginPoint(), b.BeginPoint()) < sameEndpointTolerance {
		return false
	}
	if geometry.Distance2D(a.EndPoint(), b.EndPoint()) < sameEndpointTolerance {
		return true
	}
	return utils.PolylinesIntersect2D(a.Line(), b.Line())
}

// sameEndpointTolerance 端点重合的判断距离（厘米）
const sameEndpointTolerance = 1.
