package clock

import (
	"fmt"

	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"
)

// Clock 仿真时钟
// 功能：管理仿真帧的推进，维护当前步数与仿真时间
// 说明：所有模块通过任务上下文读取同一个时钟，帧内只读
type Clock struct {
	DT         float64 // 每帧时间间隔（秒）
	START_STEP int32   // 起始步
	END_STEP   int32   // 结束步，模拟区间[START, END)

	T            float64 // 当前时间（秒）
	InternalStep int32   // 当前步数
	Frame        int64   // 自启动以来经过的帧数
}

// New 根据配置创建新的时钟实例
// 参数：stepConfig-控制步配置
// 返回：初始化完成的时钟实例
func New(stepConfig config.ControlStep) *Clock {
	c := &Clock{
		DT:         stepConfig.Interval,
		START_STEP: stepConfig.Start,
		END_STEP:   stepConfig.Start + stepConfig.Total,
	}
	c.Init()
	return c
}

// Init 重置时钟到起始步
func (c *Clock) Init() {
	c.InternalStep = c.START_STEP
	c.T = float64(c.InternalStep) * c.DT
	c.Frame = 0
}

// Step 推进一帧
func (c *Clock) Step() {
	c.InternalStep++
	c.Frame++
	c.T = float64(c.InternalStep) * c.DT
}

// Finished 是否已到达结束步
func (c *Clock) Finished() bool {
	return c.InternalStep >= c.END_STEP
}

// SetDT 修改帧间隔，当前时间按新的间隔重新计算
// 说明：只在帧边界替换配置时调用
func (c *Clock) SetDT(dt float64) {
	c.DT = dt
	c.T = float64(c.InternalStep) * c.DT
}

// String 获取时钟的字符串表示
// 返回：格式化的时间字符串（HH:MM:SS）
func (c *Clock) String() string {
	t := c.T
	h := int(t / 3600)
	t -= float64(h * 3600)
	m := int(t / 60)
	t -= float64(m * 60)
	s := int(t)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// GetHourMinuteSecond 获取当前时间的小时、分钟、秒
// 返回：小时、分钟、秒（秒为浮点数，支持亚秒级精度）
func (c *Clock) GetHourMinuteSecond() (int, int, float64) {
	hour := int(c.T) / 3600
	minute := int(c.T) % 3600 / 60
	second := c.T - float64(hour*3600+minute*60)
	return hour, minute, second
}
