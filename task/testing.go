package task

import (
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/input"
)

// NewTestContext 创建已完成初始化的任务上下文，供其他包的测试使用
// 说明：不输出CSV，输入校验失败时panic
func NewTestContext(c config.Config, n input.Network) *Context {
	c.Output.Dir = ""
	in := &input.Input{Network: n}
	if err := in.Validate(); err != nil {
		log.Panicf("bad test input: %v", err)
	}
	ctx, err := NewContext(c, in)
	if err != nil {
		log.Panicf("new test context: %v", err)
	}
	ctx.Init()
	return ctx
}
