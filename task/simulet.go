package task

import (
	"context"
	"sync"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/junction"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/vehicle"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/telemetry"
)

// prepare 准备阶段，每步执行一次
// 功能：在每个仿真步骤开始时进行准备工作
// 算法说明：
// 1. 应用等待中的配置，更新时钟
// 2. 心跳日志：定期输出系统状态信息
// 3. 并行准备：障碍物与车辆各自应用缓冲的外部请求，路口应用重启与相位跳转请求
//
// 说明：确保所有系统组件在更新阶段前都处于正确状态
func (ctx *Context) prepare() {
	ctx.applyPendingConfig()
	ctx.clock.Step()

	if interval := ctx.runtimeConfig.C.HeartbeatInterval; interval > 0 && ctx.clock.InternalStep%interval == 0 {
		hour, minute, second := ctx.clock.GetHourMinuteSecond()
		log.Infof(
			"STEP: %d(%d:%d:%.2f) vehicles: %d",
			ctx.clock.InternalStep,
			hour, minute, second,
			ctx.vehicleManager.Len(),
		)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx.obstacleManager.Prepare() // obstacle
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx.vehicleManager.Prepare() // vehicle
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx.junctionManager.Prepare() // junction
	}()
	wg.Wait()
}

// update 更新阶段，每步执行一次
// 功能：在每个仿真步骤中执行主要的仿真逻辑
// 算法说明：
// 1. 重建障碍物避让列表
// 2. 并行计算每辆车到前车与障碍物的距离
// 3. 按下游在前的顺序更新车道下游流密度
// 4. 串行执行车辆的变道、控制与移动
// 5. 并行执行路口的相位状态机
// 6. 按自身的间隔执行密度管理
// 7. 输出
//
// 说明：阶段之间有先后依赖，不能并行
func (ctx *Context) update() {
	step := ctx.clock.InternalStep
	ctx.obstacleManager.Update()
	ctx.vehicleManager.UpdateDistances()
	ctx.laneManager.UpdateDownstreamFlowDensities()
	ctx.vehicleManager.Update(ctx.clock.DT)
	ctx.junctionManager.Update(ctx.clock.DT)
	ctx.densityManager.Update(step)
	ctx.writeOutput(step)
}

// Step 执行一帧
func (ctx *Context) Step() {
	ctx.prepare()
	ctx.update()
}

// Run 运行
// 功能：初始化后逐帧推进，直到到达结束步或runCtx被取消
// 返回：被取消时返回runCtx的错误
func (ctx *Context) Run(runCtx context.Context) error {
	ctx.Init()
	defer ctx.Close()
	for !ctx.clock.Finished() {
		select {
		case <-runCtx.Done():
			log.Warnf("engine stopped at step %d: %v", ctx.clock.InternalStep, runCtx.Err())
			return runCtx.Err()
		default:
		}
		ctx.Step()
		log.Debugf("step %d: update complete", ctx.clock.InternalStep)
	}
	log.Infof("engine complete")
	return nil
}

// writeOutput 按配置的间隔写出车辆、车道与路口记录
func (ctx *Context) writeOutput(step int32) {
	if ctx.output == nil {
		return
	}
	c := ctx.runtimeConfig.All.Output
	if c.VehicleInterval > 0 && step%c.VehicleInterval == 0 {
		records := lo.Map(ctx.vehicleManager.Vehicles(), func(v *vehicle.Vehicle, _ int) telemetry.VehicleRecord {
			control := v.Control()
			return telemetry.VehicleRecord{
				Step:     step,
				ID:       v.Handle().Index,
				Lane:     v.Lane().ID(),
				Distance: v.Distance(),
				Speed:    v.Speed(),
				Target:   v.TargetSpeed(),
				Throttle: control.Throttle,
				Brake:    control.Brake,
				Steering: control.Steering,
			}
		})
		if err := ctx.output.WriteVehicles(records); err != nil {
			log.Errorf("write vehicles failed: %v", err)
		}
	}
	if c.LaneInterval > 0 && step%c.LaneInterval == 0 {
		lanes := lo.Map(ctx.laneManager.TrafficLanes(), func(l *lane.Lane, _ int) telemetry.LaneRecord {
			return telemetry.LaneRecord{
				Step:       step,
				Lane:       l.ID(),
				Vehicles:   l.NumVehiclesOnLane,
				Space:      l.SpaceAvailable,
				Basic:      l.BasicDensity(),
				Functional: l.FunctionalDensity(),
				Downstream: l.DownstreamFlowDensity(),
				Open:       l.IsOpen,
			}
		})
		if err := ctx.output.WriteLanes(lanes); err != nil {
			log.Errorf("write lanes failed: %v", err)
		}
		junctions := lo.Map(ctx.junctionManager.Junctions(), func(j *junction.Junction, _ int) telemetry.IntersectionRecord {
			return telemetry.IntersectionRecord{
				Step:      step,
				Junction:  j.ID(),
				Period:    j.CurrentPeriodIndex(),
				Remaining: j.PeriodTimeRemaining(),
				Stall:     j.StallCounter(),
			}
		})
		if err := ctx.output.WriteIntersections(junctions); err != nil {
			log.Errorf("write intersections failed: %v", err)
		}
	}
}
