package junction

// update 更新阶段，执行路口的相位状态机
// 参数：dt-时间步长
// 算法说明：
// 1. 倒计时：当前相位没有任何开放车道与人行横道时直接结束；信号灯路口在路口空闲且无人等待时提前进入黄灯；
// 停车让行路口在车辆驶入后关闭该车道及其分流车道，没有可用车道时直接结束
// 2. 剩余时间进入黄灯窗口时，标记下一相位不再开放的车道即将关闭，并告知剩余比例
// 3. 剩余时间刚耗尽时关闭车道，本帧不切换，给压线车辆登记占用的机会
// 4. 之后每帧检查即将关闭的车道是否清空，清空后切换到下一相位，并按等待的车辆与行人决定是否开放
func (j *Junction) update(dt float64) {
	p := j.CurrentPeriod()
	if p == nil {
		return
	}
	if j.pending != nil {
		j.updatePending(dt)
		return
	}
	cfg := &j.ctx.RuntimeConfig().All.Intersection
	prepare := cfg.StandardTrafficPrepareToStopSeconds
	before := j.periodTimeRemaining

	anyOpenVehicleLane := false
	for _, l := range p.VehicleLanes {
		if l.IsOpen {
			anyOpenVehicleLane = true
			break
		}
	}
	anyOpenCrosswalk := false
	for _, l := range p.CrosswalkLanes {
		if l.IsOpen {
			anyOpenCrosswalk = true
			break
		}
	}

	// 1. 倒计时
	if j.periodTimeRemaining > 0 {
		pedestrianOnly := p.IsPedestrianOnly()
		if (pedestrianOnly && !anyOpenCrosswalk) || (!pedestrianOnly && !anyOpenCrosswalk && !anyOpenVehicleLane) {
			j.periodTimeRemaining = -dt
		} else if j.hasTrafficLights {
			if j.IsIntersectionClear(AllVehicleLanes) &&
				!j.AreVehiclesWaiting() &&
				!anyOpenCrosswalk &&
				j.periodTimeRemaining > prepare {
				j.periodTimeRemaining = prepare - dt
			}
		} else {
			for _, l := range p.VehicleLanes {
				if l.NumVehiclesOnLane > 0 {
					CloseLaneAndAllItsSplitLanes(l)
				}
			}
			openAndReady := false
			for _, l := range p.VehicleLanes {
				if l.IsOpen && l.IsVehicleReadyToUseLane {
					openAndReady = true
					break
				}
			}
			if !openAndReady && !anyOpenCrosswalk {
				j.periodTimeRemaining = -dt
			}
		}
		// 先刷新信号灯再倒计时，黄灯结束时不会闪红
		j.UpdateTrafficLightsForCurrentPeriod()
		j.periodTimeRemaining -= dt
	}

	// 2. 黄灯窗口
	if j.periodTimeRemaining <= prepare && j.periodTimeRemaining > 0 {
		j.ApplyLanesActionToCurrentPeriod(LanesActionSoftPrepareToClose, LanesActionNone, false)
		j.UpdateTrafficLightsForCurrentPeriod()
		for _, l := range p.Lanes(VehicleLanesClosingInNext) {
			if prepare > 0 {
				l.FractionUntilClosed = j.periodTimeRemaining / prepare
			} else {
				l.FractionUntilClosed = 0
			}
		}
	}

	// 3. 关闭
	if j.periodTimeRemaining <= 0 && before > 0 {
		j.ApplyLanesActionToCurrentPeriod(LanesActionSoftClose, LanesActionHardClose, false)
		j.UpdateTrafficLightsForCurrentPeriod()
		j.PedestrianLightsShowStop()
		return
	}

	// 4. 等待清空后切换
	if j.periodTimeRemaining <= 0 && before <= 0 {
		if !j.IsIntersectionClear(VehicleLanesClosingInNext) && !j.stall(dt) {
			return
		}
		j.resetStall()
		j.AdvancePeriod()
		j.openCurrentPeriod()
		j.AddTimeRemainingToCurrentPeriod()
	}
}

// openCurrentPeriod 按等待情况开放当前相位
// 说明：没有车辆准备驶入时软关闭机动车道；行人按概率、等待人数与人行横道是否被压决定是否开放
func (j *Junction) openCurrentPeriod() {
	cfg := &j.ctx.RuntimeConfig().All.Intersection
	vehicleAction := LanesActionSoftClose
	if j.AreVehiclesWaiting() {
		vehicleAction = LanesActionOpen
	}
	minPedestrians, probability := cfg.MinPedestriansForCrossingAtStopSigns, cfg.StopSignPedestrianLaneOpenProbability
	if j.hasTrafficLights {
		minPedestrians, probability = cfg.MinPedestriansForCrossingAtTrafficLights, cfg.TrafficLightPedestrianLaneOpenProbability
	}
	pedestrianAction := LanesActionHardClose
	if j.generator.Float64() <= probability &&
		j.NumPedestriansWaiting() >= minPedestrians &&
		!j.IsStoppedVehicleBlockingCrosswalk(true) {
		pedestrianAction = LanesActionOpen
	}
	j.ApplyLanesActionToCurrentPeriod(vehicleAction, pedestrianAction, false)
	j.UpdateTrafficLightsForCurrentPeriod()
}

// updatePending 完成外部请求的相位跳转
// 说明：当前相位的全部车道清空后才跳转，跳转后的开放规则与正常切换相同
func (j *Junction) updatePending(dt float64) {
	if !j.IsIntersectionClear(AllVehicleLanes) && !j.stall(dt) {
		return
	}
	j.resetStall()
	req := j.pending
	j.pending = nil
	j.currentPeriodIndex = req.index
	j.lastVehicleLanesAction = LanesActionNone
	j.openCurrentPeriod()
	j.periodTimeRemaining = req.remaining
	j.UpdateTrafficLightsForCurrentPeriod()
}

// stall 记录一帧等待清空，返回是否强制切换
// 说明：等待帧数达到告警阈值时告警一次；配置了强制切换时长且已超过时记录异常并强制切换
func (j *Junction) stall(dt float64) bool {
	cfg := &j.ctx.RuntimeConfig().All.Intersection
	j.stallCounter++
	j.stallSeconds += dt
	if j.stallCounter == cfg.StallAlertFrames {
		log.Warnf("%v stalls: %d vehicles still in closing lanes of period %d after %d frames",
			j, j.NumVehiclesInIntersection(VehicleLanesClosingInNext), j.currentPeriodIndex, j.stallCounter)
	}
	if cfg.StallForceAdvanceSeconds > 0 && j.stallSeconds >= cfg.StallForceAdvanceSeconds {
		log.Errorf("%v force advances period %d after stalling %.1fs with %d vehicles in closing lanes",
			j, j.currentPeriodIndex, j.stallSeconds, j.NumVehiclesInIntersection(VehicleLanesClosingInNext))
		return true
	}
	return false
}

func (j *Junction) resetStall() {
	if alert := j.ctx.RuntimeConfig().All.Intersection.StallAlertFrames; alert > 0 && j.stallCounter >= alert {
		log.Warnf("%v unstalls after %d frames", j, j.stallCounter)
	}
	j.stallCounter = 0
	j.stallSeconds = 0
}
