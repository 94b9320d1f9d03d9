package config

import (
	"errors"
	"fmt"
	"math"

	"github.com/samber/lo"
	"gopkg.in/yaml.v2"
)

// ErrInvalidConfig 配置校验失败
var ErrInvalidConfig = errors.New("invalid config")

// MPHToCMPerSecond 英里/小时到厘米/秒的换算系数
const MPHToCMPerSecond = 44.704

// RuntimeConfig 运行时配置
// 功能：存储仿真运行时的只读配置
// 说明：运行中不修改，热更新通过构造新的RuntimeConfig并在帧边界替换完成
type RuntimeConfig struct {
	All Config  // 全部配置
	C   Control // 全局控制配置
}

// NewRuntimeConfig 根据配置初始化运行时配置
func NewRuntimeConfig(config Config) *RuntimeConfig {
	rc := &RuntimeConfig{}

	rc.All = config
	rc.C = config.Control

	return rc
}

// Default 返回带有全部默认值的配置
// 说明：距离单位为厘米，时间单位为秒
func Default() Config {
	return Config{
		Control: Control{
			Step:              ControlStep{Start: 0, Total: 3600, Interval: 1. / 30},
			HeartbeatInterval: 300,
		},
		Lane: Lane{
			Tags: LaneTags{
				Traffic:      "traffic",
				Intersection: "intersection",
				Trunk:        "trunk",
				LaneChanging: "lane_changing",
				Crosswalk:    "crosswalk",
				Transverse:   "transverse",
			},
			SpeedLimits: []LaneSpeedLimit{
				{SpeedLimitMPH: 35},
			},
			DefaultMaxDensity:                    1,
			TurnAngleThreshold:                   30,
			BoundPadding:                         100,
			DownstreamFlowDensityMixtureFraction: 0.5,
		},
		Vehicle: Vehicle{
			SpeedLimitVariancePct:               0.35,
			SpeedVariancePct:                    0.1,
			SpeedLimitBlendTime:                 2,
			NoisePeriod:                         20000,
			Acceleration:                        300,
			AccelerationVariancePct:             0.1,
			Deceleration:                        2000,
			DecelerationVariancePct:             0.1,
			TurnSpeedScale:                      0.5,
			SpeedDeltaBrakingThreshold:          50,
			IdealTimeToNextVehicleRange:         Range{1.5, 2.0},
			MinimumDistanceToNextVehicleRange:   Range{80, 500},
			StoppingDistanceRange:               Range{50, 350},
			StopSignBrakingTime:                 4,
			ObstacleAvoidanceBrakingTimeRange:   Range{1.5, 3.0},
			MinimumDistanceToObstacleRange:      Range{80, 300},
			NextVehicleAvoidanceBrakingPower:    3,
			ObstacleAvoidanceBrakingPower:       0.5,
			StopSignBrakingPower:                0.5,
			SpeedControlLaneLookAheadTime:       3,
			SpeedControlMinLookAheadDistance:    800,
			SteeringControlLaneLookAheadTime:    0.75,
			SteeringControlMinLookAheadDistance: 400,
			SpeedPID:                            PIDParams{P: 0.5, I: 0.5, IntegralWindow: 1, D: 0.5},
			SteeringPID:                         PIDParams{P: 0.5, I: 0.5, IntegralWindow: 1, D: 0.5},
			SpeedPIDBrakeMultiplier:             5,
			SpeedCoastThreshold:                 0.01,
			MaxSteeringAngle:                    50,
			LateralOffsetMax:                    60,
			DownstreamFlowDensityQueryFraction:  0.1,
			ForgetRadiusScale:                   3,
			ForgetAlignmentRange:                Range{1000, 2500},
			LaneChange: LaneChange{
				Enabled:                                 true,
				MinSecondsUntilDecision:                 30,
				MaxSecondsUntilDecision:                 60,
				RetrySeconds:                            5,
				BaseSecondsToExecute:                    3,
				AdditionalSecondsPerVehicleLength:       0.0015,
				MinDistanceVehicleLengthScale:           5,
				SearchDistanceScale:                     1.5,
				TransverseSpreadFromStartOfLaneFraction: 0.4,
				MaxSideAccessoryLength:                  10,
				MaxNextVehicles:                         4,
			},
		},
		Obstacle: Obstacle{
			SearchRadius: 10000,
			SearchHeight: 500,
		},
		Intersection: Intersection{
			StandardTrafficGoSeconds:                      20,
			StandardMinimumTrafficGoSeconds:               5,
			StandardCrosswalkGoSeconds:                    10,
			StandardTrafficPrepareToStopSeconds:           2,
			FourWayUnidirectionalStraightRightLeftSeconds: 10,
			FourWayUnidirectionalStraightRightSeconds:     10,
			FourWayBidirectionalStraightRightSeconds:      10,
			FreewayIncomingTrafficGoDurationScale:         1.5,
			MinPedestriansForCrossingAtTrafficLights:      3,
			MinPedestriansForCrossingAtStopSigns:          3,
			TrafficLightPedestrianLaneOpenProbability:     1.0,
			StopSignPedestrianLaneOpenProbability:         0.2,
			StallAlertFrames:                              1800,
			StallForceAdvanceSeconds:                      0,
		},
		Density: Density{
			Enabled:                               true,
			IntervalFrames:                        1,
			NumPartitions:                         10,
			NumBusiestLanesToTransferFrom:         50,
			NumLeastBusiestLanesToTransferTo:      100,
			LeastBusiestLaneMaxDensity:            0.5,
			MinTransferDistance:                   50000,
			BusiestLaneDistanceToViewerRange:      Range{50000, math.MaxFloat64},
			LeastBusiestLaneDistanceToViewerRange: Range{50000, math.MaxFloat64},
			VisibleRadius:                         50000,
		},
		Output: Output{
			VehicleInterval: 30,
			LaneInterval:    30,
		},
	}
}

// Load 以默认配置为基础解析YAML并校验
// 参数：data-YAML文本
// 返回：校验通过的配置
func Load(data []byte) (Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return Config{}, fmt.Errorf("config file load err: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate 校验配置取值范围
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}
	check(c.Control.Step.Interval > 0, "control.step.interval must be positive, got %v", c.Control.Step.Interval)
	check(c.Control.Step.Total >= 0, "control.step.total must not be negative, got %v", c.Control.Step.Total)
	check(c.Control.HeartbeatInterval > 0, "control.heartbeat_interval must be positive, got %v", c.Control.HeartbeatInterval)

	check(c.Lane.DefaultMaxDensity >= 0, "lane.default_max_density must not be negative")
	check(c.Lane.TurnAngleThreshold > 0 && c.Lane.TurnAngleThreshold < 90, "lane.turn_angle_threshold must be in (0,90)")
	for i, sl := range c.Lane.SpeedLimits {
		check(sl.SpeedLimitMPH >= 0, "lane.speed_limits[%d] must not be negative", i)
	}

	v := &c.Vehicle
	for name, r := range map[string]Range{
		"ideal_time_to_next_vehicle_range":       v.IdealTimeToNextVehicleRange,
		"minimum_distance_to_next_vehicle_range": v.MinimumDistanceToNextVehicleRange,
		"stopping_distance_range":                v.StoppingDistanceRange,
		"obstacle_avoidance_braking_time_range":  v.ObstacleAvoidanceBrakingTimeRange,
		"minimum_distance_to_obstacle_range":     v.MinimumDistanceToObstacleRange,
		"forget_alignment_range":                 v.ForgetAlignmentRange,
	} {
		check(r.Min >= 0 && r.Min <= r.Max, "vehicle.%s must satisfy 0 <= min <= max, got %+v", name, r)
	}
	check(v.NoisePeriod > 0, "vehicle.noise_period must be positive")
	check(v.Acceleration > 0 && v.Deceleration > 0, "vehicle.acceleration and vehicle.deceleration must be positive")
	check(v.MaxSteeringAngle > 0, "vehicle.max_steering_angle must be positive")
	check(v.SpeedPIDBrakeMultiplier > 0, "vehicle.speed_pid_brake_multiplier must be positive")
	check(lo.Clamp(v.DownstreamFlowDensityQueryFraction, 0, 1) == v.DownstreamFlowDensityQueryFraction,
		"vehicle.downstream_flow_density_query_fraction must be in [0,1]")
	lc := &v.LaneChange
	check(lc.MinSecondsUntilDecision >= 0 && lc.MinSecondsUntilDecision <= lc.MaxSecondsUntilDecision,
		"vehicle.lane_change decision seconds must satisfy 0 <= min <= max")
	check(lc.RetrySeconds > 0, "vehicle.lane_change.retry_seconds must be positive")
	check(lc.MaxNextVehicles > 0, "vehicle.lane_change.max_next_vehicles must be positive")

	check(c.Obstacle.SearchRadius > 0, "obstacle.search_radius must be positive")

	in := &c.Intersection
	check(in.StandardTrafficPrepareToStopSeconds >= 0, "intersection.standard_traffic_prepare_to_stop_seconds must not be negative")
	check(in.StandardTrafficGoSeconds > 0 && in.StandardCrosswalkGoSeconds > 0, "intersection go seconds must be positive")
	check(in.StallForceAdvanceSeconds >= 0, "intersection.stall_force_advance_seconds must not be negative")

	d := &c.Density
	check(d.IntervalFrames > 0, "density.interval_frames must be positive")
	check(d.NumPartitions > 0, "density.num_partitions must be positive")
	check(d.NumBusiestLanesToTransferFrom >= 0 && d.NumLeastBusiestLanesToTransferTo >= 0, "density lane counts must not be negative")

	check(c.Output.VehicleInterval > 0 && c.Output.LaneInterval > 0, "output intervals must be positive")
	return errors.Join(errs...)
}

// Match 判断车道标签是否满足过滤器
func (f LaneTagFilter) Match(tags []string) bool {
	if lo.Some(f.None, tags) {
		return false
	}
	return len(f.Any) == 0 || lo.Some(f.Any, tags)
}

// SpeedLimitForTags 返回标签匹配的第一个限速（厘米/秒），没有匹配项时返回false
func (c *Lane) SpeedLimitForTags(tags []string) (float64, bool) {
	for _, sl := range c.SpeedLimits {
		if sl.Filter.Match(tags) {
			return sl.SpeedLimitMPH * MPHToCMPerSecond, true
		}
	}
	return 0, false
}

// MaxDensityForTags 返回标签匹配的第一个目标最大密度，没有匹配项时返回默认值
func (c *Lane) MaxDensityForTags(tags []string) float64 {
	for _, d := range c.Densities {
		if d.Filter.Match(tags) {
			return d.Density
		}
	}
	return c.DefaultMaxDensity
}
