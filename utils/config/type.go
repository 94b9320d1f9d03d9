package config

// InputPath 指定输入数据来源的配置（MongoDB、文件系统）
// 功能：定义数据输入路径的配置结构，支持MongoDB与文件两种数据源
type InputPath struct {
	DB   string `yaml:"db"`             // 数据库名
	Col  string `yaml:"col"`            // 集合名
	File string `yaml:"file,omitempty"` // 文件路径（优先级高于MongoDB）
}

// GetDb 获取数据库名
func (p InputPath) GetDb() string {
	return p.DB
}

// GetColl 获取集合名
func (p InputPath) GetColl() string {
	return p.Col
}

// Input 指定模拟器所有输入数据的配置项
// 说明：File非空时从单个路网文件（YAML/JSON）加载全部数据，否则逐个集合从MongoDB加载
type Input struct {
	URI           string     `yaml:"uri"`                   // MongoDB连接字符串
	File          string     `yaml:"file,omitempty"`        // 路网文件路径
	Lanes         InputPath  `yaml:"lanes"`                 // 车道
	Intersections InputPath  `yaml:"intersections"`         // 路口
	Vehicles      *InputPath `yaml:"vehicles,omitempty"`    // 初始车辆
	Obstacles     *InputPath `yaml:"obstacles,omitempty"`   // 障碍物
	Pedestrians   *InputPath `yaml:"pedestrians,omitempty"` // 行人需求（人行横道等待/通行人数）
}

// ControlStep 指定模拟器模拟时间范围和间隔的配置项
type ControlStep struct {
	Start    int32   `yaml:"start"`    // 开始步数
	Total    int32   `yaml:"total"`    // 总步数
	Interval float64 `yaml:"interval"` // 每步的时间间隔
}

// Control 模拟器控制配置
type Control struct {
	Step              ControlStep `yaml:"step"`
	Seed              uint64      `yaml:"seed"`               // 全局随机数种子偏移
	HeartbeatInterval int32       `yaml:"heartbeat_interval"` // 心跳日志间隔步数
}

// Range 数值区间，按车辆随机系数在[Min,Max]之间插值
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Lerp 按alpha在区间内线性插值
func (r Range) Lerp(alpha float64) float64 {
	return r.Min + (r.Max-r.Min)*alpha
}

// Contains 判断value是否在闭区间内
func (r Range) Contains(value float64) bool {
	return value >= r.Min && value <= r.Max
}

// LaneTagFilter 车道标签过滤器
// 说明：Any为空表示匹配所有车道，None中的任一标签出现则不匹配
type LaneTagFilter struct {
	Any  []string `yaml:"any,omitempty"`
	None []string `yaml:"none,omitempty"`
}

// LaneSpeedLimit 按车道标签指定限速
type LaneSpeedLimit struct {
	Filter        LaneTagFilter `yaml:"filter"`
	SpeedLimitMPH float64       `yaml:"speed_limit_mph"` // 限速（英里/小时）
}

// LaneDensity 按车道标签指定目标最大密度
type LaneDensity struct {
	Filter  LaneTagFilter `yaml:"filter"`
	Density float64       `yaml:"density"`
}

// LaneTags 用于车道分类的标签
type LaneTags struct {
	Traffic      string `yaml:"traffic"`       // 机动车道
	Intersection string `yaml:"intersection"`  // 路口内车道
	Trunk        string `yaml:"trunk"`         // 干道
	LaneChanging string `yaml:"lane_changing"` // 允许变道
	Crosswalk    string `yaml:"crosswalk"`     // 人行横道
	Transverse   string `yaml:"transverse"`    // 起点横向相邻的车道（替代汇入/分流的车道），鼓励变道
}

// Lane 车道图配置
type Lane struct {
	Tags                                 LaneTags         `yaml:"tags"`
	SpeedLimits                          []LaneSpeedLimit `yaml:"speed_limits"`
	Densities                            []LaneDensity    `yaml:"densities"`
	DefaultMaxDensity                    float64          `yaml:"default_max_density"`                      // 未匹配密度表时的目标最大密度
	TurnAngleThreshold                   float64          `yaml:"turn_angle_threshold"`                     // 转弯判定角度（度）
	BoundPadding                         float64          `yaml:"bound_padding"`                            // 车道包围盒外扩距离
	DownstreamFlowDensityMixtureFraction float64          `yaml:"downstream_flow_density_mixture_fraction"` // 下游流密度混合比例
}

// PIDParams PID控制器参数
type PIDParams struct {
	P              float64 `yaml:"p"`
	I              float64 `yaml:"i"`
	IntegralWindow float64 `yaml:"integral_window"`
	D              float64 `yaml:"d"`
}

// LaneChange 变道配置
type LaneChange struct {
	Enabled                                 bool    `yaml:"enabled"`
	MinSecondsUntilDecision                 float64 `yaml:"min_seconds_until_decision"`
	MaxSecondsUntilDecision                 float64 `yaml:"max_seconds_until_decision"`
	RetrySeconds                            float64 `yaml:"retry_seconds"`
	BaseSecondsToExecute                    float64 `yaml:"base_seconds_to_execute"`
	AdditionalSecondsPerVehicleLength       float64 `yaml:"additional_seconds_per_vehicle_length"` // 每单位车长额外耗时
	MinDistanceVehicleLengthScale           float64 `yaml:"min_distance_vehicle_length_scale"`
	SearchDistanceScale                     float64 `yaml:"search_distance_scale"`
	TransverseSpreadFromStartOfLaneFraction float64 `yaml:"transverse_spread_from_start_of_lane_fraction"`
	MaxSideAccessoryLength                  float64 `yaml:"max_side_accessory_length"` // 后视镜等侧向附件长度
	MaxNextVehicles                         int     `yaml:"max_next_vehicles"`         // 变道前车列表容量
}

// Vehicle 车辆行为配置（跟驰、避障、PID、变道）
type Vehicle struct {
	SpeedLimitVariancePct               float64    `yaml:"speed_limit_variance_pct"`
	SpeedVariancePct                    float64    `yaml:"speed_variance_pct"`
	SpeedLimitBlendTime                 float64    `yaml:"speed_limit_blend_time"`
	NoisePeriod                         float64    `yaml:"noise_period"`
	Acceleration                        float64    `yaml:"acceleration"`
	AccelerationVariancePct             float64    `yaml:"acceleration_variance_pct"`
	Deceleration                        float64    `yaml:"deceleration"`
	DecelerationVariancePct             float64    `yaml:"deceleration_variance_pct"`
	TurnSpeedScale                      float64    `yaml:"turn_speed_scale"`
	SpeedDeltaBrakingThreshold          float64    `yaml:"speed_delta_braking_threshold"`
	IdealTimeToNextVehicleRange         Range      `yaml:"ideal_time_to_next_vehicle_range"`
	MinimumDistanceToNextVehicleRange   Range      `yaml:"minimum_distance_to_next_vehicle_range"`
	StoppingDistanceRange               Range      `yaml:"stopping_distance_range"`
	StopSignBrakingTime                 float64    `yaml:"stop_sign_braking_time"`
	ObstacleAvoidanceBrakingTimeRange   Range      `yaml:"obstacle_avoidance_braking_time_range"`
	MinimumDistanceToObstacleRange      Range      `yaml:"minimum_distance_to_obstacle_range"`
	NextVehicleAvoidanceBrakingPower    float64    `yaml:"next_vehicle_avoidance_braking_power"`
	ObstacleAvoidanceBrakingPower       float64    `yaml:"obstacle_avoidance_braking_power"`
	StopSignBrakingPower                float64    `yaml:"stop_sign_braking_power"`
	SpeedControlLaneLookAheadTime       float64    `yaml:"speed_control_lane_look_ahead_time"`
	SpeedControlMinLookAheadDistance    float64    `yaml:"speed_control_min_look_ahead_distance"`
	SteeringControlLaneLookAheadTime    float64    `yaml:"steering_control_lane_look_ahead_time"`
	SteeringControlMinLookAheadDistance float64    `yaml:"steering_control_min_look_ahead_distance"`
	SpeedPID                            PIDParams  `yaml:"speed_pid"`
	SteeringPID                         PIDParams  `yaml:"steering_pid"`
	SpeedPIDBrakeMultiplier             float64    `yaml:"speed_pid_brake_multiplier"`
	SpeedCoastThreshold                 float64    `yaml:"speed_coast_threshold"`
	MaxSteeringAngle                    float64    `yaml:"max_steering_angle"` // 最大转向角（度）
	LateralOffsetMax                    float64    `yaml:"lateral_offset_max"`
	DownstreamFlowDensityQueryFraction  float64    `yaml:"downstream_flow_density_query_fraction"` // 按功能密度而非下游流密度选择下一车道的概率
	ForgetRadiusScale                   float64    `yaml:"forget_radius_scale"`                    // 超过(r1+r2)*scale距离的前车不遗忘
	ForgetAlignmentRange                Range      `yaml:"forget_alignment_range"`                 // 按距离混合朝向对齐缩放的区间
	LaneChange                          LaneChange `yaml:"lane_change"`
}

// Obstacle 障碍物索引配置
type Obstacle struct {
	SearchRadius float64       `yaml:"search_radius"`
	SearchHeight float64       `yaml:"search_height"`
	LaneFilter   LaneTagFilter `yaml:"lane_filter"`
}

// Intersection 路口控制配置
type Intersection struct {
	StandardTrafficGoSeconds                      float64 `yaml:"standard_traffic_go_seconds"`
	StandardMinimumTrafficGoSeconds               float64 `yaml:"standard_minimum_traffic_go_seconds"`
	StandardCrosswalkGoSeconds                    float64 `yaml:"standard_crosswalk_go_seconds"`
	StandardTrafficPrepareToStopSeconds           float64 `yaml:"standard_traffic_prepare_to_stop_seconds"`
	FourWayUnidirectionalStraightRightLeftSeconds float64 `yaml:"four_way_unidirectional_straight_right_left_seconds"`
	FourWayUnidirectionalStraightRightSeconds     float64 `yaml:"four_way_unidirectional_straight_right_seconds"`
	FourWayBidirectionalStraightRightSeconds      float64 `yaml:"four_way_bidirectional_straight_right_seconds"`
	FreewayIncomingTrafficGoDurationScale         float64 `yaml:"freeway_incoming_traffic_go_duration_scale"`
	MinPedestriansForCrossingAtTrafficLights      int32   `yaml:"min_pedestrians_for_crossing_at_traffic_lights"`
	MinPedestriansForCrossingAtStopSigns          int32   `yaml:"min_pedestrians_for_crossing_at_stop_signs"`
	TrafficLightPedestrianLaneOpenProbability     float64 `yaml:"traffic_light_pedestrian_lane_open_probability"`
	StopSignPedestrianLaneOpenProbability         float64 `yaml:"stop_sign_pedestrian_lane_open_probability"`
	StallAlertFrames                              int32   `yaml:"stall_alert_frames"`          // 等待清空超过该帧数时告警
	StallForceAdvanceSeconds                      float64 `yaml:"stall_force_advance_seconds"` // 大于0时，等待清空超时后强制切换相位
}

// Density 密度管理配置
type Density struct {
	Enabled                               bool    `yaml:"enabled"`
	IntervalFrames                        int32   `yaml:"interval_frames"`
	NumPartitions                         int     `yaml:"num_partitions"`
	NumBusiestLanesToTransferFrom         int     `yaml:"num_busiest_lanes_to_transfer_from"`
	NumLeastBusiestLanesToTransferTo      int     `yaml:"num_least_busiest_lanes_to_transfer_to"`
	LeastBusiestLaneMaxDensity            float64 `yaml:"least_busiest_lane_max_density"`
	MinTransferDistance                   float64 `yaml:"min_transfer_distance"`
	BusiestLaneDistanceToViewerRange      Range   `yaml:"busiest_lane_distance_to_viewer_range"`
	LeastBusiestLaneDistanceToViewerRange Range   `yaml:"least_busiest_lane_distance_to_viewer_range"`
	ViewerX                               float64 `yaml:"viewer_x"`
	ViewerY                               float64 `yaml:"viewer_y"`
	VisibleRadius                         float64 `yaml:"visible_radius"` // 观察者可见半径，半径内车辆不参与转移
}

// Output 输出配置
type Output struct {
	Dir             string `yaml:"dir"`              // 输出目录，为空则不输出
	VehicleInterval int32  `yaml:"vehicle_interval"` // 车辆记录间隔步数
	LaneInterval    int32  `yaml:"lane_interval"`    // 车道与路口记录间隔步数
}

// Config YAML配置文件的根结构
type Config struct {
	Input        Input        `yaml:"input"`        // 输入
	Control      Control      `yaml:"control"`      // 模拟过程控制
	Lane         Lane         `yaml:"lane"`         // 车道图
	Vehicle      Vehicle      `yaml:"vehicle"`      // 车辆行为
	Obstacle     Obstacle     `yaml:"obstacle"`     // 障碍物
	Intersection Intersection `yaml:"intersection"` // 路口
	Density      Density      `yaml:"density"`      // 密度管理
	Output       Output       `yaml:"output"`       // 输出
}
