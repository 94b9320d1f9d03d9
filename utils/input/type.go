package input

import "git.fiblab.net/general/common/v2/geometry"

// Point 输入坐标（厘米）
type Point struct {
	X float64 `yaml:"x" json:"x" bson:"x"`
	Y float64 `yaml:"y" json:"y" bson:"y"`
	Z float64 `yaml:"z,omitempty" json:"z,omitempty" bson:"z,omitempty"`
}

// ToGeometry 转换为geometry.Point
func (p Point) ToGeometry() geometry.Point {
	return geometry.Point{X: p.X, Y: p.Y, Z: p.Z}
}

// Lane 车道静态数据
// 说明：车道分类完全由标签决定，标签名称由配置lane.tags给出
type Lane struct {
	ID         int32    `yaml:"id" json:"id" bson:"id"`
	Points     []Point  `yaml:"points" json:"points" bson:"points"`                                    // 中心线折线
	Tags       []string `yaml:"tags" json:"tags" bson:"tags"`                                          // 车道标签
	SpeedLimit float64  `yaml:"speed_limit,omitempty" json:"speed_limit,omitempty" bson:"speed_limit"` // 限速（厘米/秒），0表示按标签查配置表
	MaxDensity float64  `yaml:"max_density,omitempty" json:"max_density,omitempty" bson:"max_density"` // 目标最大密度，0表示按标签查配置表
	Next       []int32  `yaml:"next,omitempty" json:"next,omitempty" bson:"next"`                      // 后继车道
	Left       *int32   `yaml:"left,omitempty" json:"left,omitempty" bson:"left,omitempty"`            // 左侧同向车道
	Right      *int32   `yaml:"right,omitempty" json:"right,omitempty" bson:"right,omitempty"`         // 右侧同向车道
}

// IntersectionSide 路口的一个进口方向
type IntersectionSide struct {
	Lanes            []int32 `yaml:"lanes" json:"lanes" bson:"lanes"`                                    // 从本侧驶入的路口内车道
	Crosswalks       []int32 `yaml:"crosswalks,omitempty" json:"crosswalks,omitempty" bson:"crosswalks"` // 本侧人行横道
	CrosswalkWaiting []int32 `yaml:"crosswalk_waiting,omitempty" json:"crosswalk_waiting,omitempty" bson:"crosswalk_waiting"`
	HasTrafficLight  bool    `yaml:"has_traffic_light" json:"has_traffic_light" bson:"has_traffic_light"`
}

// Intersection 路口静态数据
type Intersection struct {
	ID                      int32              `yaml:"id" json:"id" bson:"id"`
	Sides                   []IntersectionSide `yaml:"sides" json:"sides" bson:"sides"`
	HiddenCrosswalks        []int32            `yaml:"hidden_crosswalks,omitempty" json:"hidden_crosswalks,omitempty" bson:"hidden_crosswalks"`
	HiddenCrosswalksWaiting []int32            `yaml:"hidden_crosswalks_waiting,omitempty" json:"hidden_crosswalks_waiting,omitempty" bson:"hidden_crosswalks_waiting"`
}

// Vehicle 初始车辆
type Vehicle struct {
	Lane             int32   `yaml:"lane" json:"lane" bson:"lane"`
	Distance         float64 `yaml:"distance" json:"distance" bson:"distance"`
	Radius           float64 `yaml:"radius" json:"radius" bson:"radius"`
	HalfWidth        float64 `yaml:"half_width,omitempty" json:"half_width,omitempty" bson:"half_width"`
	HalfLength       float64 `yaml:"half_length,omitempty" json:"half_length,omitempty" bson:"half_length"`
	Speed            float64 `yaml:"speed,omitempty" json:"speed,omitempty" bson:"speed"`
	TrunkOnly        bool    `yaml:"trunk_only,omitempty" json:"trunk_only,omitempty" bson:"trunk_only"`
	ExternallyDriven bool    `yaml:"externally_driven,omitempty" json:"externally_driven,omitempty" bson:"externally_driven"`
}

// Obstacle 静态或外部障碍物
type Obstacle struct {
	ID       int32    `yaml:"id" json:"id" bson:"id"`
	Position Point    `yaml:"position" json:"position" bson:"position"`
	Velocity Point    `yaml:"velocity,omitempty" json:"velocity,omitempty" bson:"velocity"`
	Radius   float64  `yaml:"radius" json:"radius" bson:"radius"`
	Tags     []string `yaml:"tags,omitempty" json:"tags,omitempty" bson:"tags"`
}

// Pedestrian 人行横道行人需求
type Pedestrian struct {
	Lane    int32 `yaml:"lane" json:"lane" bson:"lane"`
	Waiting int32 `yaml:"waiting" json:"waiting" bson:"waiting"`
	OnLane  int32 `yaml:"on_lane" json:"on_lane" bson:"on_lane"`
}

// Network 路网文件的根结构
type Network struct {
	Lanes         []Lane         `yaml:"lanes" json:"lanes" bson:"lanes"`
	Intersections []Intersection `yaml:"intersections" json:"intersections" bson:"intersections"`
	Vehicles      []Vehicle      `yaml:"vehicles,omitempty" json:"vehicles,omitempty" bson:"vehicles"`
	Obstacles     []Obstacle     `yaml:"obstacles,omitempty" json:"obstacles,omitempty" bson:"obstacles"`
	Pedestrians   []Pedestrian   `yaml:"pedestrians,omitempty" json:"pedestrians,omitempty" bson:"pedestrians"`
}
