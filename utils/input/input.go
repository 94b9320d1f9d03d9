package input

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"git.fiblab.net/general/common/v2/mongoutil"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"gopkg.in/yaml.v2"
)

// Input 仿真输入数据
// 功能：存储路网、路口、初始车辆、障碍物与行人需求
type Input struct {
	Network
}

// Load 加载输入数据
// 功能：根据配置从路网文件或MongoDB加载全部输入并校验
// 参数：ctx-上下文（用于MongoDB查询），c-输入配置
// 返回：校验通过的输入数据
// 算法说明：
// 1. 配置了file时从单个YAML/JSON文件读取全部数据
// 2. 否则连接MongoDB，逐个集合读取；可选集合未配置时跳过
// 3. 各集合的file字段优先于MongoDB
// 4. 校验ID唯一性与引用完整性
func Load(ctx context.Context, c config.Input) (*Input, error) {
	res := &Input{}
	if c.File != "" {
		n, err := LoadFile(c.File)
		if err != nil {
			return nil, err
		}
		res.Network = *n
	} else {
		var client *mongo.Client
		if c.URI != "" {
			client = mongoutil.NewClient(c.URI)
			defer client.Disconnect(ctx)
		}
		var err error
		if res.Lanes, err = loadCollection[Lane](ctx, client, &c.Lanes); err != nil {
			return nil, err
		}
		if res.Intersections, err = loadCollection[Intersection](ctx, client, &c.Intersections); err != nil {
			return nil, err
		}
		if res.Vehicles, err = loadCollection[Vehicle](ctx, client, c.Vehicles); err != nil {
			return nil, err
		}
		if res.Obstacles, err = loadCollection[Obstacle](ctx, client, c.Obstacles); err != nil {
			return nil, err
		}
		if res.Pedestrians, err = loadCollection[Pedestrian](ctx, client, c.Pedestrians); err != nil {
			return nil, err
		}
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	log.Infof("input loaded: %d lanes, %d intersections, %d vehicles, %d obstacles",
		len(res.Lanes), len(res.Intersections), len(res.Vehicles), len(res.Obstacles))
	return res, nil
}

// LoadFile 从YAML或JSON文件读取路网
// 说明：按扩展名选择解析器，.json使用encoding/json，其余使用yaml.v2
func LoadFile(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read network file %s: %w", path, err)
	}
	return Parse(data, strings.ToLower(filepath.Ext(path)) == ".json")
}

// Parse 解析路网数据
func Parse(data []byte, isJSON bool) (*Network, error) {
	var n Network
	var err error
	if isJSON {
		err = json.Unmarshal(data, &n)
	} else {
		err = yaml.UnmarshalStrict(data, &n)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse network: %w", err)
	}
	return &n, nil
}

// loadCollection 读取单个集合（泛型函数）
// 参数：client-MongoDB客户端，可为nil；path-集合配置，为nil表示未配置
// 说明：path.File非空时读取路网文件并取出对应类型的列表
func loadCollection[T any](ctx context.Context, client *mongo.Client, path *config.InputPath) ([]T, error) {
	if path == nil {
		return nil, nil
	}
	if path.File != "" {
		n, err := LoadFile(path.File)
		if err != nil {
			return nil, err
		}
		return pick[T](n), nil
	}
	if path.DB == "" || path.Col == "" {
		return nil, nil
	}
	if client == nil {
		return nil, fmt.Errorf("collection %s.%s configured without input.uri", path.DB, path.Col)
	}
	log.Infof("start fetching from %s.%s", path.DB, path.Col)
	coll := mongoutil.GetMongoColl(client, *path)
	cursor, err := coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s.%s: %w", path.DB, path.Col, err)
	}
	res := make([]T, 0)
	if err := cursor.All(ctx, &res); err != nil {
		return nil, fmt.Errorf("failed to decode %s.%s: %w", path.DB, path.Col, err)
	}
	log.Infof("finish fetching %d records from %s.%s", len(res), path.DB, path.Col)
	return res, nil
}

func pick[T any](n *Network) []T {
	var v any
	var zero T
	switch any(zero).(type) {
	case Lane:
		v = n.Lanes
	case Intersection:
		v = n.Intersections
	case Vehicle:
		v = n.Vehicles
	case Obstacle:
		v = n.Obstacles
	case Pedestrian:
		v = n.Pedestrians
	}
	res, _ := v.([]T)
	return res
}
