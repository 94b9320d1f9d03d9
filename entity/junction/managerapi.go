package junction

import (
	"fmt"

	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/junction/trafficlight"
)

type periodSetting struct {
	id        int32
	index     int
	remaining float64
}

// SetPeriod 请求将路口跳转到指定相位
// 功能：校验路口与相位后写入缓冲区，下一帧Prepare阶段关闭当前相位，清空后完成跳转
// 参数：id-路口ID，index-相位下标，remaining-跳转后相位的剩余时间
// 返回：路口不存在、相位下标越界或剩余时间为负时返回错误
func (m *JunctionManager) SetPeriod(id int32, index int, remaining float64) error {
	j, err := m.GetOrError(id)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(j.periods) {
		return fmt.Errorf("%w: %d of %d periods in junction %d", ErrInvalidPeriod, index, len(j.periods), id)
	}
	if remaining < 0 {
		return fmt.Errorf("%w: negative remaining time %v", ErrInvalidPeriod, remaining)
	}
	m.bufferMtx.Lock()
	defer m.bufferMtx.Unlock()
	m.periodBuffer = append(m.periodBuffer, periodSetting{id: id, index: index, remaining: remaining})
	return nil
}

// Restart 请求重启路口
// 说明：下一帧Prepare阶段关闭全部相位的车道，随后按正常流程清空与开放
func (m *JunctionManager) Restart(id int32) error {
	if _, err := m.GetOrError(id); err != nil {
		return err
	}
	m.bufferMtx.Lock()
	defer m.bufferMtx.Unlock()
	m.restartBuffer = append(m.restartBuffer, id)
	return nil
}

// TrafficLights 获取路口信号灯的当前状态
func (m *JunctionManager) TrafficLights(id int32) ([]trafficlight.TrafficLight, error) {
	j, err := m.GetOrError(id)
	if err != nil {
		return nil, err
	}
	return j.TrafficLights(), nil
}
