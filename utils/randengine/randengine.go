// 随机数引擎，包装了golang.org/x/exp/rand，提供了一些常用的随机数生成方法
package randengine

import (
	"log"
	"sync"

	"golang.org/x/exp/rand"
)

// Engine 随机数引擎
// 功能：提供可复现的随机数生成功能，支持多种分布和线程安全操作
// 说明：基于golang.org/x/exp/rand库，种子偏移量由配置control.seed提供
type Engine struct {
	*rand.Rand            // 底层随机数生成器
	mtx        sync.Mutex // 互斥锁，用于线程安全操作
}

// New 创建随机数引擎
// 参数：seed-实体自身的随机数种子，offset-全局种子偏移量（来自配置）
func New(seed, offset uint64) *Engine {
	return &Engine{Rand: rand.New(rand.NewSource(seed + offset))}
}

// DiscreteDistribution 按给定概率分布生成随机数（非线程安全）
// 功能：根据权重数组生成离散分布的随机数
// 参数：weight-权重数组，每个元素表示对应索引的概率权重
// 返回：随机生成的索引值（0到len(weight)-1）
func (e *Engine) DiscreteDistribution(weight []float64) int32 {
	random := .0
	for _, w := range weight {
		random += w
	}
	random *= e.Float64()
	sum := 0.
	for i, w := range weight {
		sum += w
		if sum > random {
			return int32(i)
		}
	}
	log.Panicf("randengine: DiscreteDistribution: sum: %f random: %f", sum, random)
	return -1
}

// PTrue 以指定概率返回true（非线程安全）
func (e *Engine) PTrue(p float64) bool {
	return e.Float64() < p
}

// PTrueSafe 以指定概率返回true（线程安全）
func (e *Engine) PTrueSafe(p float64) bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.Float64() < p
}

// IntnSafe 随机生成[0,n)整数（线程安全）
func (e *Engine) IntnSafe(n int) int {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.Intn(n)
}

// Float64Safe 随机生成[0,1)浮点数（线程安全）
func (e *Engine) Float64Safe() float64 {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.Float64()
}

// RangeSafe 在[min,max]范围内均匀采样（线程安全）
func (e *Engine) RangeSafe(min, max float64) float64 {
	return min + (max-min)*e.Float64Safe()
}

// DiscreteDistributionSafe 按给定概率分布生成随机数（线程安全）
// 返回：随机生成的索引值（0到len(weight)），权重全为0时返回len(weight)
func (e *Engine) DiscreteDistributionSafe(weight []float64) int32 {
	random := .0
	for _, w := range weight {
		random += w
	}
	random *= e.Float64Safe()
	sum := 0.
	for i, w := range weight {
		sum += w
		if sum > random {
			return int32(i)
		}
	}
	return int32(len(weight))
}
